package stealth

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/user/autoengage/internal/pacing"
)

// HumanAction drives page input at a human pace.
type HumanAction struct {
	KeystrokeMin time.Duration
	KeystrokeMax time.Duration
}

func New() *HumanAction {
	return &HumanAction{KeystrokeMin: 50 * time.Millisecond, KeystrokeMax: 200 * time.Millisecond}
}

// ThinkDelay simulates a user thinking before performing an action
func (h *HumanAction) ThinkDelay(ctx context.Context, min, max time.Duration) error {
	t := time.NewTimer(pacing.Between(min, max))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TypeAction types text into the element at selector one key at a time.
func (h *HumanAction) TypeAction(ctx context.Context, page *rod.Page, selector, text string) error {
	el, err := page.Element(selector)
	if err != nil {
		return err
	}

	err = el.Focus()
	if err != nil {
		return err
	}

	for _, r := range text {
		// Variable typing speed
		if err := h.ThinkDelay(ctx, h.KeystrokeMin, h.KeystrokeMax); err != nil {
			return err
		}

		err = page.Keyboard.Type(input.Key(r))
		if err != nil {
			return err
		}
	}
	return nil
}
