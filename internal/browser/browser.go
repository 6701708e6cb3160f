package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

type Client struct {
	Browser *rod.Browser
}

// New launches a local Chromium. dataDir keeps the profile between runs so a valid
// session survives restarts.
func New(headless bool, dataDir string) (*Client, error) {
	l := launcher.New().
		Headless(headless).
		UserDataDir(dataDir).
		Set("disable-blink-features", "AutomationControlled")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &Client{Browser: b}, nil
}

// NewStealthPage opens url in a new tab bound to ctx.
func (c *Client) NewStealthPage(ctx context.Context, url string) (*rod.Page, error) {
	page, err := c.Browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	return page.Context(ctx), nil
}

func (c *Client) Close() error {
	return c.Browser.Close()
}
