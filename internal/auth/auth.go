package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/user/autoengage/internal/logging"
	"github.com/user/autoengage/internal/retry"
	"github.com/user/autoengage/internal/stealth"
)

// ErrCaptcha is returned when the login page asks for a captcha.
var ErrCaptcha = errors.New("captcha detected - automation paused")

type Manager struct {
	Stealth *stealth.HumanAction
	AppURL  string
}

func New(s *stealth.HumanAction, appURL string) *Manager {
	return &Manager{Stealth: s, AppURL: strings.TrimSuffix(appURL, "/")}
}

// Login signs in through the web form and returns the session cookies. A still valid
// browser session is reused. When otp is empty the arithmetic checkpoint is solved from
// the page.
func (m *Manager) Login(ctx context.Context, page *rod.Page, username, password, otp string) ([]*http.Cookie, error) {
	logging.Logger.Infof("Attempting browser login for user: %s", username)

	// Go to home page first to check if session is still valid
	if err := page.Navigate(m.AppURL + "/"); err != nil {
		return nil, fmt.Errorf("initial navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	currURL, err := pageURL(page)
	if err != nil {
		return nil, err
	}
	if !onLoginFlow(currURL) {
		logging.Logger.Info("Session still valid, skipping login.")
		return m.cookies(page)
	}

	if !strings.Contains(currURL, "/login") {
		if err := page.Navigate(m.AppURL + "/login"); err != nil {
			return nil, err
		}
		if err := page.WaitLoad(); err != nil {
			return nil, err
		}
	}

	if found, _, err := page.Has("#captcha-box"); err == nil && found {
		logging.Logger.Warn("SECURITY CHECKPOINT: Captcha detected. Manual intervention required.")
		return nil, ErrCaptcha
	}

	logging.Logger.Debug("Typing username...")
	if err := m.Stealth.TypeAction(ctx, page, "#username-field", username); err != nil {
		return nil, fmt.Errorf("username field: %w", err)
	}
	logging.Logger.Debug("Typing password...")
	if err := m.Stealth.TypeAction(ctx, page, "#password-field", password); err != nil {
		return nil, fmt.Errorf("password field: %w", err)
	}
	if err := m.Stealth.ThinkDelay(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
		return nil, err
	}

	if err := m.submit(ctx, page, "#login-submit"); err != nil {
		return nil, err
	}

	// Check for login failures
	if errEl, err := page.Timeout(time.Second).Element(".error"); err == nil {
		msg, _ := errEl.Text()
		return nil, fmt.Errorf("login failed: %s", msg)
	}

	currURL, err = pageURL(page)
	if err != nil {
		return nil, err
	}
	logging.Logger.Infof("Current URL after login attempt: %s", currURL)

	if strings.Contains(currURL, "/2fa") {
		if err := m.checkpoint(ctx, page, otp); err != nil {
			return nil, err
		}
	}

	finalURL, err := pageURL(page)
	if err != nil {
		return nil, err
	}
	if onLoginFlow(finalURL) {
		return nil, fmt.Errorf("failed to reach dashboard, current URL: %s", finalURL)
	}

	logging.Logger.Info("Authentication successful")
	return m.cookies(page)
}

func (m *Manager) checkpoint(ctx context.Context, page *rod.Page, otp string) error {
	logging.Logger.Info("Security checkpoint (2FA) detected")

	code := otp
	if code == "" {
		puzzleEl, err := page.Element("#puzzle-text")
		if err != nil {
			return fmt.Errorf("2FA puzzle text not found: %w", err)
		}
		text, err := puzzleEl.Text()
		if err != nil {
			return err
		}
		solution, err := solvePuzzle(text)
		if err != nil {
			return fmt.Errorf("failed to solve security puzzle: %w", err)
		}
		logging.Logger.Infof("Puzzle %q solved: %d", text, solution)
		code = strconv.Itoa(solution)
	}

	if err := m.Stealth.TypeAction(ctx, page, "#otp-field", code); err != nil {
		return fmt.Errorf("failed to type OTP: %w", err)
	}
	if err := m.Stealth.ThinkDelay(ctx, 500*time.Millisecond, time.Second); err != nil {
		return err
	}
	if err := m.submit(ctx, page, "#otp-submit"); err != nil {
		return err
	}

	if found, errEl, err := page.Has(".error"); err == nil && found {
		msg, _ := errEl.Text()
		return fmt.Errorf("2FA verification failed: %s", msg)
	}
	return nil
}

// submit clicks the button at selector and waits for the resulting navigation.
func (m *Manager) submit(ctx context.Context, page *rod.Page, selector string) error {
	return retry.WithExponentialBackoff(ctx, "Click "+selector, 3, time.Second, func() error {
		btn, err := page.Element(selector)
		if err != nil {
			return fmt.Errorf("%s not found: %w", selector, err)
		}
		wait := page.WaitNavigation(proto.PageLifecycleEventNameLoad)
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}
		wait()
		return nil
	})
}

func (m *Manager) cookies(page *rod.Page) ([]*http.Cookie, error) {
	raw, err := page.Cookies([]string{m.AppURL})
	if err != nil {
		return nil, fmt.Errorf("read session cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func pageURL(page *rod.Page) (string, error) {
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}
	return info.URL, nil
}

func onLoginFlow(u string) bool {
	return strings.Contains(u, "/login") || strings.Contains(u, "/2fa")
}

func solvePuzzle(text string) (int, error) {
	parts := strings.Fields(text)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid puzzle format: %s", text)
	}

	n1, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	n2, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}

	switch parts[1] {
	case "+":
		return n1 + n2, nil
	case "-":
		return n1 - n2, nil
	case "*":
		return n1 * n2, nil
	default:
		return 0, fmt.Errorf("unknown operator: %s", parts[1])
	}
}
