package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/user/autoengage/internal/logging"
	"golang.org/x/time/rate"
)

type Options struct {
	// RequestsPerSecond caps raw HTTP requests. Zero or less disables the cap.
	RequestsPerSecond float64
	UserCacheSize     int
	RetryMax          int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	Timeout           time.Duration
}

func DefaultOptions() Options {
	return Options{
		RequestsPerSecond: 1,
		UserCacheSize:     10_000,
		RetryMax:          3,
		RetryWaitMin:      1 * time.Second,
		RetryWaitMax:      10 * time.Second,
		Timeout:           20 * time.Second,
	}
}

// Client talks to the platform's private API. Reads are retried on transient
// failures; action POSTs are sent exactly once.
type Client struct {
	base    *url.URL
	jar     http.CookieJar
	writes  *http.Client
	reads   *http.Client
	limiter *rate.Limiter
	users   *lru.Cache[string, string]
}

func New(apiURL string, opts Options) (*Client, error) {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	cacheSize := opts.UserCacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	users, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(logging.Leveled{})
	reads := retryClient.StandardClient()
	reads.Timeout = opts.Timeout
	reads.Jar = jar

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		base:    base,
		jar:     jar,
		writes:  &http.Client{Timeout: opts.Timeout, Jar: jar},
		reads:   reads,
		limiter: rate.NewLimiter(limit, 1),
		users:   users,
	}, nil
}

// SetCookies adopts an existing session, for example one captured by a browser login.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.jar.SetCookies(c.base, cookies)
}

// apiResponse holds the fields shared by every platform response.
type apiResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Spam          bool   `json:"spam"`
	FeedbackTitle string `json:"feedback_title"`
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return 0, nil, err
	}
	return do(c.reads, req)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(c.writes, req)
}

func do(hc *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func describe(code int, body []byte) string {
	var r apiResponse
	if err := json.Unmarshal(body, &r); err == nil && r.Message != "" {
		return fmt.Sprintf("%d %s", code, r.Message)
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

type loginResponse struct {
	apiResponse
	LoggedInUser userJSON `json:"logged_in_user"`
}

type userJSON struct {
	PK       json.Number `json:"pk"`
	Username string      `json:"username"`
}

// Login starts an API session and returns the logged in user's id.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	code, body, err := c.post(ctx, "accounts/login/", form)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", describe(code, body))
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if resp.Status != "ok" || resp.LoggedInUser.PK == "" {
		return "", fmt.Errorf("login failed: %s", describe(code, body))
	}

	id := resp.LoggedInUser.PK.String()
	c.users.Add(username, id)
	logging.Logger.Infof("logged in as %s (id %s)", username, id)
	return id, nil
}
