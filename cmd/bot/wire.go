package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/auth"
	"github.com/user/autoengage/internal/blocked"
	"github.com/user/autoengage/internal/bot"
	"github.com/user/autoengage/internal/browser"
	"github.com/user/autoengage/internal/config"
	"github.com/user/autoengage/internal/eligibility"
	"github.com/user/autoengage/internal/gate"
	"github.com/user/autoengage/internal/logging"
	"github.com/user/autoengage/internal/pacing"
	"github.com/user/autoengage/internal/platform"
	"github.com/user/autoengage/internal/quota"
	"github.com/user/autoengage/internal/stealth"
	"github.com/user/autoengage/internal/storage"
)

// runtime is everything a command needs, built from the environment.
type runtime struct {
	cfg     *config.Config
	quota   *quota.Tracker
	gate    *gate.Gate
	bot     *bot.Service
	sqlite  *storage.Store
	metrics *http.Server
	closers []func() error
}

func (rt *runtime) Close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.metrics.Shutdown(ctx)
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logging.Logger.Warnf("close: %v", err)
		}
	}
}

// setup wires config, logging, state, the platform client and the gate. With
// session false no login is made, which is enough for the status and clear commands.
func setup(ctx context.Context, session bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Init(cfg.LogLevel); err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		states action.StateStore
		log    bot.ActivityLog
	)
	switch cfg.StateBackend {
	case "sqlite":
		s, err := storage.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to init storage: %w", err)
		}
		rt.sqlite = s
		rt.closers = append(rt.closers, s.Close)
		states, log = s, s
	case "redis":
		s, err := storage.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, s.Close)
		states = s
	case "memory":
		logging.Logger.Warn("STATE_BACKEND=memory, quotas and blocks are lost on exit")
	}

	popts := platform.DefaultOptions()
	popts.RequestsPerSecond = cfg.RequestsPerSecond
	popts.UserCacheSize = cfg.UserCacheSize
	client, err := platform.New(cfg.APIURL, popts)
	if err != nil {
		return nil, err
	}

	actorID := ""
	if session {
		actorID, err = login(ctx, cfg, client)
		if err != nil {
			return nil, err
		}
	}

	rt.quota = quota.New(cfg.DailyLimits())
	opts := []gate.Option{}
	if states != nil {
		opts = append(opts, gate.WithStateStore(states))
	}
	rt.gate = gate.New(client, rt.quota, blocked.New(cfg.BlockedActionsProtection, cfg.BlockedCooldown), pacing.New(cfg.PacingRanges()), opts...)
	if err := rt.gate.Load(ctx); err != nil {
		return nil, err
	}

	rt.bot = bot.New(rt.gate, client, eligibility.New(client), log, actorID)

	if cfg.MetricsListen != "" {
		rt.metrics = serveMetrics(cfg.MetricsListen)
	}

	ok = true
	return rt, nil
}

// login starts a platform session through the API or, with BROWSER_LOGIN, through the
// web form in a real browser whose cookies are then handed to the client.
func login(ctx context.Context, cfg *config.Config, client *platform.Client) (string, error) {
	if !cfg.BrowserLogin {
		id, err := client.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return "", fmt.Errorf("login failed: %w", err)
		}
		return id, nil
	}

	b, err := browser.New(cfg.Headless, "./.browser_data")
	if err != nil {
		return "", fmt.Errorf("failed to init browser: %w", err)
	}
	defer b.Close()

	page, err := b.NewStealthPage(ctx, cfg.AppURL)
	if err != nil {
		return "", err
	}
	cookies, err := auth.New(stealth.New(), cfg.AppURL).Login(ctx, page, cfg.Username, cfg.Password, cfg.OTP)
	if err != nil {
		return "", fmt.Errorf("browser login failed: %w", err)
	}
	client.SetCookies(cookies)

	id, found, err := client.ResolveUsername(ctx, cfg.Username)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("logged in user %s not found", cfg.Username)
	}
	logging.Logger.Infof("browser session adopted for %s (id %s)", cfg.Username, id)
	return id, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.Logger.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}
