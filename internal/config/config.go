package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/pacing"
	"gopkg.in/yaml.v3"
)

// Limit is the throttling policy of one action type. Replies are their own type with
// their own Limit: a comment max_per_day of 0 stops comments but no longer disables
// replies, set reply max_per_day to 0 for that.
type Limit struct {
	MaxPerDay int           `yaml:"max_per_day"`
	DelayMin  time.Duration `yaml:"delay_min"`
	DelayMax  time.Duration `yaml:"delay_max"`
}

type Config struct {
	APIURL       string `env:"API_URL" envDefault:"http://localhost:8080/api/v1/"`
	AppURL       string `env:"APP_URL" envDefault:"http://localhost:8080"`
	Username     string `env:"APP_USERNAME" envDefault:"admin"`
	Password     string `env:"APP_PASSWORD" envDefault:"password123"`
	OTP          string `env:"APP_OTP"`
	Headless     bool   `env:"HEADLESS" envDefault:"false"`
	BrowserLogin bool   `env:"BROWSER_LOGIN" envDefault:"false"`

	DBPath       string `env:"DB_PATH" envDefault:"autoengage.db"`
	StateBackend string `env:"STATE_BACKEND" envDefault:"sqlite"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	BlockedActionsProtection bool          `env:"BLOCKED_ACTIONS_PROTECTION" envDefault:"true"`
	BlockedCooldown          time.Duration `env:"BLOCKED_COOLDOWN" envDefault:"0s"`
	RequestsPerSecond        float64       `env:"REQUESTS_PER_SECOND" envDefault:"1"`
	UserCacheSize            int           `env:"USER_CACHE_SIZE" envDefault:"10000"`
	LimitsFile               string        `env:"LIMITS_FILE"`

	MetricsListen string `env:"METRICS_LISTEN"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Limits map[action.Type]Limit
}

// DefaultLimits are conservative daily quotas and pauses per action type.
func DefaultLimits() map[action.Type]Limit {
	return map[action.Type]Limit{
		action.Like:     {MaxPerDay: 1000, DelayMin: 10 * time.Second, DelayMax: 30 * time.Second},
		action.Unlike:   {MaxPerDay: 1000, DelayMin: 10 * time.Second, DelayMax: 30 * time.Second},
		action.Comment:  {MaxPerDay: 100, DelayMin: 60 * time.Second, DelayMax: 120 * time.Second},
		action.Reply:    {MaxPerDay: 100, DelayMin: 60 * time.Second, DelayMax: 120 * time.Second},
		action.Follow:   {MaxPerDay: 350, DelayMin: 30 * time.Second, DelayMax: 90 * time.Second},
		action.Unfollow: {MaxPerDay: 350, DelayMin: 30 * time.Second, DelayMax: 90 * time.Second},
		action.Message:  {MaxPerDay: 50, DelayMin: 60 * time.Second, DelayMax: 180 * time.Second},
	}
}

// Load reads an optional .env file, the environment and the optional limits file.
func Load() (*Config, error) {
	// a missing .env is fine, the environment is used as is
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Limits = DefaultLimits()
	if cfg.LimitsFile != "" {
		if err := cfg.loadLimitsFile(cfg.LimitsFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLimitsFile overrides default limits with the types present in a YAML file:
//
//	comment:
//	  max_per_day: 20
//	  delay_min: 45s
//	  delay_max: 2m
func (c *Config) loadLimitsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read limits file: %w", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse limits file %s: %w", path, err)
	}

	for name, node := range raw {
		typ, err := action.Parse(name)
		if err != nil {
			return fmt.Errorf("limits file %s: %w", path, err)
		}
		// start from the defaults so a file can override a single field
		lim := c.Limits[typ]
		if err := node.Decode(&lim); err != nil {
			return fmt.Errorf("limits file %s: %s: %w", path, name, err)
		}
		c.Limits[typ] = lim
	}
	return nil
}

// Validate rejects configuration the throttling core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for _, typ := range action.All {
		lim, ok := c.Limits[typ]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: no limit configured", typ))
			continue
		}
		if lim.MaxPerDay < 0 {
			errs = append(errs, fmt.Errorf("%s: max_per_day must not be negative, got %d", typ, lim.MaxPerDay))
		}
		if lim.DelayMin < 0 || lim.DelayMax < 0 {
			errs = append(errs, fmt.Errorf("%s: delays must not be negative", typ))
		}
		if lim.DelayMax < lim.DelayMin {
			errs = append(errs, fmt.Errorf("%s: delay_max %s is below delay_min %s", typ, lim.DelayMax, lim.DelayMin))
		}
	}
	for typ := range c.Limits {
		if !typ.Valid() {
			errs = append(errs, fmt.Errorf("unknown action type %q", typ))
		}
	}

	switch c.StateBackend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q (want memory, sqlite or redis)", c.StateBackend))
	}
	if c.BlockedCooldown < 0 {
		errs = append(errs, fmt.Errorf("BLOCKED_COOLDOWN must not be negative"))
	}
	return errors.Join(errs...)
}

// DailyLimits returns the per-type quotas.
func (c *Config) DailyLimits() map[action.Type]int {
	out := make(map[action.Type]int, len(c.Limits))
	for t, l := range c.Limits {
		out[t] = l.MaxPerDay
	}
	return out
}

func (c *Config) PacingRanges() map[action.Type]pacing.Range {
	out := make(map[action.Type]pacing.Range, len(c.Limits))
	for t, l := range c.Limits {
		out[t] = pacing.Range{Min: l.DelayMin, Max: l.DelayMax}
	}
	return out
}
