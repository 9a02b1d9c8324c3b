package wiki

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/kbsync/internal/utils"
)

const (
	DefaultBaseURL   = "https://open.feishu.cn/open-apis"
	DefaultPageSize  = 50
	DefaultRateLimit = 5
	DefaultTimeout   = 30 * time.Second
)

var ErrNoTargets = errors.New("no space id or space name configured")

type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	AppID      string        `mapstructure:"app_id"`
	AppSecret  string        `mapstructure:"app_secret"`
	SpaceIDs   []string      `mapstructure:"space_ids"`
	SpaceNames []string      `mapstructure:"space_names"`
	PageSize   int           `mapstructure:"page_size"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Validate checks credentials and targets. Zero values fall back to defaults.
func (c *Config) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("app_id required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("app_secret required")
	}
	if c.BaseURL != "" && !utils.IsValidURL(c.BaseURL) {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.PageSize < 0 || c.PageSize > 50 {
		return fmt.Errorf("page_size must be between 1 and 50")
	}
	if len(c.SpaceIDs) == 0 && len(c.SpaceNames) == 0 {
		return ErrNoTargets
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.RateBurst <= 0 {
		out.RateBurst = max(1, int(out.RateLimit))
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}
