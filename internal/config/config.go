package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/dispatch"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/server"
	"github.com/openmined/kbsync/internal/utils"
	"github.com/openmined/kbsync/internal/wiki"
	"github.com/openmined/kbsync/internal/wikisync"
	"github.com/ulule/limiter/v3"
)

const (
	DefaultAddr          = server.DefaultAddr
	DefaultSyncRateLimit = server.DefaultSyncRateLimit
	DefaultDataDir       = "~/.kbsync"
	DefaultLogLevel      = "info"
)

var ErrInvalidPrefix = errors.New("storage prefix must be empty or end with '/'")

// Config is the complete kbsync configuration. Every component receives its
// own section at construction.
type Config struct {
	Wiki    wiki.Config   `mapstructure:"wiki"`
	Storage StorageConfig `mapstructure:"storage"`
	Index   kb.Config     `mapstructure:"index"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Event   EventConfig   `mapstructure:"event"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DataDir string        `mapstructure:"data_dir"`

	// Path is the config file that was read, if any
	Path string `mapstructure:"-"`
}

type StorageConfig struct {
	blob.S3Config `mapstructure:",squash"`
	Prefix        string `mapstructure:"prefix"`
	LedgerName    string `mapstructure:"ledger_name"`
}

// LedgerKey is the object key of the persisted ledger
func (s *StorageConfig) LedgerKey() string {
	return s.Prefix + s.LedgerName
}

type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         bool          `mapstructure:"jitter"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

func (r *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:     r.MaxRetries,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		Jitter:         r.Jitter,
		AttemptTimeout: r.AttemptTimeout,
	}
}

type SyncConfig struct {
	Workers int `mapstructure:"workers"`
}

type EventConfig struct {
	PrefixFilter  string   `mapstructure:"prefix_filter"`
	Include       []string `mapstructure:"include"`
	Ignore        []string `mapstructure:"ignore"`
	Extensions    []string `mapstructure:"extensions"`
	MaxObjectSize int64    `mapstructure:"max_object_size"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	SyncRateLimit string `mapstructure:"sync_rate_limit"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// SlogLevel parses the configured level, defaulting to info
func (l *LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SyncOptions returns the tree walker options
func (c *Config) SyncOptions() wikisync.Options {
	return wikisync.Options{
		SpaceIDs:   c.Wiki.SpaceIDs,
		SpaceNames: c.Wiki.SpaceNames,
		Prefix:     c.Storage.Prefix,
		Workers:    c.Sync.Workers,
	}
}

func (c *Config) HTTPConfig() *server.Config {
	return &server.Config{
		Addr:          c.Server.Addr,
		SyncRateLimit: c.Server.SyncRateLimit,
	}
}

// DispatchOptions returns the event dispatcher options
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		Filter: dispatch.FilterConfig{
			Prefix:     c.Event.PrefixFilter,
			Include:    c.Event.Include,
			Ignore:     c.Event.Ignore,
			Extensions: c.Event.Extensions,
			LedgerName: c.Storage.LedgerName,
		},
		MaxObjectSize: c.Event.MaxObjectSize,
		Chunking:      c.Index.Chunking(),
	}
}

func (c *Config) normalize() error {
	if c.Event.PrefixFilter == "" {
		c.Event.PrefixFilter = c.Storage.Prefix
	}
	if c.Storage.PresignExpiry == 0 {
		c.Storage.PresignExpiry = blob.DefaultPresignExpiry
	}
	c.Wiki.SpaceIDs = compact(c.Wiki.SpaceIDs)
	c.Wiki.SpaceNames = compact(c.Wiki.SpaceNames)

	if c.DataDir != "" {
		dir, err := utils.ResolvePath(c.DataDir)
		if err != nil {
			return fmt.Errorf("data_dir: %w", err)
		}
		c.DataDir = dir
	}
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) && c.DataDir != "" {
		c.Log.File = filepath.Join(c.DataDir, c.Log.File)
	}
	return nil
}

// ValidateStorage checks the object store and ledger settings every command needs
func (c *Config) ValidateStorage() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Prefix != "" && !strings.HasSuffix(c.Storage.Prefix, "/") {
		return fmt.Errorf("storage: %w: %q", ErrInvalidPrefix, c.Storage.Prefix)
	}
	if c.Storage.LedgerName == "" || strings.Contains(c.Storage.LedgerName, "/") {
		return fmt.Errorf("storage: invalid ledger_name %q", c.Storage.LedgerName)
	}
	if !blob.ValidateKey(c.Storage.LedgerKey()) {
		return fmt.Errorf("storage: invalid ledger key %q", c.Storage.LedgerKey())
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry: max_retries must not be negative")
	}
	return nil
}

// ValidateSync checks the settings needed by the batch walk
func (c *Config) ValidateSync() error {
	if err := c.Wiki.Validate(); err != nil {
		return fmt.Errorf("wiki: %w", err)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync: workers must be at least 1")
	}
	return c.ValidateStorage()
}

// ValidateEvents checks the settings needed by the event dispatcher
func (c *Config) ValidateEvents() error {
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if c.Event.MaxObjectSize < 0 {
		return fmt.Errorf("event: max_object_size must not be negative")
	}
	if _, err := dispatch.NewFilter(c.DispatchOptions().Filter); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	return c.ValidateStorage()
}

// ValidateServer checks the trigger server settings. The sync and event
// routes are validated separately since either may be left unconfigured.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr required")
	}
	if _, err := limiter.NewRateFromFormatted(c.Server.SyncRateLimit); err != nil {
		return fmt.Errorf("server: sync_rate_limit: %w", err)
	}
	return nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LogValue hides secrets when the config is logged
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", c.Path),
		slog.String("wikiAppId", c.Wiki.AppID),
		slog.String("wikiAppSecret", utils.MaskSecret(c.Wiki.AppSecret)),
		slog.Any("spaceIds", c.Wiki.SpaceIDs),
		slog.Any("spaceNames", c.Wiki.SpaceNames),
		slog.String("bucket", c.Storage.BucketName),
		slog.String("endpoint", c.Storage.Endpoint),
		slog.String("prefix", c.Storage.Prefix),
		slog.String("ledger", c.Storage.LedgerKey()),
		slog.String("indexUrl", c.Index.BaseURL),
		slog.String("indexApiKey", utils.MaskSecret(c.Index.APIKey)),
		slog.String("collection", c.Index.Collection),
		slog.Int("maxRetries", c.Retry.MaxRetries),
		slog.Int("workers", c.Sync.Workers),
		slog.String("dataDir", c.DataDir),
	)
}
