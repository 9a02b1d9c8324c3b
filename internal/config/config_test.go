package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/kbsync/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTest(t *testing.T, opts LoadOptions) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	if opts.SearchPaths == nil {
		opts.SearchPaths = []string{dir}
	}
	if opts.EnvFile == "" {
		opts.EnvFile = filepath.Join(dir, "missing.env")
	}
	return Load(NewViper(), opts)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadTest(t, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "wiki/", cfg.Storage.Prefix)
	assert.Equal(t, "wiki/", cfg.Event.PrefixFilter)
	assert.Equal(t, "wiki/sync_records.json", cfg.Storage.LedgerKey())
	assert.Equal(t, time.Hour, cfg.Storage.PresignExpiry)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 50, cfg.Wiki.PageSize)
	assert.Equal(t, float64(5), cfg.Wiki.RateLimit)
	assert.Equal(t, "document", cfg.Index.Collection)
	assert.Equal(t, dispatch.DefaultMaxObjectSize, cfg.Event.MaxObjectSize)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, "30-M", cfg.Server.SyncRateLimit)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Empty(t, cfg.Path)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeFile(t, "kbsync.yaml", `
wiki:
  app_id: cli_a1
  app_secret: s3cret
  space_names: [HR, Engineering]
storage:
  bucket_name: kb-docs
  region: cn-hangzhou
  endpoint: https://oss-cn-hangzhou.aliyuncs.com
  prefix: docs/
retry:
  base_delay: 2
  max_delay: 1m
event:
  max_object_size: 10MiB
log:
  file: kbsync.log
data_dir: /tmp/kbsync-test
`)

	cfg, err := loadTest(t, LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "cli_a1", cfg.Wiki.AppID)
	assert.Equal(t, []string{"HR", "Engineering"}, cfg.Wiki.SpaceNames)
	assert.Equal(t, "kb-docs", cfg.Storage.BucketName)
	assert.Equal(t, "docs/", cfg.Event.PrefixFilter)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, int64(10<<20), cfg.Event.MaxObjectSize)
	assert.Equal(t, "/tmp/kbsync-test/kbsync.log", cfg.Log.File)
	assert.NoError(t, cfg.ValidateSync())
}

func TestLoad_SearchPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kbsync.json"), []byte(`{"sync":{"workers":6}}`), 0o644))

	cfg, err := loadTest(t, LoadOptions{SearchPaths: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Sync.Workers)
	assert.Equal(t, filepath.Join(dir, "kbsync.json"), cfg.Path)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := loadTest(t, LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("KBSYNC_WIKI_APP_ID", "cli_env")
	t.Setenv("KBSYNC_SYNC_WORKERS", "4")
	t.Setenv("KBSYNC_EVENT_INCLUDE", "wiki/HR/**, wiki/Eng/**")
	t.Setenv("KBSYNC_RETRY_MAX_DELAY", "45s")

	cfg, err := loadTest(t, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cli_env", cfg.Wiki.AppID)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, []string{"wiki/HR/**", "wiki/Eng/**"}, cfg.Event.Include)
	assert.Equal(t, 45*time.Second, cfg.Retry.MaxDelay)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "cli_legacy")
	t.Setenv("FEISHU_APP_SECRET", "legacy-secret")
	t.Setenv("WIKI_SPACE_NAME", "HR")
	t.Setenv("OSS_BUCKET_NAME", "legacy-bucket")
	t.Setenv("OSS_PREFIX", "kb/")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_DELAY_BASE", "3")
	t.Setenv("GPDB_NAMESPACE", "team")

	cfg, err := loadTest(t, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cli_legacy", cfg.Wiki.AppID)
	assert.Equal(t, []string{"HR"}, cfg.Wiki.SpaceNames)
	assert.Equal(t, "legacy-bucket", cfg.Storage.BucketName)
	assert.Equal(t, "kb/", cfg.Storage.Prefix)
	assert.Equal(t, "kb/", cfg.Event.PrefixFilter)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "team", cfg.Index.Namespace)

	// the prefixed variable wins over the historical name
	t.Setenv("KBSYNC_WIKI_APP_ID", "cli_new")
	cfg, err = loadTest(t, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cli_new", cfg.Wiki.AppID)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, "test.env", "KBSYNC_STORAGE_REGION=eu-west-1\n")
	// registers the restore, then clears it so the env file applies
	t.Setenv("KBSYNC_STORAGE_REGION", "")
	require.NoError(t, os.Unsetenv("KBSYNC_STORAGE_REGION"))

	cfg, err := loadTest(t, LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Storage.Region)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadTest(t, LoadOptions{})
	require.NoError(t, err)
	cfg.Wiki.AppID = "cli_a1"
	cfg.Wiki.AppSecret = "secret"
	cfg.Wiki.SpaceNames = []string{"HR"}
	cfg.Storage.BucketName = "kb-docs"
	cfg.Storage.Region = "us-east-1"
	cfg.Index.BaseURL = "https://kb.example.com"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no app id", func(c *Config) { c.Wiki.AppID = "" }, true},
		{"no targets", func(c *Config) { c.Wiki.SpaceNames = nil }, true},
		{"no bucket", func(c *Config) { c.Storage.BucketName = "" }, true},
		{"prefix without slash", func(c *Config) { c.Storage.Prefix = "wiki" }, true},
		{"empty prefix", func(c *Config) { c.Storage.Prefix = "" }, false},
		{"nested ledger name", func(c *Config) { c.Storage.LedgerName = "a/b.json" }, true},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
		{"bad rate", func(c *Config) { c.Server.SyncRateLimit = "lots" }, true},
		{"no index url", func(c *Config) { c.Index.BaseURL = "" }, true},
		{"bad include", func(c *Config) { c.Event.Include = []string{"wiki/[HR"} }, true},
		{"overlap too large", func(c *Config) { c.Index.ChunkOverlap = 600 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := errors.Join(cfg.ValidateServer(), cfg.ValidateSync(), cfg.ValidateEvents())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateSyncIgnoresIndex(t *testing.T) {
	cfg := validConfig(t)
	cfg.Index.BaseURL = ""
	assert.NoError(t, cfg.ValidateSync())
	assert.Error(t, cfg.ValidateEvents())
}

func TestConfig_Options(t *testing.T) {
	cfg := validConfig(t)
	cfg.Event.Include = []string{"wiki/HR/**"}

	sync := cfg.SyncOptions()
	assert.Equal(t, []string{"HR"}, sync.SpaceNames)
	assert.Equal(t, "wiki/", sync.Prefix)
	assert.Equal(t, 2, sync.Workers)

	events := cfg.DispatchOptions()
	assert.Equal(t, "wiki/", events.Filter.Prefix)
	assert.Equal(t, "sync_records.json", events.Filter.LedgerName)
	assert.Equal(t, []string{"wiki/HR/**"}, events.Filter.Include)
	assert.Equal(t, 500, events.Chunking.Size)

	policy := cfg.Retry.Policy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, time.Second, policy.BaseDelay)
}

func TestConfig_LogValueMasksSecrets(t *testing.T) {
	cfg := validConfig(t)
	cfg.Wiki.AppSecret = "supersecretvalue"
	cfg.Index.APIKey = "key-1234567890"

	value := cfg.LogValue().String()
	assert.NotContains(t, value, "supersecretvalue")
	assert.NotContains(t, value, "key-1234567890")
	assert.Contains(t, value, "cli_a1")
}

func TestLogConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", (&LogConfig{Level: "debug"}).SlogLevel().String())
	assert.Equal(t, "WARN", (&LogConfig{Level: "WARN"}).SlogLevel().String())
	assert.Equal(t, "INFO", (&LogConfig{Level: "loud"}).SlogLevel().String())
}
