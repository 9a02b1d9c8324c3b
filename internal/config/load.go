package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/dispatch"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/ledger"
	"github.com/openmined/kbsync/internal/wiki"
	"github.com/openmined/kbsync/internal/wikisync"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "KBSYNC"
	ConfigFileName = "kbsync"
	DefaultEnvFile = ".env"
)

var DefaultSearchPaths = []string{".", "$HOME/.kbsync"}

var defaults = map[string]any{
	"wiki.base_url":            wiki.DefaultBaseURL,
	"wiki.app_id":              "",
	"wiki.app_secret":          "",
	"wiki.space_ids":           []string{},
	"wiki.space_names":         []string{},
	"wiki.page_size":           wiki.DefaultPageSize,
	"wiki.rate_limit":          wiki.DefaultRateLimit,
	"wiki.rate_burst":          wiki.DefaultRateLimit,
	"wiki.timeout":             wiki.DefaultTimeout,
	"storage.bucket_name":      "",
	"storage.region":           "",
	"storage.access_key":       "",
	"storage.secret_key":       "",
	"storage.endpoint":         "",
	"storage.use_accelerate":   false,
	"storage.prefix":           wikisync.DefaultPrefix,
	"storage.ledger_name":      ledger.DefaultName,
	"storage.presign_expiry":   blob.DefaultPresignExpiry,
	"index.base_url":           "",
	"index.api_key":            "",
	"index.collection":         kb.DefaultCollection,
	"index.namespace":          kb.DefaultNamespace,
	"index.namespace_password": "",
	"index.chunk_size":         kb.DefaultChunkSize,
	"index.chunk_overlap":      kb.DefaultChunkOverlap,
	"index.timeout":            kb.DefaultTimeout,
	"retry.max_retries":        3,
	"retry.base_delay":         time.Second,
	"retry.max_delay":          30 * time.Second,
	"retry.jitter":             true,
	"retry.attempt_timeout":    60 * time.Second,
	"sync.workers":             wikisync.DefaultWorkers,
	"event.prefix_filter":      "",
	"event.include":            []string{},
	"event.ignore":             []string{},
	"event.extensions":         []string{},
	"event.max_object_size":    dispatch.DefaultMaxObjectSize,
	"server.addr":              DefaultAddr,
	"server.sync_rate_limit":   DefaultSyncRateLimit,
	"log.level":                DefaultLogLevel,
	"log.file":                 "",
	"data_dir":                 DefaultDataDir,
}

// legacyEnv maps config keys onto the variable names older deployments use.
// KBSYNC_* variables take precedence over these.
var legacyEnv = map[string][]string{
	"wiki.app_id":              {"FEISHU_APP_ID"},
	"wiki.app_secret":          {"FEISHU_APP_SECRET"},
	"wiki.space_names":         {"WIKI_SPACE_NAME"},
	"wiki.space_ids":           {"WIKI_SPACE_ID"},
	"storage.bucket_name":      {"OSS_BUCKET_NAME"},
	"storage.endpoint":         {"OSS_ENDPOINT"},
	"storage.prefix":           {"OSS_PREFIX"},
	"event.prefix_filter":      {"OSS_PREFIX_FILTER"},
	"retry.max_retries":        {"MAX_RETRIES"},
	"retry.base_delay":         {"RETRY_DELAY_BASE"},
	"index.collection":         {"GPDB_COLLECTION"},
	"index.namespace":          {"GPDB_NAMESPACE"},
	"index.namespace_password": {"GPDB_NAMESPACE_PASSWORD"},
}

type LoadOptions struct {
	// ConfigFile is an explicit config path. When empty the search paths are
	// scanned for kbsync.{yaml,json,toml}.
	ConfigFile  string
	EnvFile     string
	SearchPaths []string
}

// NewViper returns a viper instance with defaults and environment bindings.
// Callers bind their flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

// Load reads the env file and config file into v and decodes the result
func Load(v *viper.Viper, opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	// existing environment variables win over the env file
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("env file '%s': %w", envFile, err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		v.SetConfigName(ConfigFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
		// an explicit path that does not exist is still an error
		if opts.ConfigFile != "" {
			return nil, fmt.Errorf("config read '%s': %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.Event.Include = compact(cfg.Event.Include)
	cfg.Event.Ignore = compact(cfg.Event.Ignore)
	cfg.Event.Extensions = compact(cfg.Event.Extensions)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsHookFunc(),
		byteSizeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHookFunc reads bare numbers as seconds, so RETRY_DELAY_BASE=2 is 2s
func secondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return time.Duration(f * float64(time.Second)), nil
			}
			return s, nil
		}
		return data, nil
	}
}

// byteSizeHookFunc accepts human sizes like "200MiB" for int64 fields
func byteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int64 || to == durationType {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return s, nil
		}
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", s, err)
		}
		return int64(n), nil
	}
}
