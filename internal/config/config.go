// Package config loads the formtree configuration file.
//
// Values are layered: built-in defaults, then the YAML (or JSON) file, then
// FORMTREE_* environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/pkg/autosave"
	"github.com/aretw0/formtree/pkg/telemetry"
	"github.com/aretw0/formtree/pkg/validation"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "formtree.yaml"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel   string           `yaml:"log_level" json:"log_level"`
	LogFormat  string           `yaml:"log_format" json:"log_format"` // text or json
	Store      StoreConfig      `yaml:"store" json:"store"`
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption"`
	Redact     RedactConfig     `yaml:"redact" json:"redact"`
	Templates  string           `yaml:"templates" json:"templates"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	Editor     EditorConfig     `yaml:"editor" json:"editor"`
}

// StoreConfig selects and configures the FormStore.
type StoreConfig struct {
	Driver string      `yaml:"driver" json:"driver"`
	Path   string      `yaml:"path" json:"path"` // file directory or sqlite DSN; see StorePath
	Redis  RedisConfig `yaml:"redis" json:"redis"`
	// Pull makes open editors reload versions saved by other replicas. Zero disables it.
	Pull time.Duration `yaml:"pull" json:"pull"`
}

// RedisConfig configures the redis driver and the distributed lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Lock     bool          `yaml:"lock" json:"lock"`
	LockTTL  time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
}

// EncryptionConfig holds AES-256 keys, hex or base64 encoded.
// An empty Key disables encryption.
type EncryptionConfig struct {
	Key          string   `yaml:"key" json:"key"`
	FallbackKeys []string `yaml:"fallback_keys" json:"fallback_keys"`
}

// RedactConfig masks secret-looking attribute keys before storage.
type RedactConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Metrics bool   `yaml:"metrics" json:"metrics"`
}

// EditorConfig mirrors formtree.Config.
type EditorConfig struct {
	Autosave struct {
		Enabled    bool          `yaml:"enabled" json:"enabled"`
		Debounce   time.Duration `yaml:"debounce" json:"debounce"`
		MaxRetries int           `yaml:"max_retries" json:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
		Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"autosave" json:"autosave"`
	Validation struct {
		Debounce            time.Duration `yaml:"debounce" json:"debounce"`
		BackgroundThreshold int           `yaml:"background_threshold" json:"background_threshold"`
	} `yaml:"validation" json:"validation"`
	Sync struct {
		Enabled  bool          `yaml:"enabled" json:"enabled"`
		Interval time.Duration `yaml:"interval" json:"interval"`
	} `yaml:"sync" json:"sync"`
	Thresholds   telemetry.Thresholds `yaml:"thresholds" json:"thresholds"`
	HistoryLimit int                  `yaml:"history_limit" json:"history_limit"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	ed := formtree.DefaultConfig()
	c := Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Driver: DriverFile,
			Redis:  RedisConfig{Addr: "localhost:6379"},
		},
		HTTP: HTTPConfig{Addr: ":8080", Metrics: true},
	}
	c.Editor.Autosave.Enabled = ed.Autosave.Enabled
	c.Editor.Autosave.Debounce = ed.Autosave.Debounce
	c.Editor.Autosave.MaxRetries = ed.Autosave.MaxRetries
	c.Editor.Autosave.RetryDelay = ed.Autosave.RetryDelay
	c.Editor.Autosave.Timeout = ed.Autosave.Timeout
	c.Editor.Validation.Debounce = ed.Validation.Debounce
	c.Editor.Validation.BackgroundThreshold = ed.Validation.BackgroundThreshold
	c.Editor.Sync.Enabled = ed.Sync.Enabled
	c.Editor.Sync.Interval = ed.Sync.Interval
	c.Editor.Thresholds = ed.Thresholds
	c.Editor.HistoryLimit = ed.HistoryLimit
	return c
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, &cfg); err != nil {
			return cfg, err
		}
	case os.IsNotExist(err) && !required:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// decode parses YAML. JSON files are checked for syntax first and then go
// through the same decoder, since YAML accepts JSON and parses durations.
func decode(path string, data []byte, cfg *Config) error {
	if strings.ToLower(filepath.Ext(path)) == ".json" && !json.Valid(data) {
		return fmt.Errorf("failed to parse %s: invalid JSON", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("FORMTREE_LOG_LEVEL", &c.LogLevel)
	str("FORMTREE_LOG_FORMAT", &c.LogFormat)
	str("FORMTREE_STORE", &c.Store.Driver)
	str("FORMTREE_STORE_PATH", &c.Store.Path)
	str("FORMTREE_REDIS_ADDR", &c.Store.Redis.Addr)
	str("FORMTREE_REDIS_PASSWORD", &c.Store.Redis.Password)
	str("FORMTREE_ENCRYPTION_KEY", &c.Encryption.Key)
	str("FORMTREE_TEMPLATES", &c.Templates)
	str("FORMTREE_HTTP_ADDR", &c.HTTP.Addr)

	durations := map[string]*time.Duration{
		"FORMTREE_AUTOSAVE_DEBOUNCE":   &c.Editor.Autosave.Debounce,
		"FORMTREE_VALIDATION_DEBOUNCE": &c.Editor.Validation.Debounce,
		"FORMTREE_SYNC_INTERVAL":       &c.Editor.Sync.Interval,
		"FORMTREE_STORE_PULL":          &c.Store.Pull,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"FORMTREE_AUTOSAVE":   &c.Editor.Autosave.Enabled,
		"FORMTREE_SYNC":       &c.Editor.Sync.Enabled,
		"FORMTREE_REDACT":     &c.Redact.Enabled,
		"FORMTREE_REDIS_LOCK": &c.Store.Redis.Lock,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverRedis, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if (c.Store.Redis.Lock || c.Store.Driver == DriverRedis) && c.Store.Redis.Addr == "" {
		return errors.New("store.redis.addr is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (supported: text, json)", c.LogFormat)
	}
	if c.Encryption.Key != "" {
		if _, _, err := c.Keys(); err != nil {
			return err
		}
	}
	return nil
}

// StorePath returns Store.Path or the driver's default location.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Driver {
	case DriverFile:
		return filepath.Join(".formtree", "forms")
	case DriverSQLite:
		return filepath.Join(".formtree", "forms.db")
	}
	return ""
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Keys decodes the active and fallback encryption keys.
func (c Config) Keys() (active []byte, fallback [][]byte, err error) {
	active, err = decodeKey(c.Encryption.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	for i, k := range c.Encryption.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, errors.New("must be 32 bytes, hex or base64 encoded")
}

// Formtree maps the editor section onto formtree.Config.
func (c EditorConfig) Formtree() formtree.Config {
	return formtree.Config{
		Autosave: autosave.Config{
			Enabled:    c.Autosave.Enabled,
			Debounce:   c.Autosave.Debounce,
			MaxRetries: c.Autosave.MaxRetries,
			RetryDelay: c.Autosave.RetryDelay,
			Timeout:    c.Autosave.Timeout,
		},
		Validation: validation.SchedulerConfig{
			Debounce:            c.Validation.Debounce,
			BackgroundThreshold: c.Validation.BackgroundThreshold,
		},
		Sync: formtree.SyncConfig{
			Enabled:  c.Sync.Enabled,
			Interval: c.Sync.Interval,
		},
		Thresholds:   c.Thresholds,
		HistoryLimit: c.HistoryLimit,
	}
}
