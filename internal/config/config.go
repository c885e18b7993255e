package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults shared by DefaultConfig and Normalize.
const (
	defaultListen            = "127.0.0.1:8080"
	defaultLogLevel          = "info"
	defaultTimezone          = "UTC"
	defaultProdID            = "-//Kastle Systems//Visitor Management//EN"
	defaultDecodeProdID      = "Microsoft Exchange server 2010"
	defaultPlaceholderDomain = "Kastle.com"
	defaultMatchTimeout      = 100 * time.Millisecond
	defaultRefreshCron       = "*/15 * * * *"
	defaultCacheDir          = "./var/visit-cache"
	defaultHorizonDays       = 30
)

// SourceConfig describes a remote endpoint serving visit payloads.
type SourceConfig struct {
	// URL is the payload endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID keys the visits a source contributes to the store.
	ID string `yaml:"id" json:"id" validate:"required"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// LogLevel is one of debug|info|error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info error"`

	// Timezone is the IANA zone occurrences are reported in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// ProdID is stamped on encoded payloads whose request carries none.
	ProdID string `yaml:"prod_id" json:"prod_id"`

	// DecodeProdID is stamped on decoded requests whose payload has no PRODID.
	DecodeProdID string `yaml:"decode_prod_id" json:"decode_prod_id"`

	// PlaceholderEmailDomain is used for visitors without an email address.
	PlaceholderEmailDomain string `yaml:"placeholder_email_domain" json:"placeholder_email_domain" validate:"required,hostname"`

	// MatchTimeout bounds each name/mobile pattern check.
	MatchTimeout time.Duration `yaml:"match_timeout" json:"match_timeout"`

	// RefreshCron is the standard 5-field cron schedule for refreshing
	// sources. Descriptors such as "@every 10m" are accepted.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds fetched payloads and their HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// HorizonDays is the default occurrence window.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"min=1,max=366"`

	// Sources is the list of remote payload endpoints.
	Sources []SourceConfig `yaml:"sources" json:"sources" validate:"dive"`

	// BasicAuth guards every route but /health when set.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		LogLevel:               defaultLogLevel,
		Timezone:               defaultTimezone,
		ProdID:                 defaultProdID,
		DecodeProdID:           defaultDecodeProdID,
		PlaceholderEmailDomain: defaultPlaceholderDomain,
		MatchTimeout:           defaultMatchTimeout,
		RefreshCron:            defaultRefreshCron,
		CacheDir:               defaultCacheDir,
		HorizonDays:            defaultHorizonDays,
		Sources:                []SourceConfig{},
		BasicAuth:              nil,
	}
}

// Normalize replaces zero values with defaults and lowercases the log level.
// An unknown log level becomes "info".
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.ProdID == "" {
		c.ProdID = defaultProdID
	}
	if c.DecodeProdID == "" {
		c.DecodeProdID = defaultDecodeProdID
	}
	if c.PlaceholderEmailDomain == "" {
		c.PlaceholderEmailDomain = defaultPlaceholderDomain
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = defaultMatchTimeout
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// Validate checks a normalized config. It reports the first offending key.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		if _, lerr := time.LoadLocation(c.Timezone); lerr != nil {
			return fmt.Errorf("config: timezone %q: %w", c.Timezone, lerr)
		}
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("config: %s failed %s check", fe.Namespace(), fe.Tag())
	}
	return err
}

// Load reads the YAML file at path, fills defaults and validates the
// result. A missing file is created with DefaultConfig (mode 0600) and that
// default is returned; if writing it fails the default is still returned
// alongside the error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: empty path")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg := DefaultConfig()
		return cfg, Save(path, cfg)
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save normalizes cfg and writes it to path as YAML with mode 0600. The
// file is replaced atomically so a crash never leaves a truncated config.
func Save(path string, cfg *Config) error {
	switch {
	case path == "":
		return errors.New("config: empty path")
	case cfg == nil:
		return errors.New("config: nil config")
	}

	cfg.Normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path. The parent directory is created with mode 0700.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".visitical-config-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(0o600); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
