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
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the YAML file. Credentials are only
// ever taken from the environment (or a .env file), never persisted.
const (
	EnvUsername    = "SEMCAL_USERNAME"
	EnvPassword    = "SEMCAL_PASSWORD"
	EnvStudyPeriod = "SEMCAL_STUDY_PERIOD"
	EnvPortalURL   = "SEMCAL_PORTAL_URL"
)

const (
	defaultTimezone  = "Australia/Sydney"
	defaultWeekStart = "monday"
	defaultPortalURL = "https://student1.mq.edu.au/estudent"
	defaultUserAgent = "semcal/0.1"
	defaultTimeout   = 30
	defaultRetries   = 2
)

// BreakConfig describes a run of consecutive weeks without classes,
// e.g. a mid-semester break.
type BreakConfig struct {
	// Start is any date inside the first break week (YYYY-MM-DD).
	Start string `yaml:"start" json:"start" validate:"required,datetime=2006-01-02"`
	// Weeks is the number of consecutive weeks the break lasts.
	Weeks int `yaml:"weeks" json:"weeks" validate:"min=1,max=52"`
}

// PortalConfig holds settings for the timetable portal session.
type PortalConfig struct {
	// BaseURL is the portal root; /login, /timetable and /timetable/week
	// are resolved against it.
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// TimeoutSeconds bounds every HTTP round-trip.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=1"`

	// Retries is the number of extra attempts for idempotent GETs that
	// failed at the transport level or with a 5xx status.
	Retries int `yaml:"retries" json:"retries" validate:"min=0,max=10"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// BrowserLogin logs in through headless Chromium instead of a plain
	// form POST. Needed when the login page relies on JavaScript.
	BrowserLogin bool `yaml:"browser_login" json:"browser_login"`

	// Username / Password are filled from the environment only.
	Username string `yaml:"-" json:"-"`
	Password string `yaml:"-" json:"-"`
}

// Timeout returns TimeoutSeconds as a duration.
func (p PortalConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// OutputConfig controls how the result envelope is written.
type OutputConfig struct {
	// Format is "json" (default) or "ics".
	Format string `yaml:"format" json:"format" validate:"oneof=json ics"`

	// TimeFormat selects the JSON begin/end encoding: "epoch" (Unix
	// seconds, default) or "iso" (RFC 3339 in the configured timezone).
	TimeFormat string `yaml:"time_format" json:"time_format" validate:"oneof=epoch iso"`

	// Path is the output file. Empty means stdout.
	Path string `yaml:"path" json:"path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ServeConfig publishes the refreshed export over HTTP. Only used in
// refresh mode.
type ServeConfig struct {
	// Listen is the HTTP listen address. Empty disables the server.
	Listen string `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone the portal's wall-clock times are in.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// WeekStart is the first day of a timetable week: "monday" or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	// StudyPeriod is the name (or code) of the study period to export.
	// Empty means ask interactively.
	StudyPeriod string `yaml:"study_period" json:"study_period"`

	// NoClassWeeks lists dates (YYYY-MM-DD) whose weeks are known to have
	// no classes; those weeks are never fetched.
	NoClassWeeks []string `yaml:"no_class_weeks" json:"no_class_weeks" validate:"dive,datetime=2006-01-02"`

	// Breaks are multi-week runs of known empty weeks.
	Breaks []BreakConfig `yaml:"breaks" json:"breaks" validate:"dive"`

	Portal PortalConfig `yaml:"portal" json:"portal"`
	Output OutputConfig `yaml:"output" json:"output"`
	Serve  ServeConfig  `yaml:"serve" json:"serve"`

	// Refresh is an optional cron spec (e.g. "0 6 * * *"). When set the
	// export is re-run on that schedule instead of once.
	Refresh string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:     defaultTimezone,
		WeekStart:    defaultWeekStart,
		NoClassWeeks: []string{},
		Breaks:       []BreakConfig{},
		Portal: PortalConfig{
			BaseURL:        defaultPortalURL,
			TimeoutSeconds: defaultTimeout,
			Retries:        defaultRetries,
			UserAgent:      defaultUserAgent,
		},
		Output: OutputConfig{
			Format:     "json",
			TimeFormat: "epoch",
		},
		LogLevel: "info",
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = defaultWeekStart
	}
	if c.NoClassWeeks == nil {
		c.NoClassWeeks = []string{}
	}
	if c.Breaks == nil {
		c.Breaks = []BreakConfig{}
	}
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = defaultPortalURL
	}
	c.Portal.BaseURL = strings.TrimRight(c.Portal.BaseURL, "/")
	if c.Portal.TimeoutSeconds <= 0 {
		c.Portal.TimeoutSeconds = defaultTimeout
	}
	if c.Portal.Retries < 0 {
		c.Portal.Retries = 0
	}
	if c.Portal.UserAgent == "" {
		c.Portal.UserAgent = defaultUserAgent
	}
	c.Output.Format = strings.ToLower(c.Output.Format)
	if c.Output.Format == "" {
		c.Output.Format = "json"
	}
	c.Output.TimeFormat = strings.ToLower(c.Output.TimeFormat)
	if c.Output.TimeFormat == "" {
		c.Output.TimeFormat = "epoch"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ApplyEnv overlays environment variables (after loading an optional .env
// file from the working directory) onto the config.
func (c *Config) ApplyEnv() {
	// A missing .env file is the common case.
	_ = godotenv.Load()

	if v := os.Getenv(EnvUsername); v != "" {
		c.Portal.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Portal.Password = v
	}
	if v := os.Getenv(EnvStudyPeriod); v != "" {
		c.StudyPeriod = v
	}
	if v := os.Getenv(EnvPortalURL); v != "" {
		c.Portal.BaseURL = strings.TrimRight(v, "/")
	}
}

// Validate checks field constraints. It does not require credentials;
// those may still be prompted for.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "semcal.yaml"
	}
	return filepath.Join(dir, "semcal", "config.yaml")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is unmarshalled over the defaults and normalized.
//
// Environment overrides are not applied here; see ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path as YAML, atomically and with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path. Parent directories are created with 0700 and the final file
// has 0600 permissions.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".semcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
