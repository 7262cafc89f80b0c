package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
timezone: Europe/Berlin
week_start: Sunday
no_class_weeks: ["2024-04-15"]
breaks:
  - start: "2024-04-08"
    weeks: 2
portal:
  base_url: https://portal.example.edu/
output:
  format: ICS
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, time.Sunday, cfg.FirstWeekday())
	assert.Equal(t, "https://portal.example.edu", cfg.Portal.BaseURL)
	assert.Equal(t, defaultTimeout, cfg.Portal.TimeoutSeconds)
	assert.Equal(t, "ics", cfg.Output.Format)
	assert.Equal(t, "epoch", cfg.Output.TimeFormat)
	assert.Equal(t, []BreakConfig{{Start: "2024-04-08", Weeks: 2}}, cfg.Breaks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"bad week start", func(c *Config) { c.WeekStart = "friday" }, false},
		{"bad no-class date", func(c *Config) { c.NoClassWeeks = []string{"15/04/2024"} }, false},
		{"zero-week break", func(c *Config) { c.Breaks = []BreakConfig{{Start: "2024-04-08"}} }, false},
		{"bad output format", func(c *Config) { c.Output.Format = "csv" }, false},
		{"bad time format", func(c *Config) { c.Output.TimeFormat = "unix-ms" }, false},
		{"bad base url", func(c *Config) { c.Portal.BaseURL = "not a url" }, false},
		{"feed listen address", func(c *Config) { c.Serve.Listen = "127.0.0.1:8080" }, true},
		{"bad feed listen address", func(c *Config) { c.Serve.Listen = "localhost" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvUsername, "45123456")
	t.Setenv(EnvPassword, "hunter2")
	t.Setenv(EnvStudyPeriod, "Session 2, 2024")
	t.Setenv(EnvPortalURL, "https://other.example.edu/")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "45123456", cfg.Portal.Username)
	assert.Equal(t, "hunter2", cfg.Portal.Password)
	assert.Equal(t, "Session 2, 2024", cfg.StudyPeriod)
	assert.Equal(t, "https://other.example.edu", cfg.Portal.BaseURL)
}

func TestSaveNeverWritesCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Portal.Username = "45123456"
	cfg.Portal.Password = "hunter2"

	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, string(data), "45123456")
}
