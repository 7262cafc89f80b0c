package main

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semcal/internal/config"
)

func TestApplyFlagsOverridesConfigAndEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(config.EnvStudyPeriod, "Session 2, 2024")

	conf := config.DefaultConfig()
	conf.StudyPeriod = "Session 1, 2024"
	conf.Output.Path = "/var/lib/semcal/timetable.json"
	conf.ApplyEnv()
	require.Equal(t, "Session 2, 2024", conf.StudyPeriod, "env beats the file")

	applyFlags(conf, flagConfig{
		period:  "2024-S3",
		format:  "ICS",
		out:     "timetable.ics",
		refresh: "0 6 * * *",
		debug:   true,
	})

	assert.Equal(t, "2024-S3", conf.StudyPeriod)
	assert.Equal(t, "ics", conf.Output.Format)
	assert.Equal(t, "timetable.ics", conf.Output.Path)
	assert.Equal(t, "0 6 * * *", conf.Refresh)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.NoError(t, conf.Validate())
}

func TestApplyFlagsEmptyKeepsConfig(t *testing.T) {
	conf := config.DefaultConfig()
	conf.StudyPeriod = "Session 1, 2024"
	conf.Output.Path = "out.json"

	applyFlags(conf, flagConfig{})

	assert.Equal(t, "Session 1, 2024", conf.StudyPeriod)
	assert.Equal(t, "json", conf.Output.Format)
	assert.Equal(t, "out.json", conf.Output.Path)
	assert.Empty(t, conf.Refresh)
	assert.Equal(t, "info", conf.LogLevel)
}

func TestPromptCredentials(t *testing.T) {
	noPassword := func() ([]byte, error) { return nil, errors.New("unexpected password prompt") }

	t.Run("environment supplied both", func(t *testing.T) {
		conf := config.DefaultConfig()
		conf.Portal.Username, conf.Portal.Password = "45123456", "pw"

		var out bytes.Buffer
		require.NoError(t, promptCredentials(conf, false, bufio.NewReader(strings.NewReader("")), &out, noPassword))
		assert.Empty(t, out.String())
	})

	t.Run("non-interactive without credentials", func(t *testing.T) {
		conf := config.DefaultConfig()
		err := promptCredentials(conf, false, bufio.NewReader(strings.NewReader("")), &bytes.Buffer{}, noPassword)
		assert.ErrorContains(t, err, config.EnvUsername)
	})

	t.Run("prompts for what is missing", func(t *testing.T) {
		conf := config.DefaultConfig()
		in := bufio.NewReader(strings.NewReader(" 45123456 \n2\n"))
		var out bytes.Buffer

		err := promptCredentials(conf, true, in, &out, func() ([]byte, error) { return []byte("correct horse"), nil })
		require.NoError(t, err)
		assert.Equal(t, "45123456", conf.Portal.Username)
		assert.Equal(t, "correct horse", conf.Portal.Password)
		assert.Contains(t, out.String(), "Student ID: ")
		assert.Contains(t, out.String(), "Password: ")

		rest, err := in.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "2\n", rest, "input after the username stays available for later prompts")
	})

	t.Run("password read failure", func(t *testing.T) {
		conf := config.DefaultConfig()
		conf.Portal.Username = "45123456"
		err := promptCredentials(conf, true, bufio.NewReader(strings.NewReader("")), &bytes.Buffer{},
			func() ([]byte, error) { return nil, errors.New("not a terminal") })
		assert.ErrorContains(t, err, "not a terminal")
	})
}
