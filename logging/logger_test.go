package logging

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbees/browser-matrix-tests/credentials"
)

func TestConsoleOutput(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, Options{Level: zerolog.InfoLevel, NoColor: true})

	log.Info().Str("env", "OSX 10.8/safari/6").Msg("Session opened")
	log.Debug().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "Session opened")
	assert.Contains(t, out, "env=")
	assert.NotContains(t, out, "hidden")
}

func TestJSONOutput(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, Options{Level: zerolog.DebugLevel, JSON: true})

	log.Warn().Str("session_id", "abc").Msg("Could not report outcome")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "abc", line["session_id"])
	assert.Equal(t, "Could not report outcome", line["message"])
}

func TestCredentialsAreRedacted(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, Options{Level: zerolog.InfoLevel, JSON: true})

	log.Info().Object("credentials", credentials.Credentials{Username: "user", AccessKey: "secret-key"}).Msg("Loaded")

	assert.Contains(t, buf.String(), "user")
	assert.NotContains(t, buf.String(), "secret-key")
}

func TestPrintfAdapter(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, Options{Level: zerolog.DebugLevel, JSON: true})

	Printf(log).Printf("Finding element by %s", "css selector")

	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "Finding element by css selector")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
