package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)

	logger.Debug().Str("npi", "1234567890").Msg("resolved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "1234567890", line["npi"])
	assert.Equal(t, "resolved", line["message"])
	assert.Contains(t, line, "time")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("", "console", &buf)
	require.NoError(t, err)

	logger.Info().Msg("server started")
	assert.Contains(t, buf.String(), "server started")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("loud", "json", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
