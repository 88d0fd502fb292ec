package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"reelgraph/internal/config"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(&buf, "json", zerolog.InfoLevel)
	require.NoError(t, err)

	jobsLogger := Component(logger, "jobs")
	jobsLogger.Info().Str("node_id", "n1").Msg("Polling")
	logger.Debug().Msg("hidden")

	line := buf.String()
	assert.Equal(t, "jobs", gjson.Get(line, "component").String())
	assert.Equal(t, "n1", gjson.Get(line, "node_id").String())
	assert.Equal(t, "Polling", gjson.Get(line, "message").String())
	assert.NotContains(t, line, "hidden")
}

func TestBuildRejectsUnknownFormat(t *testing.T) {
	_, err := build(&bytes.Buffer{}, "xml", zerolog.InfoLevel)
	assert.Error(t, err)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reelsync.log")
	logger, closeFn, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Msg("hello")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", gjson.GetBytes(data, "message").String())
}
