package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "verbose")
	require.Error(t, err)
}

func TestNewRendersCustomLevelStringsAndMessageKey(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, LevelDebugString)
	require.NoError(t, err)

	logger.Warn("something happened", "policy", "privileged-pods")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, LevelWarnString, decoded[slog.LevelKey])
	assert.Equal(t, "something happened", decoded["message"])
	assert.Equal(t, "privileged-pods", decoded["policy"])
}

func TestNewFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, LevelErrorString)
	require.NoError(t, err)

	logger.Info("should not appear")
	assert.Empty(t, buf.Bytes())

	logger.Error("should appear")
	assert.NotEmpty(t, buf.Bytes())
}
