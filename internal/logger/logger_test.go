package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	entry := New().WithComponent("fetcher")
	assert.Equal(t, "fetcher", entry.Entry.Data["component"])
}

func TestConfigureInvalidLevel(t *testing.T) {
	err := New().Configure("loud", "json", "stdout", 0)
	require.Error(t, err)
}

func TestConfigureInvalidFormat(t *testing.T) {
	err := New().Configure("info", "xml", "stdout", 0)
	require.Error(t, err)
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	log.WithComponent("writer").WithFields(Fields{"records": 3}).Info("batch written")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "batch written", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "writer", line["component"])
	assert.EqualValues(t, 3, line["records"])
	assert.Contains(t, line, "timestamp")
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "coinflow.log")
	log := New()
	require.NoError(t, log.Configure("debug", "text", path, 0))
	log.Debug("hello")
	assert.FileExists(t, path)
}

func TestLogDuration(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	LogDuration(log.WithComponent("pipeline"), "fetch", 1500*time.Millisecond, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fetch", line["operation"])
	assert.InDelta(t, 1500.0, line["duration_ms"], 0.001)
}
