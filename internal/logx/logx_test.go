package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("component", "scheduler"))
	log.Warn("tick failed", Int("schedules", 3), Err(errors.New("db down")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "tick failed", m["message"])
	assert.Equal(t, "scheduler", m["component"])
	assert.EqualValues(t, 3, m["schedules"])
	assert.Equal(t, "db down", m["err"])
	assert.Contains(t, m["caller"], "logx_test.go")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
}

func TestZeroValueIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	Nop().Info("still nothing")
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "feeder.log")
	log, closer := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("hello")
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}
