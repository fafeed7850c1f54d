package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("WARN")

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	Error("boom: %s", "disk")

	var line struct {
		Level   string `json:"level"`
		Message string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "ERROR", line.Level)
	assert.Equal(t, "boom: disk", line.Message)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfs.log")
	require.NoError(t, Configure("DEBUG", "text", path))
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
	})

	Debug("mounted %s", "/data")
	SetOutput(os.Stdout) // closes the file

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[DEBUG] mounted /data"))
	assert.True(t, Enabled(LevelDebug))
}
