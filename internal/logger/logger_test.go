package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(Options{Name: "rtsphls", Level: "debug", Format: "json", Output: &buf})
	defer closer.Close()

	l.Named("supervisor").Debug("session started", "session_id", "abc")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session started", entry["@message"])
	assert.Equal(t, "rtsphls.supervisor", entry["@module"])
	assert.Equal(t, "abc", entry["session_id"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{Level: "warn", Output: &buf})

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, _ := New(Options{Level: "chatty", Output: &bytes.Buffer{}})
	assert.True(t, l.IsInfo())
	assert.False(t, l.IsDebug())
}

func TestNew_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "rtsphls.log")

	l, closer := New(Options{Output: &buf, FilePath: path, MaxSizeMB: 1, EnableColors: true})
	l.Info("to both sinks")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both sinks")
	assert.Contains(t, buf.String(), "to both sinks")

	// No colour escape codes when writing to a file
	assert.False(t, strings.Contains(string(data), "\x1b["))
}

func TestPackageHelpers(t *testing.T) {
	prev := hclog.Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	l, _ := New(Options{Level: "debug", Output: &buf})
	SetDefault(l)

	Debug("debug line", "k", 1)
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	for _, want := range []string{"debug line", "k=1", "info line", "warn line", "error line"} {
		assert.Contains(t, out, want)
	}
	assert.Same(t, l, Default())
}
