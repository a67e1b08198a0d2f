package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Console: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Info("hidden")
	l.Warn("shown", "dir", "src")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "dir=src")
}

func TestNew_FileSinkReceivesDebug(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Config{Level: "info", Dir: dir, Console: &console})
	require.NoError(t, err)

	l.Debug("only in file", "component", "analyzer")
	l.Info("both")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "second close is a no-op")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"only in file"`)
	assert.Contains(t, string(data), `"msg":"both"`)
	assert.NotContains(t, console.String(), "only in file")
	assert.Contains(t, console.String(), "both")
}

func TestNew_QuietWithoutFile(t *testing.T) {
	l, err := New(Config{Quiet: true})
	require.NoError(t, err)
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := slog.Default()
	assert.Same(t, l, OrDiscard(l))
}
