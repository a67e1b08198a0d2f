package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, config.DefaultSettings(), Options{Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// startWatcher runs w in the background and forwards every batch.
func startWatcher(t *testing.T, w *Watcher) <-chan []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed []string) {
			batches <- changed
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return batches
}

func nextBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
		return nil
	}
}

func TestWatchedDirectoriesFollowIgnoreRules(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, types.StateDirName), 0755))

	w := newTestWatcher(t, root)
	assert.ElementsMatch(t, []string{root, filepath.Join(root, "src")}, w.Watched())
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(root, "src", "notes.log"), "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0755))
	w := newTestWatcher(t, root)

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{"source write", "src/main.go", fsnotify.Write, true},
		{"chmod only", "src/main.go", fsnotify.Chmod, false},
		{"ignored file pattern", "src/notes.log", fsnotify.Write, false},
		{"digest artifact", "src/digest.json", fsnotify.Create, false},
		{"hash artifact", "src/.digin_hash", fsnotify.Write, false},
		{"temp artifact", "src/.digin-tmp-123", fsnotify.Create, false},
		{"state dir", ".digin/index.db", fsnotify.Write, false},
		{"inside ignored dir", "node_modules/x/index.js", fsnotify.Write, false},
		{"new directory", "pkg", fsnotify.Create, true},
		{"ignored directory", "dist", fsnotify.Create, false},
		{"removed directory", "gone", fsnotify.Remove, true},
		{"removed source", "src/old.go", fsnotify.Remove, true},
		{"removed ignored", "src/old.pyc", fsnotify.Remove, false},
		{"root itself", ".", fsnotify.Write, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := fsnotify.Event{Name: filepath.Join(root, filepath.FromSlash(tt.path)), Op: tt.op}
			assert.Equal(t, tt.want, w.relevant(ev))
		})
	}
}

func TestRunDeliversDebouncedBatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	w := newTestWatcher(t, root)
	batches := startWatcher(t, w)

	writeFile(t, filepath.Join(root, "b.go"), "package a")
	writeFile(t, filepath.Join(root, "a.go"), "package a // edited")

	batch := nextBatch(t, batches)
	assert.Contains(t, batch, filepath.Join(root, "b.go"))
}

func TestRunIgnoresArtifactWrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	w := newTestWatcher(t, root)
	batches := startWatcher(t, w)

	writeFile(t, filepath.Join(root, types.DigestFileName), "{}")
	writeFile(t, filepath.Join(root, types.FingerprintFileName), "abc")

	select {
	case b := <-batches:
		t.Fatalf("unexpected batch %v", b)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRunWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	w := newTestWatcher(t, root)
	batches := startWatcher(t, w)

	pkg := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(pkg, 0755))
	first := nextBatch(t, batches)
	assert.Contains(t, first, pkg)

	writeFile(t, filepath.Join(pkg, "c.go"), "package pkg")
	second := nextBatch(t, batches)
	assert.Contains(t, second, filepath.Join(pkg, "c.go"))
}

func TestNewFailsForMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), config.DefaultSettings(), Options{}, nil)
	assert.Error(t, err)
}
