package traverse

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/types"
)

// writeTree creates files under root; a path ending in "/" creates an
// empty directory.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(p, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func testSettings() *config.Settings {
	s := config.DefaultSettings()
	s.IgnoreDirs = []string{"cache", "node_modules"}
	return s
}

func TestShouldIgnoreDirectory(t *testing.T) {
	tr := New(testSettings(), nil)

	assert.True(t, tr.ShouldIgnoreDirectory("/x/cache"))
	assert.True(t, tr.ShouldIgnoreDirectory("/x/node_modules"))
	assert.True(t, tr.ShouldIgnoreDirectory("/x/.idea"), "hidden")
	assert.True(t, tr.ShouldIgnoreDirectory("/x/.digin"), "state directory")
	assert.False(t, tr.ShouldIgnoreDirectory("/x/.github"), "allow-listed hidden")
	assert.False(t, tr.ShouldIgnoreDirectory("/x/src"))

	s := testSettings()
	s.IgnoreHidden = false
	assert.False(t, New(s, nil).ShouldIgnoreDirectory("/x/.idea"))

	s.IgnoreDirs = []string{"gen-*"}
	assert.True(t, New(s, nil).ShouldIgnoreDirectory("/x/gen-proto"))
}

func TestShouldIgnoreFile(t *testing.T) {
	tr := New(testSettings(), nil)

	tests := []struct {
		path   string
		ignore bool
	}{
		{"/x/main.go", false},
		{"/x/app.PY", false},
		{"/x/README.md", true},      // not in allow-list
		{"/x/Makefile", true},       // no extension
		{"/x/debug.log", true},      // ignore glob
		{"/x/.secret.go", true},     // hidden
		{"/x/digest.json", true},    // cache artifact
		{"/x/.digin_hash", true},    // cache artifact
		{"/x/module.pyc", true},     // ignore glob wins over extension
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			assert.Equal(t, tt.ignore, tr.ShouldIgnoreFile(tt.path))
		})
	}

	s := testSettings()
	s.IncludeExtensions = nil
	open := New(s, nil)
	assert.False(t, open.ShouldIgnoreFile("/x/README.md"), "empty allow-list admits everything")
	assert.True(t, open.ShouldIgnoreFile("/x/digest.json"), "artifacts stay excluded")
}

func TestFindLeafDirectories_IgnoreTotality(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"cmd/main.go":             "package main",
		"pkg/a/a.go":              "package a",
		"pkg/b/b.go":              "package b",
		"pkg/b/cache/blob.go":     "package cache",
		"cache/x.go":              "package x",
		"cache/deep/y.go":         "package y",
		"node_modules/lib/i.js":   "x",
		"docs/":                   "",
	})

	tr := New(testSettings(), nil)
	leaves := tr.FindLeafDirectories(root)

	assert.Equal(t, []string{
		filepath.Join(root, "cmd"),
		filepath.Join(root, "docs"),
		filepath.Join(root, "pkg", "a"),
		filepath.Join(root, "pkg", "b"),
	}, leaves)
	for _, l := range leaves {
		assert.False(t, strings.HasPrefix(l, filepath.Join(root, "cache")), "leaf %s is inside an ignored subtree", l)
		assert.NotEqual(t, filepath.Join(root, "pkg", "b", "cache"), l)
	}
}

func TestAnalysisOrder_ChildrenBeforeParents(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/a.go":         "package a",
		"a/b/b.go":       "package b",
		"a/b/c/c.go":     "package c",
		"a/d/d.go":       "package d",
		"e/e.go":         "package e",
		"f/g/h/i/j.go":   "package j",
		"cache/skip.go":  "package skip",
	})

	tr := New(testSettings(), nil)
	order := tr.AnalysisOrder(root)

	require.NotEmpty(t, order)
	assert.Equal(t, root, order[len(order)-1], "root is last")

	position := make(map[string]int, len(order))
	for i, p := range order {
		_, dup := position[p]
		require.False(t, dup, "directory %s appears twice", p)
		position[p] = i
	}
	for _, dir := range order {
		for _, sub := range tr.ListDirectory(dir).Subdirs {
			subPos, ok := position[sub.Path]
			require.True(t, ok, "subdirectory %s missing from order", sub.Path)
			assert.Less(t, subPos, position[dir], "%s must come before %s", sub.Path, dir)
		}
	}
	assert.NotContains(t, order, filepath.Join(root, "cache"))

	// leaves first, sorted by path
	assert.Equal(t, []string{
		filepath.Join(root, "a", "b", "c"),
		filepath.Join(root, "a", "d"),
		filepath.Join(root, "e"),
		filepath.Join(root, "f", "g", "h", "i"),
	}, order[:4])
}

func TestAnalysisOrder_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"z/z.go": "package z",
		"m/m.go": "package m",
		"a/a.go": "package a",
	})
	tr := New(testSettings(), nil)
	assert.Equal(t, tr.AnalysisOrder(root), tr.AnalysisOrder(root))
}

func TestBuildTree_MaxDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a/b/c/d.go": "package d"})

	s := testSettings()
	s.MaxDepth = 2
	tree := New(s, nil).BuildTree(root)

	assert.Equal(t, 3, tree.Len())
	_, ok := tree.Lookup(filepath.Join(root, "a", "b", "c"))
	assert.False(t, ok)
	id, ok := tree.Lookup(filepath.Join(root, "a", "b"))
	require.True(t, ok)
	assert.True(t, tree.Node(id).IsLeaf())
	assert.Equal(t, filepath.Join("a", "b"), tree.Node(id).Rel)
}

func TestTree_LevelsRootAlone(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x.go":   "package a",
		"b/c/y.go": "package c",
	})
	tree := New(testSettings(), nil).BuildTree(root)
	levels := tree.Levels()

	require.Len(t, levels, 3)
	last := levels[len(levels)-1]
	require.Len(t, last, 1)
	assert.Equal(t, tree.Root().ID, last[0])
	assert.Equal(t, NoParent, tree.Root().Parent)
}

func TestCollectDirectoryInfo(t *testing.T) {
	root := t.TempDir()
	big := strings.Repeat("x", 2048)
	writeTree(t, root, map[string]string{
		"main.go":        "package main\n\nfunc main() {}\n",
		"big.go":         big,
		"notes.txt":      "ignored by extension",
		"digest.json":    "{}",
		"sub/inner.go":   "package sub",
		".hidden/h.go":   "package h",
	})

	s := testSettings()
	s.MaxFileSize = 1024
	s.PreviewChars = 12
	tr := New(s, nil)

	node := tr.CollectDirectoryInfo(root)
	require.Len(t, node.Files, 1, "oversized and ignored files are invisible")
	f := node.Files[0]
	assert.Equal(t, "main.go", f.Name)
	assert.Equal(t, ".go", f.Extension)
	assert.True(t, f.IsText)
	assert.Equal(t, "package main", f.ContentPreview)
	assert.Equal(t, 3, f.LineCount)
	assert.Equal(t, []string{"sub"}, node.Subdirs)
}

func TestCollectFileInfo_PreviewCeiling(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("line of go code\n", 100)
	writeTree(t, root, map[string]string{"large.go": content})

	s := testSettings()
	s.MaxPreviewFileSize = 64
	rec, ok := New(s, nil).CollectFileInfo(filepath.Join(root, "large.go"))
	require.True(t, ok)
	assert.True(t, rec.IsText)
	assert.Empty(t, rec.ContentPreview, "no preview above the preview ceiling")
	assert.Equal(t, int64(len(content)), rec.Size)
}

func TestCollectFileInfo_BinarySample(t *testing.T) {
	root := t.TempDir()
	bin := []byte{0x7f, 'E', 'L', 'F', 0, 0, 1, 2, 3}
	require.NoError(t, os.WriteFile(filepath.Join(root, "tool"), bin, 0644))

	s := testSettings()
	s.IncludeExtensions = nil
	rec, ok := New(s, nil).CollectFileInfo(filepath.Join(root, "tool"))
	require.True(t, ok)
	assert.False(t, rec.IsText)
	assert.Empty(t, rec.ContentPreview)
}

func TestListDirectory_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{"locked/a.go": "package a", "open/b.go": "package b"})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	tr := New(testSettings(), nil)
	listing := tr.ListDirectory(locked)
	assert.Empty(t, listing.Files)
	assert.Empty(t, listing.Subdirs)

	order := tr.AnalysisOrder(root)
	assert.Contains(t, order, locked, "unreadable directory is still a (empty) leaf")
}

func TestListDirectory_SymlinkedDirectoryNotFollowed(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"real/a.go": "package a"})
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	listing := New(testSettings(), nil).ListDirectory(root)
	require.Len(t, listing.Subdirs, 1)
	assert.Equal(t, "real", listing.Subdirs[0].Name)
}

func TestIsLikelyText(t *testing.T) {
	assert.True(t, IsLikelyText("main.go", nil))
	assert.False(t, IsLikelyText("logo.png", []byte("plain")))
	assert.True(t, IsLikelyText("LICENSE", []byte("Permission is hereby granted")))
	assert.False(t, IsLikelyText("blob", []byte{1, 2, 3, 4, 5, 6, 7, 8, 'a', 'b'}))
	assert.False(t, IsLikelyText("blob", []byte("abc\x00def")))
	assert.False(t, IsLikelyText("blob", nil))
	assert.True(t, IsLikelyText("empty", []byte{}))
}

func TestPreview_RuneSafe(t *testing.T) {
	assert.Equal(t, "héll", preview([]byte("héllo"), 4))
	assert.Equal(t, "hi", preview([]byte("hi"), 10))
	assert.Equal(t, "", preview([]byte("hi"), 0))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "Go", DetectLanguage("x.go"))
	assert.Equal(t, "TypeScript", DetectLanguage("App.TSX"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func TestArtifactNamesAreNeverListed(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		types.DigestFileName:      "{}",
		types.FingerprintFileName: "abc",
		".digin/index.db":         "",
		"a.go":                    "package a",
	})
	s := testSettings()
	s.IgnoreHidden = false
	s.IncludeExtensions = nil
	listing := New(s, nil).ListDirectory(root)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "a.go", listing.Files[0].Name)
	assert.Empty(t, listing.Subdirs)
}
