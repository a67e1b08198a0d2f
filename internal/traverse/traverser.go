// Package traverse decides which directories and files take part in a
// digest run and in which order directories are processed.
package traverse

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/types"
)

// Entry is a single listed file or directory after ignore rules.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Listing is one level of a directory after ignore rules and the file size
// limit have been applied. Both slices are sorted by name.
type Listing struct {
	Files   []Entry
	Subdirs []Entry
}

// Traverser applies the ignore rules from Settings to the file system.
// It never returns file system errors: unreadable directories are treated
// as holding whatever could be listed.
type Traverser struct {
	settings   *config.Settings
	logger     *slog.Logger
	extensions map[string]bool
	allowed    map[string]bool
}

// New creates a Traverser for the given settings.
func New(settings *config.Settings, logger *slog.Logger) *Traverser {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	t := &Traverser{
		settings:   settings,
		logger:     logging.OrDiscard(logger).With("component", "traverse"),
		extensions: make(map[string]bool, len(settings.IncludeExtensions)),
		allowed:    make(map[string]bool, len(settings.HiddenAllowList)),
	}
	for _, ext := range settings.IncludeExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		t.extensions[ext] = true
	}
	for _, name := range settings.HiddenAllowList {
		t.allowed[name] = true
	}
	return t
}

// Settings returns the settings the traverser was built with.
func (t *Traverser) Settings() *config.Settings {
	return t.settings
}

// ShouldIgnoreDirectory reports whether a directory is out of scope. Only
// the final path element is inspected.
func (t *Traverser) ShouldIgnoreDirectory(path string) bool {
	name := filepath.Base(path)
	if types.IsArtifactName(name) {
		return true
	}
	if matchesAny(name, t.settings.IgnoreDirs) {
		return true
	}
	return t.isIgnoredHidden(name)
}

// ShouldIgnoreFile reports whether a file is out of scope by name. The size
// limit is applied separately when the file is listed.
func (t *Traverser) ShouldIgnoreFile(path string) bool {
	name := filepath.Base(path)
	if types.IsArtifactName(name) {
		return true
	}
	if matchesAny(name, t.settings.IgnoreFiles) {
		return true
	}
	if t.isIgnoredHidden(name) {
		return true
	}
	if len(t.extensions) > 0 && !t.extensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return false
}

func (t *Traverser) isIgnoredHidden(name string) bool {
	return t.settings.IgnoreHidden && strings.HasPrefix(name, ".") && !t.allowed[name]
}

// matchesAny reports whether name matches one of the glob patterns. A
// malformed pattern is compared literally.
func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == name {
			return true
		}
		matched, err := filepath.Match(pattern, name)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ListDirectory lists one level of dir. Ignored entries, cache artifacts,
// oversized files and symlinked directories are left out. Permission and
// race errors are logged and whatever was listed is returned.
func (t *Traverser) ListDirectory(dir string) Listing {
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.logger.Debug("directory listing incomplete", "dir", dir, "error", err)
	}

	var listing Listing
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		info, isDir, ok := t.statEntry(path, e)
		if !ok {
			continue
		}
		if isDir {
			if t.ShouldIgnoreDirectory(path) {
				continue
			}
			listing.Subdirs = append(listing.Subdirs, Entry{Name: e.Name(), Path: path, ModTime: info.ModTime()})
			continue
		}
		if !info.Mode().IsRegular() || t.ShouldIgnoreFile(path) {
			continue
		}
		if info.Size() > t.settings.MaxFileSize {
			continue
		}
		listing.Files = append(listing.Files, Entry{
			Name:    e.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return listing
}

// statEntry resolves a directory entry. Symlinks to files are followed;
// symlinks to directories are not, which keeps the walk acyclic.
func (t *Traverser) statEntry(path string, e fs.DirEntry) (fs.FileInfo, bool, bool) {
	if e.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			t.logger.Debug("skipping dangling symlink", "path", path, "error", err)
			return nil, false, false
		}
		if info.IsDir() {
			return nil, false, false
		}
		return info, false, true
	}
	info, err := e.Info()
	if err != nil {
		t.logger.Debug("skipping unreadable entry", "path", path, "error", err)
		return nil, false, false
	}
	return info, e.IsDir(), true
}

// SmallTextContent returns the full content of a file when it is within
// the preview ceiling and classified as text.
func (t *Traverser) SmallTextContent(path string, size int64) ([]byte, bool) {
	if size > t.settings.MaxPreviewFileSize {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.logger.Debug("failed to read file", "path", path, "error", err)
		return nil, false
	}
	if !IsLikelyText(path, data) {
		return nil, false
	}
	return data, true
}

// CollectDirectoryInfo builds the DirectoryNode for one directory.
func (t *Traverser) CollectDirectoryInfo(dir string) types.DirectoryNode {
	listing := t.ListDirectory(dir)
	node := types.DirectoryNode{
		Path: dir,
		Name: filepath.Base(dir),
	}
	for _, f := range listing.Files {
		if rec, ok := t.CollectFileInfo(f.Path); ok {
			node.Files = append(node.Files, rec)
		}
	}
	for _, d := range listing.Subdirs {
		node.Subdirs = append(node.Subdirs, d.Name)
	}
	return node
}

// CollectFileInfo describes one file. It returns false when the file is
// unreadable, not a regular file or larger than the configured maximum.
func (t *Traverser) CollectFileInfo(path string) (types.FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return types.FileRecord{}, false
	}
	if info.Size() > t.settings.MaxFileSize {
		return types.FileRecord{}, false
	}

	rec := types.FileRecord{
		Name:      info.Name(),
		Path:      path,
		Extension: strings.ToLower(filepath.Ext(path)),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}

	if content, ok := t.SmallTextContent(path, info.Size()); ok {
		rec.IsText = true
		rec.ContentPreview = preview(content, t.settings.PreviewChars)
		rec.LineCount = countLines(content)
		return rec, true
	}

	if info.Size() <= t.settings.MaxPreviewFileSize {
		// Small but not text: SmallTextContent already ran the heuristic.
		return rec, true
	}
	rec.IsText = IsLikelyText(path, t.readSample(path))
	return rec, true
}

func (t *Traverser) readSample(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, sampleSize)
	n, _ := f.Read(buf)
	return buf[:n]
}

// FindLeafDirectories returns every in-scope directory under root that has
// no in-scope subdirectories, sorted by path.
func (t *Traverser) FindLeafDirectories(root string) []string {
	tree := t.BuildTree(root)
	var leaves []string
	for _, id := range tree.Leaves() {
		leaves = append(leaves, tree.Node(id).Path)
	}
	return leaves
}

// AnalysisOrder returns every in-scope directory under root such that each
// directory appears after all of its in-scope subdirectories. Leaves come
// first, root comes last and each level is sorted by path.
func (t *Traverser) AnalysisOrder(root string) []string {
	tree := t.BuildTree(root)
	var order []string
	for _, level := range tree.Levels() {
		for _, id := range level {
			order = append(order, tree.Node(id).Path)
		}
	}
	return order
}
