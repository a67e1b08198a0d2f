package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/digin/internal/types"
)

// IndexPathEnv overrides where the run index lives. ":memory:" is allowed
// and is what tests use for isolation.
const IndexPathEnv = "DIGIN_INDEX_PATH"

// IndexFileName is the database file inside the state directory.
const IndexFileName = "index.db"

// DiscoverIndex returns the index path for a tree rooted at root. An
// explicit path wins, then $DIGIN_INDEX_PATH, then <root>/.digin/index.db.
// Only root itself is consulted; a parent project's index is never picked up.
func DiscoverIndex(root, explicit string) (string, error) {
	if explicit != "" {
		return absIndexPath(explicit)
	}
	if p := os.Getenv(IndexPathEnv); p != "" {
		return absIndexPath(p)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return "", fmt.Errorf("cannot use %s: %w", root, err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}
	return filepath.Join(absRoot, types.StateDirName, IndexFileName), nil
}

func absIndexPath(p string) (string, error) {
	if p == ":memory:" {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

// StateDir returns the state directory of the tree at root.
func StateDir(root string) string {
	return filepath.Join(root, types.StateDirName)
}

// isAtOrBelow checks if path is at or below root in the directory tree.
func isAtOrBelow(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// ValidateAlignment refuses an index that lives inside the analyzed tree but
// outside its state directory, where it would be hashed and analyzed as
// ordinary content.
func ValidateAlignment(indexPath, root string) error {
	if indexPath == ":memory:" {
		return nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if !isAtOrBelow(indexPath, absRoot) {
		return nil
	}
	if isAtOrBelow(indexPath, StateDir(absRoot)) {
		return nil
	}
	return fmt.Errorf(
		"index %s is inside the analyzed tree %s\n"+
			"  Keep it under %s or outside the tree",
		indexPath, absRoot, StateDir(absRoot))
}
