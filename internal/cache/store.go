// Package cache persists digests next to the directories they describe and
// decides when a persisted digest can be reused.
//
// Each analyzed directory carries two artifacts: digest.json holds the
// serialized digest and .digin_hash holds the fingerprint of the directory
// state it was built from. A lookup is a hit only when both exist, parse and
// the stored fingerprint equals a freshly computed one.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

// fingerprintVersion is mixed into every fingerprint so a change to the
// hashing scheme invalidates old entries.
const fingerprintVersion = "digin-fingerprint/v1"

// Fingerprint is the hex-encoded hash of a directory's analyzable state.
type Fingerprint string

// Store reads and writes cache artifacts. It shares its ignore rules with
// the Traverser it is built on.
type Store struct {
	traverser *traverse.Traverser
	salt      string
	logger    *slog.Logger
}

// New creates a Store that hashes directories the way traverser lists them.
func New(settings *config.Settings, traverser *traverse.Traverser, logger *slog.Logger) *Store {
	if settings == nil {
		settings = traverser.Settings()
	}
	return &Store{
		traverser: traverser,
		salt:      settings.FingerprintSalt(),
		logger:    logging.OrDiscard(logger).With("component", "cache"),
	}
}

// ComputeFingerprint hashes the output-affecting settings, every in-scope
// file of dir (name, mtime, size, and content for small text files) and the
// stored fingerprint of every in-scope subdirectory that has one. Because
// subdirectory fingerprints are folded in, a change anywhere below dir
// changes dir's fingerprint once the changed descendants are re-saved.
func (s *Store) ComputeFingerprint(dir string) Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", fingerprintVersion, s.salt)

	listing := s.traverser.ListDirectory(dir)
	for _, f := range listing.Files {
		h.Write([]byte("f\x00"))
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(f.ModTime.UnixNano(), 10)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(f.Size, 10)))
		h.Write([]byte{0})
		if content, ok := s.traverser.SmallTextContent(f.Path, f.Size); ok {
			sum := sha256.Sum256(content)
			h.Write(sum[:])
		}
		h.Write([]byte{'\n'})
	}
	for _, d := range listing.Subdirs {
		fp, ok := s.StoredFingerprint(d.Path)
		if !ok {
			continue
		}
		h.Write([]byte("d\x00"))
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		h.Write([]byte(fp))
		h.Write([]byte{'\n'})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// StoredFingerprint reads the fingerprint artifact of dir.
func (s *Store) StoredFingerprint(dir string) (Fingerprint, bool) {
	data, err := os.ReadFile(filepath.Join(dir, types.FingerprintFileName))
	if err != nil {
		return "", false
	}
	fp := strings.TrimSpace(string(data))
	if !validFingerprint(fp) {
		return "", false
	}
	return Fingerprint(fp), true
}

func validFingerprint(fp string) bool {
	if len(fp) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(fp)
	return err == nil
}

// Get returns the cached digest for dir, or false on a miss. Missing,
// unreadable, corrupt or stale artifacts are all misses.
func (s *Store) Get(dir string) (*types.Digest, bool) {
	stored, ok := s.StoredFingerprint(dir)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(dir, types.DigestFileName))
	if err != nil {
		return nil, false
	}
	if current := s.ComputeFingerprint(dir); current != stored {
		s.logger.Debug("cache stale", "dir", dir)
		return nil, false
	}

	var d types.Digest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&d); err != nil {
		s.logger.Debug("cache entry corrupt", "dir", dir, "error", err)
		return nil, false
	}
	if err := d.Validate(); err != nil {
		s.logger.Debug("cache entry invalid", "dir", dir, "error", err)
		return nil, false
	}
	return &d, true
}

// Save persists digest for dir together with a freshly computed
// fingerprint, replacing any previous entry. The old fingerprint is removed
// first and the new one written last, so an interrupted save leaves an
// entry that reads as a miss.
//
// digest is compacted in place before it is written, so a later Get
// returns a value equal to it.
func (s *Store) Save(dir string, digest *types.Digest) (Fingerprint, error) {
	if err := digest.Validate(); err != nil {
		return "", fmt.Errorf("refusing to cache invalid digest for %s: %w", dir, err)
	}
	digest.Compact()
	data, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode digest: %w", err)
	}

	hashPath := filepath.Join(dir, types.FingerprintFileName)
	if err := os.Remove(hashPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale fingerprint: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, types.DigestFileName), append(data, '\n')); err != nil {
		return "", fmt.Errorf("failed to write digest: %w", err)
	}
	fp := s.ComputeFingerprint(dir)
	if err := writeFileAtomic(hashPath, []byte(string(fp)+"\n")); err != nil {
		return "", fmt.Errorf("failed to write fingerprint: %w", err)
	}
	return fp, nil
}

// Clear removes the cache artifacts of dir, and of every directory below it
// when recursive is set. It returns how many directories had artifacts.
// Clearing a directory without artifacts is a no-op.
func (s *Store) Clear(dir string, recursive bool) (int, error) {
	if !recursive {
		removed, err := clearOne(dir)
		if err != nil {
			return 0, err
		}
		if removed {
			return 1, nil
		}
		return 0, nil
	}

	cleared := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees cannot hold artifacts we could remove anyway
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		removed, err := clearOne(path)
		if err != nil {
			return err
		}
		if removed {
			cleared++
		}
		return nil
	})
	return cleared, err
}

func clearOne(dir string) (bool, error) {
	removed := false
	for _, name := range []string{types.FingerprintFileName, types.DigestFileName} {
		err := os.Remove(filepath.Join(dir, name))
		switch {
		case err == nil:
			removed = true
		case os.IsNotExist(err):
		default:
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return removed, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), types.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
