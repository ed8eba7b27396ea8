package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"mirsync/internal/hash"
)

// EntryKind distinguishes files from directories in a snapshot.
type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
)

// FileEntry describes one filesystem object found under a scanned root.
// Paths are relative to the root and forward-slash normalized so they
// can be compared across trees. Directories carry no digest.
type FileEntry struct {
	Path   string    `json:"path"`
	Kind   EntryKind `json:"kind"`
	Digest string    `json:"digest,omitempty"`
	Size   int64     `json:"size,omitempty"`
}

// SkippedEntry records a path that was visited but could not be
// included in the snapshot (unreadable file, symlink, special file).
type SkippedEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Snapshot is a full in-memory listing of one tree, keyed by relative
// path. It is captured at one point in time and never persisted.
type Snapshot struct {
	Root    string
	Entries map[string]FileEntry
	Skipped []SkippedEntry
}

// ScanError reports that a root itself was inaccessible. Per-file
// problems below the root never surface as a ScanError; they are
// recorded on the snapshot as skipped entries instead.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Empty returns a snapshot with no entries for root. Used when the
// replica root does not exist yet.
func Empty(root string) *Snapshot {
	return &Snapshot{Root: root, Entries: make(map[string]FileEntry)}
}

// Scan walks the tree rooted at root and produces one FileEntry per
// file and directory found, hashing every regular file. Symlinks and
// special files are skipped with a warning. The walk visits
// directories before their contents.
func Scan(root string, logger *zap.Logger) (*Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	snap := Empty(root)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			rel := relKey(root, path)
			logger.Warn("skipping unreadable path",
				zap.String("path", rel),
				zap.Error(err))
			snap.Skipped = append(snap.Skipped, SkippedEntry{Path: rel, Reason: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if path == root {
			return nil
		}

		rel := relKey(root, path)

		if d.IsDir() {
			snap.Entries[rel] = FileEntry{Path: rel, Kind: KindDir}
			return nil
		}

		if !d.Type().IsRegular() {
			logger.Warn("skipping non-regular file",
				zap.String("path", rel),
				zap.String("mode", d.Type().String()))
			snap.Skipped = append(snap.Skipped, SkippedEntry{Path: rel, Reason: "not a regular file"})
			return nil
		}

		digest, size, err := hash.File(path)
		if err != nil {
			logger.Warn("skipping unhashable file",
				zap.String("path", rel),
				zap.Error(err))
			snap.Skipped = append(snap.Skipped, SkippedEntry{Path: rel, Reason: err.Error()})
			return nil
		}

		snap.Entries[rel] = FileEntry{Path: rel, Kind: KindFile, Digest: digest, Size: size}
		return nil
	})
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	return snap, nil
}

func relKey(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
