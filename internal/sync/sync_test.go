package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mirsync/internal/plan"
	"mirsync/internal/snapshot"
)

// writeTree materializes a tree. Keys ending in "/" become directories,
// everything else a file with the value as content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(path, "/")))
		if strings.HasSuffix(path, "/") {
			require.NoError(t, os.MkdirAll(abs, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func scanTree(t *testing.T, root string) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Scan(root, zap.NewNop())
	require.NoError(t, err)
	return snap
}

// assertMirrored checks the convergence invariant: equal path sets and
// equal per-file digests.
func assertMirrored(t *testing.T, source, replica string) {
	t.Helper()
	src := scanTree(t, source)
	dst := scanTree(t, replica)

	require.Len(t, dst.Entries, len(src.Entries))
	for path, se := range src.Entries {
		de, ok := dst.Entries[path]
		require.True(t, ok, "missing from replica: %s", path)
		assert.Equal(t, se.Kind, de.Kind, path)
		assert.Equal(t, se.Digest, de.Digest, path)
	}
}

func newTestSyncer(t *testing.T, files map[string]string) (*Syncer, string, string) {
	t.Helper()
	source := t.TempDir()
	replica := filepath.Join(t.TempDir(), "replica")
	writeTree(t, source, files)
	return New(source, replica, zap.NewNop()), source, replica
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("populates an empty replica", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{
			"a.txt":     "hi",
			"sub/b.txt": "yo",
		})

		report := s.RunCycle(ctx)
		require.Empty(t, report.Fatal)
		require.Empty(t, report.Failures)

		assert.Equal(t, 1, report.DirsCreated)
		assert.Equal(t, 2, report.FilesCopied)
		assert.Equal(t, 0, report.FilesDeleted)
		assert.Equal(t, 0, report.DirsDeleted)
		assert.NotEmpty(t, report.ID)
		assert.False(t, report.FinishedAt.Before(report.StartedAt))

		assertMirrored(t, source, replica)
	})

	t.Run("second cycle with no changes is a no-op", func(t *testing.T) {
		s, _, _ := newTestSyncer(t, map[string]string{
			"a.txt":     "hi",
			"sub/b.txt": "yo",
		})

		first := s.RunCycle(ctx)
		require.True(t, first.Changed())

		second := s.RunCycle(ctx)
		require.Empty(t, second.Fatal)
		assert.False(t, second.Changed())
		assert.Zero(t, second.FilesCopied)
		assert.Zero(t, second.DirsCreated)
		assert.Zero(t, second.FilesDeleted)
		assert.Zero(t, second.DirsDeleted)
	})

	t.Run("removes extraneous replica entries without touching matches", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{"a.txt": "hi"})
		writeTree(t, replica, map[string]string{
			"a.txt":   "hi",
			"old.txt": "x",
			"stale/":  "",
		})

		before, err := os.Stat(filepath.Join(replica, "a.txt"))
		require.NoError(t, err)

		report := s.RunCycle(ctx)
		require.Empty(t, report.Fatal)
		assert.Equal(t, 1, report.FilesDeleted)
		assert.Equal(t, 1, report.DirsDeleted)
		assert.Zero(t, report.FilesCopied)

		after, err := os.Stat(filepath.Join(replica, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, before.ModTime(), after.ModTime(), "matching file must not be rewritten")

		assertMirrored(t, source, replica)
	})

	t.Run("converges from an arbitrary replica state", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{
			"keep.txt":        "same",
			"changed.txt":     "new content",
			"nested/deep.txt": "deep",
			"empty/":          "",
		})
		writeTree(t, replica, map[string]string{
			"keep.txt":         "same",
			"changed.txt":      "old content",
			"extraneous.txt":   "junk",
			"dead/wood.txt":    "junk",
			"dead/more/x.file": "junk",
		})

		report := s.RunCycle(ctx)
		require.Empty(t, report.Fatal)
		require.Empty(t, report.Failures)

		assertMirrored(t, source, replica)

		content, err := os.ReadFile(filepath.Join(replica, "changed.txt"))
		require.NoError(t, err)
		assert.Equal(t, "new content", string(content))
	})

	t.Run("never mutates the source", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{
			"a.txt":     "hi",
			"sub/b.txt": "yo",
		})
		writeTree(t, replica, map[string]string{"extraneous.txt": "junk"})

		before := scanTree(t, source)
		s.RunCycle(ctx)
		s.RunCycle(ctx)
		after := scanTree(t, source)

		assert.Equal(t, before.Entries, after.Entries)
	})

	t.Run("touched but unchanged file is not re-copied", func(t *testing.T) {
		s, source, _ := newTestSyncer(t, map[string]string{"a.txt": "stable"})
		require.True(t, s.RunCycle(ctx).Changed())

		past := time.Now().Add(-24 * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(source, "a.txt"), past, past))

		report := s.RunCycle(ctx)
		assert.Zero(t, report.FilesCopied)
	})

	t.Run("changed bytes under a constant timestamp are re-copied", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{"a.txt": "aa"})
		require.True(t, s.RunCycle(ctx).Changed())

		srcFile := filepath.Join(source, "a.txt")
		info, err := os.Stat(srcFile)
		require.NoError(t, err)

		// Same length, same mtime, different bytes.
		require.NoError(t, os.WriteFile(srcFile, []byte("bb"), 0o644))
		require.NoError(t, os.Chtimes(srcFile, info.ModTime(), info.ModTime()))

		report := s.RunCycle(ctx)
		assert.Equal(t, 1, report.FilesCopied)

		content, err := os.ReadFile(filepath.Join(replica, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "bb", string(content))
	})

	t.Run("replica root is created when missing", func(t *testing.T) {
		source := t.TempDir()
		replica := filepath.Join(t.TempDir(), "deep", "replica")
		writeTree(t, source, map[string]string{"a.txt": "hi"})

		report := New(source, replica, zap.NewNop()).RunCycle(ctx)
		require.Empty(t, report.Fatal)
		assertMirrored(t, source, replica)
	})

	t.Run("missing source root is fatal", func(t *testing.T) {
		source := filepath.Join(t.TempDir(), "gone")
		replica := t.TempDir()
		writeTree(t, replica, map[string]string{"survivor.txt": "x"})

		report := New(source, replica, zap.NewNop()).RunCycle(ctx)
		assert.NotEmpty(t, report.Fatal)
		assert.False(t, report.Changed())

		// Nothing may be applied against a failed scan.
		_, err := os.Stat(filepath.Join(replica, "survivor.txt"))
		assert.NoError(t, err)
	})

	t.Run("empty source directory is recreated eagerly", func(t *testing.T) {
		s, _, replica := newTestSyncer(t, map[string]string{"hollow/": ""})
		require.Equal(t, 1, s.RunCycle(ctx).DirsCreated)

		require.NoError(t, os.Remove(filepath.Join(replica, "hollow")))

		report := s.RunCycle(ctx)
		assert.Equal(t, 1, report.DirsCreated)
	})

	t.Run("one failed operation does not stop the rest", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission checks do not apply to root")
		}

		s, _, replica := newTestSyncer(t, map[string]string{
			"a.txt":    "first",
			"locked/":  "",
			"locked/b": "second",
			"m/c.txt":  "third",
		})

		// Pre-create the directory read-only so the copy into it fails.
		require.NoError(t, os.MkdirAll(replica, 0o755))
		lockedDir := filepath.Join(replica, "locked")
		require.NoError(t, os.Mkdir(lockedDir, 0o555))
		t.Cleanup(func() { os.Chmod(lockedDir, 0o755) })

		report := s.RunCycle(context.Background())
		require.Empty(t, report.Fatal)

		require.Len(t, report.Failures, 1)
		assert.Equal(t, plan.OpCopyFile, report.Failures[0].Op)
		assert.Equal(t, "locked/b", report.Failures[0].Path)

		// The remaining operations still ran, including the copy
		// ordered after the failed one.
		assert.Equal(t, 2, report.FilesCopied)
		_, err := os.Stat(filepath.Join(replica, "m", "c.txt"))
		assert.NoError(t, err)
	})

	t.Run("unreadable source file is skipped, not fatal", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission checks do not apply to root")
		}

		s, source, replica := newTestSyncer(t, map[string]string{
			"ok.txt":     "fine",
			"secret.txt": "hidden",
		})
		require.NoError(t, os.Chmod(filepath.Join(source, "secret.txt"), 0o000))
		t.Cleanup(func() { os.Chmod(filepath.Join(source, "secret.txt"), 0o644) })

		report := s.RunCycle(ctx)
		require.Empty(t, report.Fatal)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 1, report.FilesCopied)

		_, err := os.Stat(filepath.Join(replica, "ok.txt"))
		assert.NoError(t, err)
	})

	t.Run("cancelled context stops before the first operation", func(t *testing.T) {
		s, _, replica := newTestSyncer(t, map[string]string{"a.txt": "hi"})

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		report := s.RunCycle(cancelled)
		require.Empty(t, report.Fatal)
		assert.False(t, report.Changed())
		assert.Empty(t, report.Failures)

		_, err := os.Stat(filepath.Join(replica, "a.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("copy preserves source permission bits", func(t *testing.T) {
		s, source, replica := newTestSyncer(t, map[string]string{"run.sh": "#!/bin/sh\n"})
		require.NoError(t, os.Chmod(filepath.Join(source, "run.sh"), 0o755))

		require.Empty(t, s.RunCycle(ctx).Failures)

		info, err := os.Stat(filepath.Join(replica, "run.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	})
}

func TestCycleReport(t *testing.T) {
	now := time.Now()
	r := &CycleReport{StartedAt: now, FinishedAt: now.Add(time.Second)}
	assert.Equal(t, time.Second, r.Duration())
	assert.False(t, r.Changed())
	assert.True(t, r.Clean())

	r.FilesCopied = 1
	assert.True(t, r.Changed())

	r.Failures = append(r.Failures, OpFailure{Path: "x", Op: plan.OpCopyFile, Error: "boom"})
	assert.False(t, r.Clean())
}
