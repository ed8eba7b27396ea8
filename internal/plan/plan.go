package plan

import (
	"fmt"
	"sort"
	"strings"

	"mirsync/internal/snapshot"
)

// OpKind identifies the kind of filesystem mutation an Operation
// performs on the replica.
type OpKind string

const (
	OpCreateDir  OpKind = "CreateDir"
	OpCopyFile   OpKind = "CopyFile"
	OpDeleteFile OpKind = "DeleteFile"
	OpDeleteDir  OpKind = "DeleteDir"
)

// Operation is one step of a change plan. Path is relative to both
// roots; for OpCopyFile the source of the copy is the same relative
// path under the source root.
type Operation struct {
	Kind OpKind `json:"kind"`
	Path string `json:"path"`
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.Kind, o.Path)
}

// Plan is an ordered sequence of operations that converges the replica
// to the source. The ordering guarantees sequential execution is safe:
// deletions run first, deepest paths before their parents, so a
// directory is only removed once empty and a path changing kind is
// cleared before its replacement; directory creations follow, parents
// before children; file copies run last.
type Plan []Operation

// Diff compares a source snapshot against a replica snapshot and
// returns the plan that converges the replica to the source. It is a
// pure function of the two snapshots and performs no I/O.
func Diff(src, dst *snapshot.Snapshot) Plan {
	var creates, copies, deletes Plan

	for path, se := range src.Entries {
		de, ok := dst.Entries[path]
		switch se.Kind {
		case snapshot.KindDir:
			if !ok || de.Kind != snapshot.KindDir {
				creates = append(creates, Operation{Kind: OpCreateDir, Path: path})
			}
		case snapshot.KindFile:
			if !ok || de.Kind != snapshot.KindFile || de.Digest != se.Digest {
				copies = append(copies, Operation{Kind: OpCopyFile, Path: path})
			}
		}
	}

	for path, de := range dst.Entries {
		se, ok := src.Entries[path]
		if ok && se.Kind == de.Kind {
			continue
		}
		kind := OpDeleteFile
		if de.Kind == snapshot.KindDir {
			kind = OpDeleteDir
		}
		deletes = append(deletes, Operation{Kind: kind, Path: path})
	}

	sortTopDown(creates)
	sortTopDown(copies)
	sortBottomUp(deletes)

	out := make(Plan, 0, len(deletes)+len(creates)+len(copies))
	out = append(out, deletes...)
	out = append(out, creates...)
	out = append(out, copies...)
	return out
}

// Depth returns the number of path segments in a relative path.
func Depth(path string) int {
	return strings.Count(path, "/") + 1
}

// Shallow paths first; lexicographic within a depth so plans are
// deterministic and reproducible.
func sortTopDown(ops Plan) {
	sort.Slice(ops, func(i, j int) bool {
		di, dj := Depth(ops[i].Path), Depth(ops[j].Path)
		if di != dj {
			return di < dj
		}
		return ops[i].Path < ops[j].Path
	})
}

// Deep paths first, so children are always deleted before their parent
// directory.
func sortBottomUp(ops Plan) {
	sort.Slice(ops, func(i, j int) bool {
		di, dj := Depth(ops[i].Path), Depth(ops[j].Path)
		if di != dj {
			return di > dj
		}
		return ops[i].Path < ops[j].Path
	})
}
