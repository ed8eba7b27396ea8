package sync

import (
	"time"

	"mirsync/internal/plan"
)

// OpFailure is one plan operation that could not be applied. The cycle
// keeps going past failures; they are collected here in plan order for
// the logging layer to render.
type OpFailure struct {
	Path  string      `json:"path"`
	Op    plan.OpKind `json:"op"`
	Error string      `json:"error"`
}

// CycleReport summarizes the outcome of one scan-diff-apply pass.
type CycleReport struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Replica    string    `json:"replica"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	DirsCreated  int `json:"dirs_created"`
	FilesCopied  int `json:"files_copied"`
	FilesDeleted int `json:"files_deleted"`
	DirsDeleted  int `json:"dirs_deleted"`
	Skipped      int `json:"skipped"`

	Failures []OpFailure `json:"failures,omitempty"`

	// Fatal is set when the cycle aborted before applying anything,
	// e.g. the source root was inaccessible. The scheduling loop still
	// retries on the next tick.
	Fatal string `json:"fatal,omitempty"`
}

func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Changed reports whether the cycle mutated the replica at all.
func (r *CycleReport) Changed() bool {
	return r.DirsCreated+r.FilesCopied+r.FilesDeleted+r.DirsDeleted > 0
}

// Clean reports whether the cycle finished without any failure.
func (r *CycleReport) Clean() bool {
	return r.Fatal == "" && len(r.Failures) == 0 && r.Skipped == 0
}
