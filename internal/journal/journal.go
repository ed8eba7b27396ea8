package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"mirsync/internal/sync"
)

const cyclePrefix = "cycle:"

// Journal is a write-only audit trail of cycle reports. The sync path
// never reads it; every cycle still recomputes ground truth from disk,
// so losing or deleting the journal has no effect on correctness.
type Journal struct {
	db *badger.DB
}

// New wraps an already open database.
func New(db *badger.DB) *Journal {
	return &Journal{db: db}
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	return New(db), nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one cycle report. Keys embed the start time so badger
// iterates reports in chronological order.
func (j *Journal) Append(r *sync.CycleReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d:%s", cyclePrefix, r.StartedAt.UnixNano(), r.ID))
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Recent returns up to limit reports, newest first. A limit of zero or
// less returns everything.
func (j *Journal) Recent(limit int) ([]*sync.CycleReport, error) {
	var reports []*sync.CycleReport

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cyclePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r sync.CycleReport
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				reports = append(reports, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	// Chronological on disk; newest first for callers.
	for i, k := 0, len(reports)-1; i < k; i, k = i+1, k-1 {
		reports[i], reports[k] = reports[k], reports[i]
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}

	return reports, nil
}

// Export writes every report as a zstd-compressed JSON array, oldest
// first.
func (j *Journal) Export(w io.Writer) error {
	reports, err := j.Recent(0)
	if err != nil {
		return err
	}
	for i, k := 0, len(reports)-1; i < k; i, k = i+1, k-1 {
		reports[i], reports[k] = reports[k], reports[i]
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}

	if err := json.NewEncoder(zw).Encode(reports); err != nil {
		zw.Close()
		return fmt.Errorf("encoding reports: %w", err)
	}

	return zw.Close()
}

// ExportFile exports the journal to a file at path.
func (j *Journal) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}

	if err := j.Export(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
