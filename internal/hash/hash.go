package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ReadError reports a file that could not be opened or read while
// computing its fingerprint. Callers are expected to record it and move
// on rather than abort the whole pass.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// File computes the content fingerprint of the file at path, returning
// the hex-encoded digest and the number of bytes read. Two files with
// identical bytes always produce identical digests regardless of name
// or timestamps. The hash is not cryptographic; sync correctness only
// needs accidental collisions to be rare.
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, &ReadError{Path: path, Err: err}
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
