package ingest

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked reports that another process holds the writer lock.
var ErrLocked = errors.New("another process is writing to the index")

// AcquireLock takes an exclusive advisory file lock at path. Index writes are
// single-writer: upserts delete-then-insert without a surrounding transaction
// across documents, so two concurrent ingestion runs could interleave and
// leave a document half-replaced. Callers hold the lock for the lifetime of
// the run and call the returned release function when done.
//
// The lock does not block: a held lock returns ErrLocked immediately so the
// operator sees the conflict instead of a silent queue.
func AcquireLock(path string) (release func() error, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring writer lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
	}
	return fl.Unlock, nil
}
