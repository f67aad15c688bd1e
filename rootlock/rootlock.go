// Package rootlock enforces spec.md §5's single-process data root
// invariant ("Multiple processes are NOT supported to share one data
// root") with an actual guard rather than leaving it as an unenforced
// assumption: an advisory cross-process file lock on the data root,
// using the same github.com/bobg/flock.Locker the teacher (bobg-bs)
// holds as a never-initialised field on its file store
// (store/file/file.go's anchorMapRef locking) — here it is put to its
// intended use instead of sitting dead.
package rootlock

import (
	"path/filepath"

	"github.com/bobg/flock"
	"github.com/pkg/errors"
)

const lockFileName = ".pgo-root.lock"

// Lock is a held advisory lock on one data root. Release it with
// Unlock when the process is done with the root.
type Lock struct {
	locker flock.Locker
	path   string
}

// Acquire takes the advisory lock for root, failing if another process
// already holds it.
func Acquire(root string) (*Lock, error) {
	path := filepath.Join(root, lockFileName)
	var locker flock.Locker
	if err := locker.Lock(path); err != nil {
		return nil, errors.Wrapf(err, "acquiring data root lock %s (is another pgo process already running against this root?)", path)
	}
	return &Lock{locker: locker, path: path}, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return errors.Wrapf(l.locker.Unlock(l.path), "releasing data root lock %s", l.path)
}
