package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockDirName = ".locks"

	lockRetryDelay = 25 * time.Millisecond
)

// ErrBusy is returned when another acquisition holds the addon's lock.
var ErrBusy = errors.New("another acquisition of this addon is in progress")

// LockPath returns the lock file guarding name under root.
func LockPath(root, name string) string {
	return filepath.Join(root, lockDirName, name+".lock")
}

// lockAddon takes the per-addon file lock, waiting up to timeout for a
// holder to finish. A zero timeout tries exactly once.
func lockAddon(ctx context.Context, root, name string, timeout time.Duration) (*flock.Flock, error) {
	path := LockPath(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	if timeout <= 0 {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !ok {
			return nil, ErrBusy
		}
		return fl, nil
	}

	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lctx, lockRetryDelay)
	switch {
	case ok:
		return fl, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil || errors.Is(err, context.DeadlineExceeded):
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
}
