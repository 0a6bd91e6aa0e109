package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// processLocks provides per-path RWMutexes for goroutine synchronization.
// flock(2) locks belong to open file descriptions, and on platforms where
// gofrs/flock falls back to fcntl they belong to the whole process, so the
// file lock alone cannot be relied on between goroutines.
var processLocks sync.Map // map[string]*sync.RWMutex

func processLock(path string) *sync.RWMutex {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	mu, _ := processLocks.LoadOrStore(path, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// heldLock is an acquired registry lock: the in-process mutex plus the
// advisory file lock. release undoes both.
type heldLock struct {
	file   *flock.Flock
	mu     *sync.RWMutex
	shared bool
}

func (l *heldLock) release() error {
	var err error
	if l.file != nil {
		// Unlock also closes the lock file descriptor.
		err = l.file.Unlock()
	}
	if l.shared {
		l.mu.RUnlock()
	} else {
		l.mu.Unlock()
	}
	return err
}

// lockFileError marks failures to open or lock the lock file itself, as
// opposed to timeouts. Readers may proceed without the lock in that case
// because the record is only ever replaced atomically.
type lockFileError struct {
	path string
	err  error
}

func (e *lockFileError) Error() string {
	return fmt.Sprintf("lock %s: %v", e.path, e.err)
}

func (e *lockFileError) Unwrap() error { return e.err }

// acquireLock takes the in-process mutex and then the file lock on lockPath,
// both within timeout. A shared lock may coexist with other shared holders;
// an exclusive lock is solitary.
func acquireLock(ctx context.Context, lockPath string, shared bool, timeout, retryDelay time.Duration) (*heldLock, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mu := processLock(lockPath)
	if err := lockMutex(lctx, mu, shared, retryDelay); err != nil {
		return nil, timeoutOrCancel(ctx, lockPath, err)
	}

	fl := flock.New(lockPath)
	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(lctx, retryDelay)
	} else {
		locked, err = fl.TryLockContext(lctx, retryDelay)
	}
	if !locked || err != nil {
		if shared {
			mu.RUnlock()
		} else {
			mu.Unlock()
		}
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, timeoutOrCancel(ctx, lockPath, err)
		}
		return nil, &lockFileError{path: lockPath, err: err}
	}

	return &heldLock{file: fl, mu: mu, shared: shared}, nil
}

// lockMutex polls TryLock/TryRLock until it succeeds or ctx is done.
// sync.RWMutex has no timed acquire, and a blocked Lock could not be
// abandoned once the deadline passes.
func lockMutex(ctx context.Context, mu *sync.RWMutex, shared bool, retryDelay time.Duration) error {
	try := mu.TryLock
	if shared {
		try = mu.TryRLock
	}
	if try() {
		return nil
	}

	ticker := time.NewTicker(retryDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if try() {
				return nil
			}
		}
	}
}

// timeoutOrCancel distinguishes our own lock deadline (ErrLockTimeout) from
// the caller cancelling or timing out its context (returned as-is).
func timeoutOrCancel(parent context.Context, lockPath string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if err == nil {
		err = context.DeadlineExceeded
	}
	return fmt.Errorf("%w: %s: %w", ErrLockTimeout, lockPath, err)
}
