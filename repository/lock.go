package repository

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// SessionLock is a cooperative, cross-process advisory lock held by a
// running writer for the lifetime of its session, backed by
// github.com/gofrs/flock. Only the lock owner may write fragments for
// the session; readers never take it.
type SessionLock struct {
	path string
	fl   *flock.Flock
}

// AcquireSessionLock creates (if needed) and locks the advisory file for
// sessionID, for a writer to hold for as long as it owns the session.
func AcquireSessionLock(l Layout, sessionID string) (*SessionLock, error) {
	if err := os.MkdirAll(l.LockDir(), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create lock dir: %w", err)
	}
	path := l.LockPath(sessionID)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("repository: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("repository: session %s is already locked by another process", sessionID)
	}
	return &SessionLock{path: path, fl: fl}, nil
}

// Release unlocks and removes the lock file.
func (s *SessionLock) Release() error {
	if err := s.fl.Unlock(); err != nil {
		return fmt.Errorf("repository: unlock %s: %w", s.path, err)
	}
	_ = os.Remove(s.path)
	return nil
}

// IsSessionRunning reports whether sessionID's lock file is currently
// held by another process: the lock is free exactly when the owning
// process is gone, so an unacquirable lock means the session is still
// running.
func IsSessionRunning(l Layout, sessionID string) bool {
	path := l.LockPath(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		// Can't determine lock state; treat as running so recovery
		// doesn't rewrite a session that might still be active.
		return true
	}
	if !ok {
		return true
	}
	_ = fl.Unlock()
	return false
}
