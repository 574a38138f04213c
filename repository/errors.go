package repository

import (
	"errors"
	"io/fs"
)

// Scan error sentinels. Grounded on lode/errors.go's
// StorageError/sentinel/classifier-table idiom, narrowed to the two
// conditions a repository directory scan actually hits: a path it
// can't read (permissions) and one that vanished mid-scan (a fragment
// removed concurrently by set_sessions_new or remove).
var (
	ErrUnauthorizedAccess = errors.New("repository: unauthorized access")
	ErrNotFound           = errors.New("repository: not found")
)

// classifyScanError maps a raw filesystem error from a directory walk to
// one of this package's sentinels. A classified scan failure on one
// fragment is always logged and skipped; the scan itself continues.
func classifyScanError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrUnauthorizedAccess
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	default:
		return err
	}
}
