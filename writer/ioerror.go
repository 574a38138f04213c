// Package writer implements the single-consumer fragment writer: it
// drains one publisher's ordered queue, appends packets to the
// currently-open fragment, rotates on size/time/command, and degrades
// to dropping packets (while still counting the loss) if the
// filesystem stops cooperating.
package writer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Sentinel I/O error kinds a writer reacts to differently: the local
// filesystem conditions a fragment writer can actually hit.
var (
	ErrPermissionDenied = errors.New("writer: permission denied")
	ErrNotFound         = errors.New("writer: path not found")
	ErrDiskFull         = errors.New("writer: disk full")
	ErrTimeout          = errors.New("writer: i/o timeout")
	ErrUnknown          = errors.New("writer: unknown i/o error")
)

// IOError wraps an underlying filesystem error with a classified Kind,
// the operation and path involved, mirroring lode/errors.go's
// StorageError{Kind, Op, Path, Err} shape field-for-field.
type IOError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("writer: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is lets errors.Is(ioErr, ErrDiskFull) etc. match against Kind.
func (e *IOError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// classifierTable orders candidate matches most-specific first, mirroring
// lode/errors.go's ordered pattern table (a disk-full ENOSPC should never
// fall through to the generic ErrUnknown bucket, for example).
var classifierTable = []struct {
	match func(error) bool
	kind  error
}{
	{func(err error) bool { return errors.Is(err, fs.ErrPermission) }, ErrPermissionDenied},
	{func(err error) bool { return errors.Is(err, fs.ErrNotExist) }, ErrNotFound},
	{func(err error) bool { return errors.Is(err, syscall.ENOSPC) }, ErrDiskFull},
	{func(err error) bool { return errors.Is(err, os.ErrDeadlineExceeded) }, ErrTimeout},
}

// classify maps a raw filesystem error to one of this package's
// sentinels, defaulting to ErrUnknown for anything the table doesn't
// recognize (the writer still degrades on ErrUnknown — classification
// only changes the logged reason, never whether degrade-mode engages).
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classifierTable {
		if c.match(err) {
			return c.kind
		}
	}
	return ErrUnknown
}

// WrapWriteError classifies err from a write/append/sync operation.
func WrapWriteError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// WrapOpenError classifies err from an open/create operation.
func WrapOpenError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Kind: classify(err), Op: op, Path: path, Err: err}
}
