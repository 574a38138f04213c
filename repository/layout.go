// Package repository implements the on-disk local session repository:
// one product's directory of session fragments, an in-memory index kept
// current by Refresh, and crash recovery for sessions whose writer
// process died without calling EndSession.
//
// The repository is strictly local-disk; shipping sessions to an
// upstream service belongs to the Uploader collaborator, which only
// ever consumes composed streams handed to it.
package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Layout resolves the fixed subpaths of one product's repository
// directory: "<root>/<sanitized_product>/...".
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root/sanitizedProduct.
func NewLayout(root, sanitizedProduct string) Layout {
	return Layout{Root: filepath.Join(root, sanitizedProduct)}
}

// ArchiveDir holds fragments that have been marked "not new".
func (l Layout) ArchiveDir() string { return filepath.Join(l.Root, "archive") }

// LockDir holds one advisory lock file per running session.
func (l Layout) LockDir() string { return filepath.Join(l.Root, "_lockdir") }

// TempDir is scratch space for streaming copies (get_session_stream).
func (l Layout) TempDir() string { return filepath.Join(l.Root, "temp") }

// LockPath returns the advisory lock file path for sessionID.
func (l Layout) LockPath(sessionID string) string {
	return filepath.Join(l.LockDir(), sessionID)
}

// ReadmePath is the human-readable notice left in a freshly created
// repository directory.
func (l Layout) ReadmePath() string { return filepath.Join(l.Root, "_readme.txt") }

// RepositoryGAKPath stores this repository's own UUID.
func (l Layout) RepositoryGAKPath() string { return filepath.Join(l.Root, "repository.gak") }

// ComputerGAKPath stores this machine's UUID, potentially shared across
// every product repository on the machine.
func (l Layout) ComputerGAKPath() string { return filepath.Join(l.Root, "computer.gak") }

const readmeText = `This directory contains session files created by a logging and
telemetry agent. The files are binary and are not intended to be
edited directly.
`

// Ensure creates every fixed subdirectory and marker file a fresh
// repository needs, without disturbing ones that already exist.
func Ensure(l Layout) error {
	for _, dir := range []string{l.Root, l.ArchiveDir(), l.LockDir(), l.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("repository: create %s: %w", dir, err)
		}
	}

	if err := writeIfAbsent(l.ReadmePath(), []byte(readmeText)); err != nil {
		return err
	}
	if err := writeIfAbsent(l.RepositoryGAKPath(), []byte(uuid.NewString())); err != nil {
		return err
	}
	if err := writeIfAbsent(l.ComputerGAKPath(), []byte(uuid.NewString())); err != nil {
		return err
	}
	return nil
}

func writeIfAbsent(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("repository: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("repository: write %s: %w", path, err)
	}
	return nil
}

// SanitizeProductName mirrors session.Summary.SanitizedProduct so the
// repository and the writer agree on a directory name without the
// repository package needing to import session (which itself imports
// fragment, used here too).
func SanitizeProductName(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
