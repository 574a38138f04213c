package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/justapithecus/lumen/fragment"
)

// refreshQueueSize bounds the async refresh request queue; a burst of
// refresh requests beyond this depth coalesces into the ones already
// queued rather than blocking the caller.
const refreshQueueSize = 10

// Repository is the local on-disk store for one product's sessions:
// fragment files under Layout.Root and Layout.ArchiveDir, indexed in
// memory and kept current by Refresh.
type Repository struct {
	layout Layout
	index  *Index
	logger Logger

	refreshCh chan struct{}
	closeCh   chan struct{}
}

// Open ensures the repository directory layout exists at
// root/sanitizedProduct and returns a Repository backed by it. Callers
// typically also call Refresh once at startup.
func Open(root, sanitizedProduct string, logger Logger) (*Repository, error) {
	layout := NewLayout(root, sanitizedProduct)
	if err := Ensure(layout); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Repository{
		layout:    layout,
		index:     NewIndex(layout, logger),
		logger:    logger,
		refreshCh: make(chan struct{}, refreshQueueSize),
		closeCh:   make(chan struct{}),
	}
	go r.refreshLoop()
	return r, nil
}

func (r *Repository) refreshLoop() {
	for {
		select {
		case <-r.refreshCh:
			if err := r.index.Refresh(); err != nil && r.logger != nil {
				r.logger.Warnw("repository: async refresh failed", "error", err)
			}
		case <-r.closeCh:
			return
		}
	}
}

// Close stops the async refresh worker.
func (r *Repository) Close() { close(r.closeCh) }

// Refresh rebuilds the index synchronously.
func (r *Repository) Refresh() error { return r.index.Refresh() }

// RefreshAsync enqueues a refresh request. If the queue is already full,
// the request is dropped: a refresh already queued will cover it, so
// bursts of requests coalesce instead of piling up.
func (r *Repository) RefreshAsync() {
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

// AddSession validates a fragment file already written at path (its
// header must already have been parsed successfully by the caller) and
// registers it with the index. It refuses to register a path whose
// derived filename collides with an existing file.
func (r *Repository) AddSession(path string) (bool, error) {
	header, err := fragment.ReadHeaderOnly(path)
	if err != nil {
		return false, fmt.Errorf("repository: add session: %w", err)
	}

	wantName := fragment.FileName(header.SessionID(), header.FragmentID(), header.FileSequence())
	destPath := filepath.Join(r.layout.Root, wantName)
	if _, err := os.Stat(destPath); err == nil {
		return false, nil
	}

	if filepath.Clean(path) != filepath.Clean(destPath) {
		if err := atomicCopy(path, destPath); err != nil {
			return false, err
		}
	}

	r.RefreshAsync()
	return true, nil
}

// AddSessionStream ingests a fragment from an arbitrary reader: the
// bytes are staged under temp/, the header validated (bad magic or a
// truncated header rejects the stream), the canonical filename derived
// from it, and the staged file renamed into place. Returns false,
// leaving the existing file untouched, when that filename already
// exists.
func (r *Repository) AddSessionStream(src io.Reader) (bool, error) {
	tmp := filepath.Join(r.layout.TempDir(), "ingest-"+uuid.NewString()+".glf")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("repository: stage ingest %s: %w", tmp, err)
	}
	_, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return false, fmt.Errorf("repository: stage ingest %s: %w", tmp, copyErr)
		}
		return false, fmt.Errorf("repository: stage ingest %s: %w", tmp, closeErr)
	}

	header, err := fragment.ReadHeaderOnly(tmp)
	if err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("repository: add session stream: %w", err)
	}

	dest := filepath.Join(r.layout.Root, fragment.FileName(header.SessionID(), header.FragmentID(), header.FileSequence()))
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmp)
		return false, nil
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("repository: rename %s to %s: %w", tmp, dest, err)
	}

	r.RefreshAsync()
	return true, nil
}

func atomicCopy(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("repository: read %s: %w", src, err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("repository: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("repository: rename %s to %s: %w", tmp, dest, err)
	}
	return nil
}

// GetSession returns the indexed entry for sessionID, assembled from all
// of its fragments ordered by file sequence.
func (r *Repository) GetSession(sessionID string) (*SessionEntry, bool) {
	return r.index.Get(sessionID)
}

// Find runs predicate over every indexed session.
func (r *Repository) Find(predicate func(*SessionEntry) bool) []*SessionEntry {
	return r.index.Find(predicate)
}

// SessionExists reports whether sessionID has any fragment on disk, per
// the last Refresh.
func (r *Repository) SessionExists(sessionID string) bool { return r.index.SessionExists(sessionID) }

// SessionIsRunning reports whether sessionID's most recent fragment still
// reads Running.
func (r *Repository) SessionIsRunning(sessionID string) bool { return r.index.SessionIsRunning(sessionID) }

// LoadSessionFiles returns every fragment path for sessionID, in
// file_sequence order, plus the aggregated (latest) status.
func (r *Repository) LoadSessionFiles(sessionID string) ([]string, fragment.Status, error) {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil, fragment.StatusUnknown, ErrNotFound
	}
	paths := make([]string, len(entry.Fragments))
	for i, fm := range entry.Fragments {
		paths[i] = fm.Path
	}
	return paths, entry.Status, nil
}

// SetSessionsNew moves a session's fragments between the root directory
// and archive/ depending on isNew.
func (r *Repository) SetSessionsNew(sessionIDs []string, isNew bool) error {
	for _, sessionID := range sessionIDs {
		entry, ok := r.index.Get(sessionID)
		if !ok {
			continue
		}
		for i := range entry.Fragments {
			fm := &entry.Fragments[i]
			if fm.Archived == !isNew {
				continue
			}
			destDir := r.layout.Root
			if !isNew {
				destDir = r.layout.ArchiveDir()
			}
			dest := filepath.Join(destDir, filepath.Base(fm.Path))
			if err := os.Rename(fm.Path, dest); err != nil {
				return fmt.Errorf("repository: move %s to %s: %w", fm.Path, dest, err)
			}
			fm.Path = dest
			fm.Archived = !isNew
		}
	}
	r.RefreshAsync()
	return nil
}

// Remove deletes every fragment of sessionID from disk and the index.
func (r *Repository) Remove(sessionID string) error {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil
	}
	for _, fm := range entry.Fragments {
		if err := os.Remove(fm.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("repository: remove %s: %w", fm.Path, err)
		}
	}
	r.index.Invalidate(sessionID)
	return nil
}

// GetSessionFileIDs returns the fragment ids registered for sessionID.
func (r *Repository) GetSessionFileIDs(sessionID string) []string {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil
	}
	ids := make([]string, len(entry.Fragments))
	for i, fm := range entry.Fragments {
		ids[i] = fm.FragmentID
	}
	return ids
}

// All returns every indexed session.
func (r *Repository) All() []*SessionEntry { return r.index.All() }

// Layout exposes the repository's resolved directory layout, e.g. for a
// writer deciding where to create new fragments.
func (r *Repository) Layout() Layout { return r.layout }
