package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/justapithecus/lumen/fragment"
)

// FragmentMeta is one fragment's index entry: its identity, its path on
// disk, and the header fields the repository needs without ever opening
// the packet stream.
type FragmentMeta struct {
	FragmentID   string
	FileSequence uint32
	Path         string
	Archived     bool
	Status       fragment.Status
	StartTimeUnixNano int64
	EndTimeUnixNano   int64
}

// SessionEntry aggregates one session's fragments, sorted by
// FileSequence, plus the status derived from the latest fragment.
type SessionEntry struct {
	SessionID string
	Product   string
	Fragments []FragmentMeta
	Status    fragment.Status
}

// Index is the in-memory, coarsely-locked view of one product's
// repository directory. A fresh Index is built by Refresh; every reader
// (Find, GetSession, session_exists, ...) takes the same lock a
// concurrent Refresh would, so a reader never observes a half-rebuilt
// index — cheaper correctness than fine-grained locking buys here,
// since refreshes are infrequent relative to reads.
type Index struct {
	layout Layout
	logger Logger

	mu       sync.Mutex
	sessions map[string]*SessionEntry
}

// NewIndex returns an empty Index for the repository rooted at layout.
func NewIndex(layout Layout, logger Logger) *Index {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Index{layout: layout, logger: logger, sessions: make(map[string]*SessionEntry)}
}

// Refresh rebuilds the index from disk: scans both the root directory
// and archive/ for ".glf" files, reads each one's header only, groups by
// session_id, then runs crash recovery over the freshly built groups.
// The old index is swapped in atomically so concurrent readers never see
// a partially rebuilt map.
func (idx *Index) Refresh() error {
	sessions := make(map[string]*SessionEntry)

	if err := idx.scanDir(idx.layout.Root, false, sessions); err != nil {
		return err
	}
	if err := idx.scanDir(idx.layout.ArchiveDir(), true, sessions); err != nil {
		return err
	}

	for _, entry := range sessions {
		sort.Slice(entry.Fragments, func(i, j int) bool {
			return entry.Fragments[i].FileSequence < entry.Fragments[j].FileSequence
		})
		entry.Status = entry.Fragments[len(entry.Fragments)-1].Status
	}

	RecoverCrashedSessions(idx.layout, sessions, idx.logger)

	idx.mu.Lock()
	idx.sessions = sessions
	idx.mu.Unlock()
	return nil
}

func (idx *Index) scanDir(dir string, archived bool, sessions map[string]*SessionEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("repository: scan %s: %w", dir, classifyScanError(err))
	}

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".glf" {
			continue
		}
		path := filepath.Join(dir, de.Name())

		header, err := fragment.ReadHeaderOnly(path)
		if err != nil {
			idx.logger.Warnw("repository: skipping unreadable fragment during refresh", "path", path, "error", classifyScanError(err))
			continue
		}

		sessionID := header.SessionID()
		entry, ok := sessions[sessionID]
		if !ok {
			entry = &SessionEntry{SessionID: sessionID, Product: header.Product()}
			sessions[sessionID] = entry
		}
		entry.Fragments = append(entry.Fragments, FragmentMeta{
			FragmentID:   header.FragmentID(),
			FileSequence: header.FileSequence(),
			Path:         path,
			Archived:     archived,
			Status:       header.Status(),
			StartTimeUnixNano: header.Static.StartTimeUnixNano,
			EndTimeUnixNano:   header.Mutable.EndTimeUnixNano,
		})
	}
	return nil
}

// Find returns every session whose entry satisfies predicate, via a
// linear scan over the indexed summaries.
func (idx *Index) Find(predicate func(*SessionEntry) bool) []*SessionEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var out []*SessionEntry
	for _, entry := range idx.sessions {
		if predicate(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// Get returns the indexed entry for sessionID, if any.
func (idx *Index) Get(sessionID string) (*SessionEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.sessions[sessionID]
	return entry, ok
}

// SessionExists reports whether sessionID has any indexed fragment.
func (idx *Index) SessionExists(sessionID string) bool {
	_, ok := idx.Get(sessionID)
	return ok
}

// SessionIsRunning reports whether sessionID's latest known fragment
// still reads Running. It reflects the index as of the last Refresh, not
// a live lock check.
func (idx *Index) SessionIsRunning(sessionID string) bool {
	entry, ok := idx.Get(sessionID)
	return ok && entry.Status == fragment.StatusRunning
}

// All returns every indexed session entry.
func (idx *Index) All() []*SessionEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]*SessionEntry, 0, len(idx.sessions))
	for _, entry := range idx.sessions {
		out = append(out, entry)
	}
	return out
}

// Invalidate drops sessionID from the index, forcing the next Refresh to
// rediscover it (or not, if it's gone from disk). Used after Remove.
func (idx *Index) Invalidate(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.sessions, sessionID)
}
