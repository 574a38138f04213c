package repository

import (
	"os"

	"github.com/justapithecus/lumen/fragment"
)

// Logger is the narrow slice of structured logging recovery needs,
// satisfied by *log.SugaredLogger without this package importing log
// directly (the same pattern writer.Logger uses).
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warnw(string, ...any) {}

// RecoverCrashedSessions converts dead sessions left at Running:
// for every session whose most recently reachable fragment
// still reports Running and whose advisory lock is free (the owning
// process is gone), every fragment of that session has its status
// byte rewritten to Crashed in place. A session whose lock is held, or
// whose status already reads Normal or Crashed, is left untouched —
// status never moves backward (fragment.PatchStatus itself refuses
// to rewrite a terminal status, so this function doesn't need to
// duplicate that check).
//
// Failure patching one fragment is logged and skipped; the rest of that
// session's fragments, and every other session, still get a chance.
func RecoverCrashedSessions(l Layout, entries map[string]*SessionEntry, logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}

	// One lock probe per session per pass. The freshly computed probe
	// result is always what lands in the cache entry, including on a
	// miss — a stale pre-lookup default is never assigned.
	runningCache := make(map[string]bool, len(entries))
	sessionIsRunning := func(sessionID string) bool {
		if v, ok := runningCache[sessionID]; ok {
			return v
		}
		v := IsSessionRunning(l, sessionID)
		runningCache[sessionID] = v
		return v
	}

	for sessionID, entry := range entries {
		if len(entry.Fragments) == 0 {
			continue
		}
		latest := entry.Fragments[len(entry.Fragments)-1]
		if latest.Status != fragment.StatusRunning {
			continue
		}
		if sessionIsRunning(sessionID) {
			continue
		}

		for i := range entry.Fragments {
			fm := &entry.Fragments[i]
			if err := fragment.PatchStatus(fm.Path, fragment.StatusCrashed); err != nil {
				logger.Warnw("repository: failed to convert fragment to crashed", "path", fm.Path, "error", err)
				continue
			}
			fm.Status = fragment.StatusCrashed
		}
		entry.Status = fragment.StatusCrashed

		// The dead session's lock file serves no further purpose once
		// its fragments read Crashed.
		if err := os.Remove(l.LockPath(sessionID)); err != nil && !os.IsNotExist(err) {
			logger.Warnw("repository: failed to remove stale session lock", "session_id", sessionID, "error", err)
		}
	}
}
