package session

import (
	"sync"

	"github.com/justapithecus/lumen/packet"
)

// Counts is an immutable copy of a Counters' state at a point in time,
// returned by Snapshot so callers never see a torn read.
type Counts struct {
	MessageCount  uint32
	CriticalCount uint32
	ErrorCount    uint32
	WarningCount  uint32
	InfoCount     uint32
	VerboseCount  uint32
}

// Counters tracks the running per-severity message counts for one
// session, updated as log packets are published and read back by the
// writer on every header patch: a mutex-guarded struct with
// nil-receiver-safe increment methods (so a session with counters
// disabled, or a nil *Counters used as a placeholder, never needs a nil
// check at call sites) and a Snapshot method that copies out rather
// than exposing the live struct.
type Counters struct {
	mu sync.Mutex
	c  Counts
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters {
	return &Counters{}
}

// IncMessage increments the total message count and, if sev is
// recognized, its severity-specific bucket. IncMessage is safe to call on
// a nil *Counters (a no-op), mirroring metrics.Collector's nil-receiver
// pattern so callers that construct a session without counters enabled
// don't need a conditional at every call site.
func (c *Counters) IncMessage(sev packet.Severity) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.MessageCount++
	switch sev {
	case packet.SeverityCritical:
		c.c.CriticalCount++
	case packet.SeverityError:
		c.c.ErrorCount++
	case packet.SeverityWarning:
		c.c.WarningCount++
	case packet.SeverityInformation:
		c.c.InfoCount++
	case packet.SeverityVerbose:
		c.c.VerboseCount++
	}
}

// Snapshot returns a copy of the current counts.
func (c *Counters) Snapshot() Counts {
	if c == nil {
		return Counts{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c
}
