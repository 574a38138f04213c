// Package session holds the in-memory session context shared by the
// publisher, writer, and coordinator: the immutable identity/environment
// facts captured at init (Summary) and the mutable running counters
// updated as packets flow through the system (Counters).
package session

import (
	"fmt"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
)

// Summary is the identity and environment data captured once at session
// init and never mutated afterward. It is the struct-literal analogue of
// a fragment's static header block.
type Summary struct {
	SessionID    string
	Product      string
	Application  string
	AppVersion   string
	AgentVersion string
	Host         string
	User         string
	OS           string
	Culture      string
	StartTimeUnixNano int64
	Properties   map[string]string
}

// HeaderParams projects Summary plus a fragment identity into the
// parameters fragment.Create needs, so the writer doesn't have to know
// about Summary's field names directly.
func (s Summary) HeaderParams(fragmentID string, fileSequence uint32) fragment.NewHeaderParams {
	return fragment.NewHeaderParams{
		SessionID:    s.SessionID,
		FragmentID:   fragmentID,
		FileSequence: fileSequence,
		Product:      s.Product,
		Application:  s.Application,
		AppVersion:   s.AppVersion,
		AgentVersion: s.AgentVersion,
		Host:         s.Host,
		User:         s.User,
		OS:           s.OS,
		Culture:      s.Culture,
		StartTimeUnixNano: s.StartTimeUnixNano,
	}
}

// Packet projects Summary plus the current status and counts into the
// on-disk SessionSummary packet written at the head of a session's first
// fragment.
func (s Summary) Packet(status fragment.Status, counts Counts, endTimeUnixNano int64) packet.SessionSummaryPacket {
	return packet.SessionSummaryPacket{
		SessionID:    s.SessionID,
		Product:      s.Product,
		Application:  s.Application,
		AppVersion:   s.AppVersion,
		AgentVersion: s.AgentVersion,
		Host:         s.Host,
		User:         s.User,
		OS:           s.OS,
		Culture:      s.Culture,
		StartTimeUnixNano: s.StartTimeUnixNano,
		EndTimeUnixNano:   endTimeUnixNano,
		Status:       status.String(),
		CriticalCount: counts.CriticalCount,
		ErrorCount:    counts.ErrorCount,
		WarningCount:  counts.WarningCount,
		InfoCount:     counts.InfoCount,
		VerboseCount:  counts.VerboseCount,
		Properties:   s.Properties,
	}
}

// SanitizedProduct returns Product with path-hostile characters replaced,
// for use as a repository directory name.
func (s Summary) SanitizedProduct() string {
	return sanitizeDirName(s.Product)
}

func sanitizeDirName(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Validate reports an error if Summary is missing fields every session
// must carry.
func (s Summary) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session: summary missing session_id")
	}
	if s.Product == "" {
		return fmt.Errorf("session: summary missing product")
	}
	if s.Application == "" {
		return fmt.Errorf("session: summary missing application")
	}
	return nil
}
