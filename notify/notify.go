// Package notify defines the session-close notification boundary.
//
// Notifiers publish session completion events to downstream systems.
// The host owns notifier lifecycle; the agent only provides the
// subscriber glue that watches the packet stream for the terminal
// SessionClose packet and fires the notifier once.
package notify

import (
	"context"
	"time"

	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
	"github.com/justapithecus/lumen/session"
)

// SessionClosedEvent is the payload published when a session ends.
type SessionClosedEvent struct {
	SessionID    string `json:"session_id"`
	Product      string `json:"product"`
	Application  string `json:"application"`
	Status       string `json:"status"` // Normal or Crashed
	Reason       string `json:"reason,omitempty"`
	MessageCount uint32 `json:"message_count"`
	ErrorCount   uint32 `json:"error_count"`
	WarningCount uint32 `json:"warning_count"`
	Timestamp    string `json:"timestamp"` // ISO 8601
}

// Notifier publishes session-closed events to a downstream system.
// Implementations must be safe for single-use per session.
type Notifier interface {
	// Publish sends a session-closed event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionClosedEvent) error

	// Close releases notifier resources.
	Close() error
}

// Logger is the narrow logging slice the subscriber glue needs.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

// publishTimeout bounds one notification send; the subscriber runs on
// the commit fan-out path and must never wedge it.
const publishTimeout = 30 * time.Second

// Subscriber returns a publisher subscriber that fires n once, when the
// session's SessionClose packet commits. Counter fields are filled from
// the counts snapshot function, so the event reflects the final totals.
func Subscriber(summary session.Summary, counts func() session.Counts, n Notifier, logger Logger) func(publisher.Stamped) error {
	return func(s publisher.Stamped) error {
		sc, ok := s.Value.(*packet.SessionClose)
		if !ok {
			return nil
		}

		event := &SessionClosedEvent{
			SessionID:   summary.SessionID,
			Product:     summary.Product,
			Application: summary.Application,
			Status:      sc.Status,
			Reason:      sc.Reason,
			Timestamp:   time.Unix(0, s.TimestampUnixNano).UTC().Format(time.RFC3339Nano),
		}
		if counts != nil {
			c := counts()
			event.MessageCount = c.MessageCount
			event.ErrorCount = c.ErrorCount
			event.WarningCount = c.WarningCount
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.Publish(ctx, event); err != nil {
			if logger != nil {
				logger.Warnw("notify: session-closed publish failed", "session_id", summary.SessionID, "error", err)
			}
			return err
		}
		return nil
	}
}
