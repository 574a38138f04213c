package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
	"github.com/justapithecus/lumen/session"
)

type captureNotifier struct {
	events []*SessionClosedEvent
	err    error
}

func (c *captureNotifier) Publish(_ context.Context, e *SessionClosedEvent) error {
	c.events = append(c.events, e)
	return c.err
}

func (c *captureNotifier) Close() error { return nil }

func TestSubscriberFiresOnSessionClose(t *testing.T) {
	summary := session.Summary{SessionID: "s1", Product: "TestP", Application: "TestA"}
	counters := session.NewCounters()
	counters.IncMessage(packet.SeverityWarning)
	counters.IncMessage(packet.SeverityError)

	n := &captureNotifier{}
	sub := Subscriber(summary, func() session.Counts { return counters.Snapshot() }, n, nil)

	// Ordinary packets do not fire the notifier.
	if err := sub(publisher.Stamped{Kind: packet.KindLogMessage, Value: &packet.LogMessage{Caption: "x"}}); err != nil {
		t.Fatalf("log packet: %v", err)
	}
	if len(n.events) != 0 {
		t.Fatalf("notifier fired on a log packet")
	}

	err := sub(publisher.Stamped{
		Kind:              packet.KindSessionClose,
		Value:             &packet.SessionClose{Status: "Normal", Reason: "bye"},
		TimestampUnixNano: 1754049600000000000,
	})
	if err != nil {
		t.Fatalf("session close: %v", err)
	}
	if len(n.events) != 1 {
		t.Fatalf("notifier fired %d times, want 1", len(n.events))
	}

	e := n.events[0]
	if e.SessionID != "s1" || e.Status != "Normal" || e.Reason != "bye" {
		t.Fatalf("event = %+v", e)
	}
	if e.MessageCount != 2 || e.WarningCount != 1 || e.ErrorCount != 1 {
		t.Fatalf("event counts = %+v, want message=2 warning=1 error=1", e)
	}
	if e.Timestamp == "" {
		t.Fatalf("timestamp not stamped")
	}
}

func TestSubscriberPropagatesNotifierError(t *testing.T) {
	n := &captureNotifier{err: errors.New("downstream gone")}
	sub := Subscriber(session.Summary{SessionID: "s1"}, nil, n, nil)

	err := sub(publisher.Stamped{Kind: packet.KindSessionClose, Value: &packet.SessionClose{Status: "Normal"}})
	if err == nil {
		t.Fatalf("expected the notifier error to propagate for the publisher's eviction accounting")
	}
}
