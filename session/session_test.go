package session

import (
	"testing"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
)

func TestCountersIncMessageBySeverity(t *testing.T) {
	c := NewCounters()
	c.IncMessage(packet.SeverityWarning)
	c.IncMessage(packet.SeverityWarning)
	c.IncMessage(packet.SeverityError)

	got := c.Snapshot()
	want := Counts{MessageCount: 3, WarningCount: 2, ErrorCount: 1}
	if got != want {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
}

func TestCountersNilReceiverSafe(t *testing.T) {
	var c *Counters
	c.IncMessage(packet.SeverityCritical)
	if got := c.Snapshot(); got != (Counts{}) {
		t.Fatalf("snapshot of nil counters = %+v, want zero value", got)
	}
}

func TestSummarySanitizedProduct(t *testing.T) {
	s := Summary{Product: "My Product/Name:v2"}
	got := s.SanitizedProduct()
	for _, r := range got {
		if r == '/' || r == ':' || r == ' ' {
			t.Fatalf("sanitized product %q still contains a path-hostile character", got)
		}
	}
}

func TestSummaryValidateRequiresIdentity(t *testing.T) {
	s := Summary{}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for empty summary")
	}
	s = Summary{SessionID: "s1", Product: "P", Application: "A"}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error for valid summary: %v", err)
	}
}

func TestSummaryHeaderParamsAndPacket(t *testing.T) {
	s := Summary{
		SessionID:   "s1",
		Product:     "P",
		Application: "A",
		StartTimeUnixNano: 100,
		Properties:  map[string]string{"k": "v"},
	}
	hp := s.HeaderParams("f1", 2)
	if hp.SessionID != "s1" || hp.FragmentID != "f1" || hp.FileSequence != 2 {
		t.Fatalf("header params = %+v", hp)
	}

	counts := Counts{MessageCount: 1, WarningCount: 1}
	pkt := s.Packet(fragment.StatusNormal, counts, 200)
	if pkt.Status != "Normal" || pkt.EndTimeUnixNano != 200 {
		t.Fatalf("packet = %+v", pkt)
	}
	if pkt.Properties["k"] != "v" {
		t.Fatalf("packet properties = %+v", pkt.Properties)
	}
}
