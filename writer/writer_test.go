package writer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
	"github.com/justapithecus/lumen/session"
)

func newTestWriter(t *testing.T, dir string, maxSize int64) (*Writer, *publisher.Publisher, *publisher.ThreadHandle) {
	t.Helper()
	pub := publisher.New(publisher.Config{SessionID: "s1"})
	sum := session.Summary{
		SessionID:   "s1",
		Product:     "TestP",
		Application: "TestA",
		StartTimeUnixNano: time.Now().UnixNano(),
	}
	w := New(Config{
		Dir:             dir,
		Summary:         sum,
		Publisher:       pub,
		Registry:        packet.NewRegistry(),
		MaxFragmentSize: maxSize,
	})
	h := pub.NewThreadHandle("app")
	return w, pub, h
}

func readAllPackets(t *testing.T, path string) (fragment.Header, []packet.Decoded) {
	t.Helper()
	reg := packet.NewRegistry()
	header, r, err := fragment.OpenReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	dec := packet.NewDecoder(r)
	var decoded []packet.Decoded
	for {
		env, err := dec.Next()
		if err != nil {
			break
		}
		d, ok, err := reg.Unmarshal(env)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ok {
			decoded = append(decoded, d)
		}
	}
	return header, decoded
}

func TestLogThenCloseProducesOneFragmentWithExpectedCounts(t *testing.T) {
	dir := t.TempDir()
	w, pub, h := newTestWriter(t, dir, DefaultMaxFragmentSize)

	go w.Run()

	pub.Publish(h, []publisher.Item{{
		Kind: packet.KindLogMessage,
		Value: &packet.LogMessage{
			Severity:    packet.SeverityWarning,
			Category:    "X",
			Caption:     "hi",
			Description: "hi",
		},
	}}, publisher.Queued)

	pub.Publish(h, []publisher.Item{{
		Kind:  packet.KindCommand,
		Value: &packet.Command{CommandType: packet.CommandExit, Status: fragment.StatusNormal.String(), Reason: "bye"},
	}}, publisher.WaitForCommit)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not finish after Exit command")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.glf"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("found %d fragment files, want exactly 1: %v", len(matches), matches)
	}

	header, decoded := readAllPackets(t, matches[0])
	if header.Mutable.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", header.Mutable.MessageCount)
	}
	if header.Mutable.WarningCount != 1 {
		t.Fatalf("warning count = %d, want 1", header.Mutable.WarningCount)
	}
	if header.Status() != fragment.StatusNormal {
		t.Fatalf("status = %v, want Normal", header.Status())
	}

	var sawLog, sawClose bool
	for _, d := range decoded {
		switch v := d.Value.(type) {
		case *packet.LogMessage:
			if v.Caption == "hi" {
				sawLog = true
			}
		case *packet.SessionClose:
			sawClose = true
		}
	}
	if !sawLog {
		t.Fatalf("did not find log packet with caption 'hi' among decoded packets")
	}
	if !sawClose {
		t.Fatalf("did not find SessionClose packet")
	}
}

func TestRotationProducesMultipleFragmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	// A tiny max size forces rotation after a handful of packets.
	w, pub, h := newTestWriter(t, dir, 200)

	go w.Run()

	for i := 0; i < 50; i++ {
		pub.Publish(h, []publisher.Item{{
			Kind: packet.KindLogMessage,
			Value: &packet.LogMessage{Severity: packet.SeverityInformation, Category: "X", Caption: "filler message to grow the fragment past the rotation threshold"},
		}}, publisher.Queued)
	}
	pub.Publish(h, []publisher.Item{{
		Kind:  packet.KindCommand,
		Value: &packet.Command{CommandType: packet.CommandExit, Status: fragment.StatusNormal.String()},
	}}, publisher.WaitForCommit)

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("writer did not finish")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.glf"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) < 2 {
		t.Fatalf("found %d fragments, want at least 2 after forcing rotation", len(matches))
	}

	seqs := make(map[uint32]bool)
	for _, m := range matches {
		header, err := fragment.ReadHeaderOnly(m)
		if err != nil {
			t.Fatalf("read header %s: %v", m, err)
		}
		seqs[header.FileSequence()] = true
	}
	if !seqs[0] || !seqs[1] {
		t.Fatalf("expected file_sequence 0 and 1 present, got %v", seqs)
	}
}
