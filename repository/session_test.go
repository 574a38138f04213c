package repository

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
)

// newFragmentWithPackets writes a fragment carrying count log packets so
// composed-read tests have bodies to decode, not just headers.
func newFragmentWithPackets(t *testing.T, dir, sessionID, fragmentID string, seq uint32, count int, status fragment.Status) string {
	t.Helper()
	path := filepath.Join(dir, fragment.FileName(sessionID, fragmentID, seq))
	reg := packet.NewRegistry()

	f, err := fragment.Create(path, fragment.NewHeaderParams{
		SessionID:         sessionID,
		FragmentID:        fragmentID,
		FileSequence:      seq,
		Product:           "TestP",
		Application:       "TestA",
		StartTimeUnixNano: 1000,
	}, reg)
	if err != nil {
		t.Fatalf("create fragment: %v", err)
	}
	for i := 0; i < count; i++ {
		err := f.AppendPacket(packet.KindLogMessage, &packet.LogMessage{
			Severity:    packet.SeverityInformation,
			Category:    "X",
			Caption:     "hi",
			Description: "hi",
			Sequence:    uint64(int(seq)*1000 + i + 1),
		})
		if err != nil {
			t.Fatalf("append packet: %v", err)
		}
	}
	if err := f.PatchMutable(fragment.MutableHeader{EndTimeUnixNano: 2000, Status: status, MessageCount: uint32(count), InfoCount: uint32(count)}); err != nil {
		t.Fatalf("patch mutable: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestReadSessionComposesFragmentsInOrder(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	newFragmentWithPackets(t, repo.Layout().Root, "session-10", "frag-a", 0, 3, fragment.StatusNormal)
	newFragmentWithPackets(t, repo.Layout().Root, "session-10", "frag-b", 1, 2, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	s, err := repo.ReadSession("session-10", nil)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if len(s.Fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(s.Fragments))
	}
	if s.HasCorruptData || s.PacketsLost != 0 {
		t.Fatalf("unexpected corruption: lost=%d corrupt=%v", s.PacketsLost, s.HasCorruptData)
	}

	var sequences []uint64
	for _, d := range s.Packets {
		if lm, ok := d.Value.(*packet.LogMessage); ok {
			sequences = append(sequences, lm.Sequence)
		}
	}
	want := []uint64{1, 2, 3, 1001, 1002}
	if len(sequences) != len(want) {
		t.Fatalf("log packets = %d, want %d", len(sequences), len(want))
	}
	for i := range want {
		if sequences[i] != want[i] {
			t.Fatalf("sequence[%d] = %d, want %d (order broken)", i, sequences[i], want[i])
		}
	}
}

func TestReadSessionFragmentFilter(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	newFragmentWithPackets(t, repo.Layout().Root, "session-11", "frag-a", 0, 2, fragment.StatusNormal)
	newFragmentWithPackets(t, repo.Layout().Root, "session-11", "frag-b", 1, 5, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	s, err := repo.ReadSession("session-11", func(fm FragmentMeta) bool {
		return fm.FragmentID == "frag-b"
	})
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if len(s.Fragments) != 1 || s.Fragments[0].FragmentID != "frag-b" {
		t.Fatalf("filter did not narrow to frag-b: %+v", s.Fragments)
	}

	logCount := 0
	for _, d := range s.Packets {
		if _, ok := d.Value.(*packet.LogMessage); ok {
			logCount++
		}
	}
	if logCount != 5 {
		t.Fatalf("log packets = %d, want 5", logCount)
	}
}

func TestReadSessionIsolatesCorruptFragment(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	badPath := newFragmentWithPackets(t, repo.Layout().Root, "session-12", "frag-a", 0, 2, fragment.StatusNormal)
	newFragmentWithPackets(t, repo.Layout().Root, "session-12", "frag-b", 1, 3, fragment.StatusNormal)

	// Truncate the first fragment mid-stream so its tail packet is cut.
	info, err := os.Stat(badPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(badPath, info.Size()-5); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	s, err := repo.ReadSession("session-12", nil)
	if err != nil {
		t.Fatalf("read session should not fail outright: %v", err)
	}
	if !s.HasCorruptData {
		t.Fatalf("expected HasCorruptData after truncation")
	}
	if s.PacketsLost == 0 {
		t.Fatalf("expected PacketsLost > 0")
	}

	// The second fragment's packets still arrive.
	logCount := 0
	for _, d := range s.Packets {
		if _, ok := d.Value.(*packet.LogMessage); ok {
			logCount++
		}
	}
	if logCount < 3 {
		t.Fatalf("log packets = %d, want at least the 3 from the intact fragment", logCount)
	}
}

func TestGetSessionStreamSingleFragmentFastPath(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	path := newFragmentWithPackets(t, repo.Layout().Root, "session-13", "frag-a", 0, 2, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stream, err := repo.GetSessionStream("session-13")
	if err != nil {
		t.Fatalf("get session stream: %v", err)
	}

	streamed, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if !bytes.Equal(streamed, original) {
		t.Fatalf("single-fragment stream is not byte-identical to the fragment (%d vs %d bytes)", len(streamed), len(original))
	}

	tempPath := stream.path
	if err := stream.Close(); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("backing temp file should be removed on close")
	}
}

func TestGetSessionStreamMultiFragmentConcatenation(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	newFragmentWithPackets(t, repo.Layout().Root, "session-14", "frag-a", 0, 2, fragment.StatusNormal)
	newFragmentWithPackets(t, repo.Layout().Root, "session-14", "frag-b", 1, 3, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stream, err := repo.GetSessionStream("session-14")
	if err != nil {
		t.Fatalf("get session stream: %v", err)
	}
	defer stream.Close()

	// The composed stream must parse as one fragment whose packet stream
	// holds every log packet from both fragments, in order.
	header, _, err := fragment.OpenReader(stream.Name())
	if err != nil {
		t.Fatalf("composed stream is not a parseable fragment: %v", err)
	}
	if header.SessionID() != "session-14" {
		t.Fatalf("composed header session = %q", header.SessionID())
	}

	_, body, err := fragment.OpenReader(stream.Name())
	if err != nil {
		t.Fatalf("reopen composed stream: %v", err)
	}
	defer body.Close()

	reg := packet.NewRegistry()
	dec := packet.NewDecoder(body)
	logCount := 0
	for {
		env, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode composed stream: %v", err)
		}
		decoded, known, err := reg.Unmarshal(env)
		if err != nil {
			t.Fatalf("unmarshal composed packet: %v", err)
		}
		if !known {
			continue
		}
		if _, ok := decoded.Value.(*packet.LogMessage); ok {
			logCount++
		}
	}
	if logCount != 5 {
		t.Fatalf("composed stream log packets = %d, want 5", logCount)
	}
}

func TestGetSessionFileStreamReturnsReadOnlyHandle(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	newFragmentWithPackets(t, repo.Layout().Root, "session-15", "frag-a", 0, 1, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	f, err := repo.GetSessionFileStream("session-15", "frag-a")
	if err != nil {
		t.Fatalf("get session file stream: %v", err)
	}
	defer f.Close()

	var gotMagic [4]byte
	if _, err := io.ReadFull(f, gotMagic[:]); err != nil {
		t.Fatalf("read from handle: %v", err)
	}
	if string(gotMagic[:]) != "GLF1" {
		t.Fatalf("handle does not start at the fragment magic: %q", gotMagic)
	}

	if _, err := repo.GetSessionFileStream("session-15", "no-such-fragment"); err == nil {
		t.Fatalf("expected error for unknown fragment id")
	}
}

func TestRemoveFragmentLeavesSiblings(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	newFragmentWithPackets(t, repo.Layout().Root, "session-16", "frag-a", 0, 1, fragment.StatusNormal)
	keepPath := newFragmentWithPackets(t, repo.Layout().Root, "session-16", "frag-b", 1, 1, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := repo.RemoveFragment("session-16", "frag-a"); err != nil {
		t.Fatalf("remove fragment: %v", err)
	}
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	entry, ok := repo.GetSession("session-16")
	if !ok {
		t.Fatalf("session should survive losing one fragment")
	}
	if len(entry.Fragments) != 1 || entry.Fragments[0].FragmentID != "frag-b" {
		t.Fatalf("unexpected surviving fragments: %+v", entry.Fragments)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("sibling fragment should remain on disk: %v", err)
	}
}

func TestSessionDataExists(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	path := newFragmentWithPackets(t, repo.Layout().Root, "session-17", "frag-a", 0, 1, fragment.StatusNormal)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !repo.SessionDataExists("session-17") {
		t.Fatalf("expected data to exist")
	}

	// Delete the file behind the index's back: exists-in-index no longer
	// implies data-on-disk.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if repo.SessionDataExists("session-17") {
		t.Fatalf("expected data-exists to report false once the file is gone")
	}
	if !repo.SessionExists("session-17") {
		t.Fatalf("index entry should still exist until the next refresh")
	}
}

func TestAddSessionStream(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	staging := t.TempDir()
	srcPath := newFragmentWithPackets(t, staging, "session-18", "frag-a", 0, 2, fragment.StatusNormal)

	src, err := os.Open(srcPath)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	added, err := repo.AddSessionStream(src)
	src.Close()
	if err != nil {
		t.Fatalf("add session stream: %v", err)
	}
	if !added {
		t.Fatalf("expected first ingest to report true")
	}

	dest := filepath.Join(repo.Layout().Root, fragment.FileName("session-18", "frag-a", 0))
	want, _ := os.ReadFile(srcPath)
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ingested file missing: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ingested bytes differ from source")
	}

	// Re-ingesting the same fragment reports false and leaves the file
	// byte-identical.
	src2, _ := os.Open(srcPath)
	added2, err := repo.AddSessionStream(src2)
	src2.Close()
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if added2 {
		t.Fatalf("expected duplicate ingest to report false")
	}
	got2, _ := os.ReadFile(dest)
	if !bytes.Equal(got2, want) {
		t.Fatalf("duplicate ingest modified the existing file")
	}
}

func TestAddSessionStreamRejectsGarbage(t *testing.T) {
	root := t.TempDir()
	repo, err := Open(root, "TestP", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	if _, err := repo.AddSessionStream(bytes.NewReader([]byte("not a fragment"))); err == nil {
		t.Fatalf("expected error for a stream without the fragment magic")
	}
}
