package reader

import (
	"path/filepath"
	"testing"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/repository"
)

func writeFixtureFragment(t *testing.T, dir, sessionID, fragmentID string, seq uint32, logCount int, status fragment.Status) {
	t.Helper()
	path := filepath.Join(dir, fragment.FileName(sessionID, fragmentID, seq))
	reg := packet.NewRegistry()

	f, err := fragment.Create(path, fragment.NewHeaderParams{
		SessionID:         sessionID,
		FragmentID:        fragmentID,
		FileSequence:      seq,
		Product:           "TestP",
		Application:       "TestA",
		AppVersion:        "2.0.0",
		AgentVersion:      "0.1.0",
		Host:              "host-1",
		StartTimeUnixNano: 1_000_000_000,
	}, reg)
	if err != nil {
		t.Fatalf("create fragment: %v", err)
	}
	for i := 0; i < logCount; i++ {
		if err := f.AppendPacket(packet.KindLogMessage, &packet.LogMessage{
			Severity:    packet.SeverityWarning,
			Category:    "X",
			Caption:     "hi",
			Description: "hi",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	err = f.PatchMutable(fragment.MutableHeader{
		EndTimeUnixNano: 2_000_000_000,
		Status:          status,
		MessageCount:    uint32(logCount),
		WarningCount:    uint32(logCount),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func fixtureRepo(t *testing.T) *repository.Repository {
	t.Helper()
	root := t.TempDir()
	repo, err := OpenRepository(root, "TestP")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(repo.Close)

	writeFixtureFragment(t, repo.Layout().Root, "sess-a", "frag-1", 0, 3, fragment.StatusNormal)
	writeFixtureFragment(t, repo.Layout().Root, "sess-a", "frag-2", 1, 2, fragment.StatusNormal)
	writeFixtureFragment(t, repo.Layout().Root, "sess-b", "frag-3", 0, 1, fragment.StatusCrashed)
	if err := repo.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return repo
}

func TestListSessions(t *testing.T) {
	repo := fixtureRepo(t)

	rows := ListSessions(repo, ListSessionsOptions{})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	crashed := ListSessions(repo, ListSessionsOptions{Status: "crashed"})
	if len(crashed) != 1 || crashed[0].SessionID != "sess-b" {
		t.Fatalf("crashed filter = %+v", crashed)
	}

	limited := ListSessions(repo, ListSessionsOptions{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit = %d rows, want 1", len(limited))
	}
}

func TestInspectSession(t *testing.T) {
	repo := fixtureRepo(t)

	resp, err := InspectSession(repo, "sess-a")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if resp.Product != "TestP" || resp.Application != "TestA" {
		t.Fatalf("identity = %q/%q", resp.Product, resp.Application)
	}
	if resp.Status != "Normal" {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(resp.Fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(resp.Fragments))
	}
	if resp.Fragments[0].FileSequence != 0 || resp.Fragments[1].FileSequence != 1 {
		t.Fatalf("fragment order broken: %+v", resp.Fragments)
	}
	if resp.Fragments[0].SizeBytes == 0 {
		t.Fatalf("fragment size not populated")
	}
	if resp.Duration <= 0 {
		t.Fatalf("duration = %v", resp.Duration)
	}

	if _, err := InspectSession(repo, "no-such-session"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestStatsSessions(t *testing.T) {
	repo := fixtureRepo(t)

	resp := StatsSessions(repo)
	if resp.Total != 2 || resp.Normal != 1 || resp.Crashed != 1 {
		t.Fatalf("aggregate = %+v", resp)
	}
	if resp.TotalFragments != 3 {
		t.Fatalf("fragments = %d, want 3", resp.TotalFragments)
	}
	// sess-a's latest header reports 2, sess-b's reports 1.
	if resp.TotalMessages != 3 {
		t.Fatalf("messages = %d, want 3", resp.TotalMessages)
	}
}

func TestStatsSession(t *testing.T) {
	repo := fixtureRepo(t)

	resp, err := StatsSession(repo, "sess-a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if resp.PacketsByKind["log_message"] != 5 {
		t.Fatalf("log_message count = %d, want 5 across both fragments", resp.PacketsByKind["log_message"])
	}
	if resp.HasCorruptData || resp.PacketsLost != 0 {
		t.Fatalf("unexpected corruption: %+v", resp)
	}
	if resp.FragmentCount != 2 {
		t.Fatalf("fragment count = %d, want 2", resp.FragmentCount)
	}
}
