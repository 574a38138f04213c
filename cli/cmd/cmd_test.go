package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/reader"
	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
)

func testApp() *cli.App {
	return &cli.App{
		Commands: []*cli.Command{
			ListCommand(),
			InspectCommand(),
			StatsCommand(),
			VersionCommand("test"),
		},
	}
}

// captureStdout redirects os.Stdout during fn, for actions that render
// straight to the terminal.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String(), runErr
}

func fixtureRepoRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	repo, err := reader.OpenRepository(root, "TestP")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	defer repo.Close()

	path := filepath.Join(repo.Layout().Root, fragment.FileName("sess-1", "frag-1", 0))
	f, err := fragment.Create(path, fragment.NewHeaderParams{
		SessionID:         "sess-1",
		FragmentID:        "frag-1",
		FileSequence:      0,
		Product:           "TestP",
		Application:       "TestA",
		StartTimeUnixNano: 1_000_000_000,
	}, packet.NewRegistry())
	if err != nil {
		t.Fatalf("create fragment: %v", err)
	}
	if err := f.AppendPacket(packet.KindLogMessage, &packet.LogMessage{Severity: packet.SeverityWarning, Caption: "hi", Description: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.PatchMutable(fragment.MutableHeader{EndTimeUnixNano: 2_000_000_000, Status: fragment.StatusNormal, MessageCount: 1, WarningCount: 1}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return root
}

func TestCommandTree(t *testing.T) {
	app := testApp()

	want := map[string][]string{
		"list":    {"sessions"},
		"inspect": {"session"},
		"stats":   {"sessions", "session"},
		"version": nil,
	}

	for _, c := range app.Commands {
		subs, ok := want[c.Name]
		if !ok {
			t.Errorf("unexpected top-level command %q", c.Name)
			continue
		}
		delete(want, c.Name)
		for _, sub := range subs {
			found := false
			for _, sc := range c.Subcommands {
				if sc.Name == sub {
					found = true
				}
			}
			if !found {
				t.Errorf("command %q missing subcommand %q", c.Name, sub)
			}
		}
	}
	for name := range want {
		t.Errorf("top-level command %q not registered", name)
	}
}

func TestListSessionsJSON(t *testing.T) {
	root := fixtureRepoRoot(t)

	out, err := captureStdout(t, func() error {
		return testApp().Run([]string{"lumen", "list", "sessions", "--repo", root, "--product", "TestP", "--format", "json"})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var rows []reader.SessionRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("output is not JSON rows: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].SessionID != "sess-1" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Messages != 1 || rows[0].Warnings != 1 {
		t.Fatalf("counts = %+v", rows[0])
	}
}

func TestInspectSessionJSON(t *testing.T) {
	root := fixtureRepoRoot(t)

	out, err := captureStdout(t, func() error {
		return testApp().Run([]string{"lumen", "inspect", "session", "sess-1", "--repo", root, "--product", "TestP", "--format", "json"})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var resp reader.InspectSessionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.SessionID != "sess-1" || resp.Status != "Normal" || len(resp.Fragments) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatsSessionJSON(t *testing.T) {
	root := fixtureRepoRoot(t)

	out, err := captureStdout(t, func() error {
		return testApp().Run([]string{"lumen", "stats", "session", "sess-1", "--repo", root, "--product", "TestP", "--format", "json"})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var resp reader.StatsSessionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.PacketsByKind["log_message"] != 1 {
		t.Fatalf("packets by kind = %+v", resp.PacketsByKind)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := captureStdout(t, func() error {
		return testApp().Run([]string{"lumen", "version", "--format", "json"})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.Version == "" || resp.Commit != "test" {
		t.Fatalf("resp = %+v", resp)
	}
}
