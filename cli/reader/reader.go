// Package reader assembles the local session repository into the
// response shapes the CLI renders: thin rows for list, deep views for
// inspect, derived aggregates for stats.
package reader

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/repository"
)

// SessionRow is the thin list view of one session.
type SessionRow struct {
	SessionID   string    `json:"session_id"`
	Application string    `json:"application"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Messages    uint32    `json:"messages"`
	Warnings    uint32    `json:"warnings"`
	Errors      uint32    `json:"errors"`
	Fragments   int       `json:"fragments"`
}

// FragmentRow is one fragment inside an inspect view.
type FragmentRow struct {
	FragmentID   string `json:"fragment_id"`
	FileSequence uint32 `json:"file_sequence"`
	Status       string `json:"status"`
	Archived     bool   `json:"archived"`
	SizeBytes    int64  `json:"size_bytes"`
	Path         string `json:"path"`
}

// InspectSessionResponse is the deep view of a single session.
type InspectSessionResponse struct {
	SessionID     string        `json:"session_id"`
	Product       string        `json:"product"`
	Application   string        `json:"application"`
	AppVersion    string        `json:"app_version"`
	AgentVersion  string        `json:"agent_version"`
	Host          string        `json:"host"`
	User          string        `json:"user"`
	OS            string        `json:"os"`
	Status        string        `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	Duration      time.Duration `json:"duration"`
	MessageCount  uint32        `json:"message_count"`
	CriticalCount uint32        `json:"critical_count"`
	ErrorCount    uint32        `json:"error_count"`
	WarningCount  uint32        `json:"warning_count"`
	Fragments     []FragmentRow `json:"fragments"`
}

// StatsSessionsResponse aggregates the whole repository.
type StatsSessionsResponse struct {
	Total          int    `json:"total"`
	Running        int    `json:"running"`
	Normal         int    `json:"normal"`
	Crashed        int    `json:"crashed"`
	TotalFragments int    `json:"total_fragments"`
	TotalMessages  uint64 `json:"total_messages"`
	TotalErrors    uint64 `json:"total_errors"`
	TotalWarnings  uint64 `json:"total_warnings"`
}

// StatsSessionResponse is the derived per-session view, computed by
// decoding the session's full packet stream.
type StatsSessionResponse struct {
	SessionID      string         `json:"session_id"`
	Status         string         `json:"status"`
	Duration       time.Duration  `json:"duration"`
	MessageCount   uint32         `json:"message_count"`
	CriticalCount  uint32         `json:"critical_count"`
	ErrorCount     uint32         `json:"error_count"`
	WarningCount   uint32         `json:"warning_count"`
	InfoCount      uint32         `json:"info_count"`
	VerboseCount   uint32         `json:"verbose_count"`
	PacketsByKind  map[string]int `json:"packets_by_kind"`
	PacketsLost    int            `json:"packets_lost"`
	HasCorruptData bool           `json:"has_corrupt_data"`
	FragmentCount  int            `json:"fragment_count"`
}

// OpenRepository opens and refreshes the repository for product under
// root, ready for the read-only commands.
func OpenRepository(root, product string) (*repository.Repository, error) {
	repo, err := repository.Open(root, repository.SanitizeProductName(product), nil)
	if err != nil {
		return nil, err
	}
	if err := repo.Refresh(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("refresh repository: %w", err)
	}
	return repo, nil
}

// ListSessionsOptions filters ListSessions.
type ListSessionsOptions struct {
	// Status filters by status name (running, normal, crashed); empty
	// means all.
	Status string
	// Limit caps the number of rows returned; 0 means no limit.
	Limit int
}

// ListSessions returns thin rows for every indexed session, newest
// first.
func ListSessions(repo *repository.Repository, opts ListSessionsOptions) []SessionRow {
	entries := repo.All()
	sort.Slice(entries, func(i, j int) bool {
		return startTime(entries[i]) > startTime(entries[j])
	})

	rows := make([]SessionRow, 0, len(entries))
	for _, entry := range entries {
		if opts.Status != "" && !statusMatches(entry.Status, opts.Status) {
			continue
		}
		rows = append(rows, sessionRow(entry))
		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}
	return rows
}

func startTime(entry *repository.SessionEntry) int64 {
	if len(entry.Fragments) == 0 {
		return 0
	}
	return entry.Fragments[0].StartTimeUnixNano
}

func statusMatches(status fragment.Status, filter string) bool {
	switch filter {
	case "running":
		return status == fragment.StatusRunning
	case "normal":
		return status == fragment.StatusNormal
	case "crashed":
		return status == fragment.StatusCrashed
	default:
		return false
	}
}

func sessionRow(entry *repository.SessionEntry) SessionRow {
	row := SessionRow{
		SessionID: entry.SessionID,
		Status:    entry.Status.String(),
		Fragments: len(entry.Fragments),
	}
	if len(entry.Fragments) == 0 {
		return row
	}

	first := entry.Fragments[0]
	last := entry.Fragments[len(entry.Fragments)-1]
	row.StartedAt = time.Unix(0, first.StartTimeUnixNano).UTC()
	row.EndedAt = time.Unix(0, last.EndTimeUnixNano).UTC()

	// The latest fragment's header carries the running totals.
	header, err := fragment.ReadHeaderOnly(last.Path)
	if err == nil {
		row.Application = header.Application()
		row.Messages = header.Mutable.MessageCount
		row.Warnings = header.Mutable.WarningCount
		row.Errors = header.Mutable.ErrorCount
	}
	return row
}

// InspectSession returns the deep view of one session, header-only (no
// packet bodies are decoded).
func InspectSession(repo *repository.Repository, sessionID string) (*InspectSessionResponse, error) {
	entry, ok := repo.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if len(entry.Fragments) == 0 {
		return nil, fmt.Errorf("session has no fragments: %s", sessionID)
	}

	last := entry.Fragments[len(entry.Fragments)-1]
	header, err := fragment.ReadHeaderOnly(last.Path)
	if err != nil {
		return nil, fmt.Errorf("read session header: %w", err)
	}

	resp := &InspectSessionResponse{
		SessionID:     entry.SessionID,
		Product:       header.Product(),
		Application:   header.Application(),
		AppVersion:    header.Static.AppVersion,
		AgentVersion:  header.Static.AgentVersion,
		Host:          header.Static.Host,
		User:          header.Static.User,
		OS:            header.Static.OS,
		Status:        entry.Status.String(),
		StartedAt:     time.Unix(0, entry.Fragments[0].StartTimeUnixNano).UTC(),
		EndedAt:       time.Unix(0, header.Mutable.EndTimeUnixNano).UTC(),
		MessageCount:  header.Mutable.MessageCount,
		CriticalCount: header.Mutable.CriticalCount,
		ErrorCount:    header.Mutable.ErrorCount,
		WarningCount:  header.Mutable.WarningCount,
	}
	if resp.EndedAt.After(resp.StartedAt) {
		resp.Duration = resp.EndedAt.Sub(resp.StartedAt)
	}

	for _, fm := range entry.Fragments {
		row := FragmentRow{
			FragmentID:   fm.FragmentID,
			FileSequence: fm.FileSequence,
			Status:       fm.Status.String(),
			Archived:     fm.Archived,
			Path:         fm.Path,
		}
		if info, err := os.Stat(fm.Path); err == nil {
			row.SizeBytes = info.Size()
		}
		resp.Fragments = append(resp.Fragments, row)
	}
	return resp, nil
}

// StatsSessions aggregates every indexed session, header-only.
func StatsSessions(repo *repository.Repository) *StatsSessionsResponse {
	resp := &StatsSessionsResponse{}
	for _, entry := range repo.All() {
		resp.Total++
		resp.TotalFragments += len(entry.Fragments)
		switch entry.Status {
		case fragment.StatusRunning:
			resp.Running++
		case fragment.StatusNormal:
			resp.Normal++
		case fragment.StatusCrashed:
			resp.Crashed++
		}
		if len(entry.Fragments) > 0 {
			last := entry.Fragments[len(entry.Fragments)-1]
			if header, err := fragment.ReadHeaderOnly(last.Path); err == nil {
				resp.TotalMessages += uint64(header.Mutable.MessageCount)
				resp.TotalErrors += uint64(header.Mutable.ErrorCount)
				resp.TotalWarnings += uint64(header.Mutable.WarningCount)
			}
		}
	}
	return resp
}

// StatsSession decodes one session's full packet stream and derives
// per-kind packet counts plus the corruption accounting.
func StatsSession(repo *repository.Repository, sessionID string) (*StatsSessionResponse, error) {
	s, err := repo.ReadSession(sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	resp := &StatsSessionResponse{
		SessionID:      sessionID,
		Status:         s.Header.Status().String(),
		MessageCount:   s.Header.Mutable.MessageCount,
		CriticalCount:  s.Header.Mutable.CriticalCount,
		ErrorCount:     s.Header.Mutable.ErrorCount,
		WarningCount:   s.Header.Mutable.WarningCount,
		InfoCount:      s.Header.Mutable.InfoCount,
		VerboseCount:   s.Header.Mutable.VerboseCount,
		PacketsByKind:  make(map[string]int),
		PacketsLost:    s.PacketsLost,
		HasCorruptData: s.HasCorruptData,
		FragmentCount:  len(s.Fragments),
	}

	start := s.Header.Static.StartTimeUnixNano
	end := s.Header.Mutable.EndTimeUnixNano
	if end > start {
		resp.Duration = time.Duration(end - start)
	}

	for _, d := range s.Packets {
		resp.PacketsByKind[d.Definition.TypeName]++
	}
	return resp, nil
}
