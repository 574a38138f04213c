package writer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
	"github.com/justapithecus/lumen/session"
)

// DefaultMaxFragmentSize and DefaultMaxFragmentAge are the rotation
// thresholds used when the configuration doesn't set its own.
const (
	DefaultMaxFragmentSize int64         = 20 * 1024 * 1024
	DefaultMaxFragmentAge  time.Duration = 24 * time.Hour
)

// Logger is the narrow slice of structured logging the writer needs,
// satisfied by *log.SugaredLogger without this package importing log
// directly.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warnw(string, ...any) {}

// Config configures one Writer instance, one per session.
type Config struct {
	Dir             string
	Summary         session.Summary
	Publisher       *publisher.Publisher
	Registry        *packet.Registry
	MaxFragmentSize int64
	MaxFragmentAge  time.Duration
	Logger          Logger
}

// Status reported to callers (the repository, coordinator) once the
// writer has degraded.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
)

// Writer is the single consumer of one session's publisher queue. It owns
// the currently-open fragment exclusively; nothing else may write to it.
type Writer struct {
	dir             string
	summary         session.Summary
	pub             *publisher.Publisher
	reg             *packet.Registry
	maxSize         int64
	maxAge          time.Duration
	log             Logger
	handle          *publisher.ThreadHandle

	current      *fragment.File
	fileSeq      uint32
	fragmentID   string
	opened       time.Time
	counters     *session.Counters

	status       Status
	droppedCount uint64
	closeWritten bool

	done chan struct{}
}

// New constructs a Writer. Call Run in its own goroutine to start
// draining the publisher.
func New(cfg Config) *Writer {
	maxSize := cfg.MaxFragmentSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFragmentSize
	}
	maxAge := cfg.MaxFragmentAge
	if maxAge <= 0 {
		maxAge = DefaultMaxFragmentAge
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	w := &Writer{
		dir:      cfg.Dir,
		summary:  cfg.Summary,
		pub:      cfg.Publisher,
		reg:      cfg.Registry,
		maxSize:  maxSize,
		maxAge:   maxAge,
		log:      logger,
		counters: session.NewCounters(),
		done:     make(chan struct{}),
	}
	w.handle = cfg.Publisher.NewThreadHandle("fragment-writer")
	cfg.Publisher.MarkAsWriterThread(w.handle)
	return w
}

// Status reports whether the writer is healthy or has degraded to
// dropping packets after repeated I/O failure.
func (w *Writer) Status() Status { return w.status }

// DroppedCount reports how many packets have been silently dropped since
// the writer degraded.
func (w *Writer) DroppedCount() uint64 { return w.droppedCount }

// Done is closed once Run has returned, after processing an Exit command.
func (w *Writer) Done() <-chan struct{} { return w.done }

// Run drains the publisher queue until an Exit command is processed or
// the publisher is closed with no Exit command pending. It is meant to
// run in its own goroutine for the lifetime of the session.
func (w *Writer) Run() error {
	defer close(w.done)

	if err := w.openNext(true); err != nil {
		return fmt.Errorf("writer: open initial fragment: %w", err)
	}

	for {
		batch, ok := w.pub.Dequeue()
		if !ok {
			return nil
		}

		exit, status, reason := w.processBatch(batch)
		w.pub.MarkCommitted(batch)

		if exit {
			return w.finalize(status, reason)
		}
	}
}

// processBatch appends every data packet in batch to the current
// fragment and executes any command packets inline. It returns
// exit=true if an Exit command was seen.
func (w *Writer) processBatch(batch *publisher.Batch) (exit bool, exitStatus, exitReason string) {
	for _, pkt := range batch.Packets {
		if pkt.Kind == packet.KindCommand {
			cmd, ok := pkt.Value.(*packet.Command)
			if !ok {
				continue
			}
			switch cmd.CommandType {
			case packet.CommandCloseFile:
				w.rotate()
			case packet.CommandFlush:
				w.flushHeader()
			case packet.CommandExit:
				exit = true
				exitStatus = cmd.Status
				exitReason = cmd.Reason
			}
			continue
		}

		w.appendPacket(pkt)
	}

	w.flushHeader()
	if !exit {
		w.maybeRotate()
	}
	return exit, exitStatus, exitReason
}

func (w *Writer) appendPacket(pkt publisher.Stamped) {
	if w.status == StatusDegraded {
		w.droppedCount++
		return
	}
	if lm, ok := pkt.Value.(*packet.LogMessage); ok {
		lm.ThreadIndex = pkt.ThreadIndex
		lm.Sequence = pkt.Sequence
		lm.TimestampUnixNano = pkt.TimestampUnixNano
		w.counters.IncMessage(lm.Severity)
	}
	if pkt.Kind == packet.KindSessionClose {
		w.closeWritten = true
	}
	if w.current == nil {
		return
	}
	if err := w.current.AppendPacket(pkt.Kind, pkt.Value); err != nil {
		w.handleIOFailure(WrapWriteError("append", w.current.Path(), err))
	}
}

func (w *Writer) flushHeader() {
	if w.current == nil || w.status == StatusDegraded {
		return
	}
	counts := w.counters.Snapshot()
	if err := w.current.PatchMutable(headerFromCounts(counts, time.Now().UnixNano(), fragment.StatusRunning)); err != nil {
		w.handleIOFailure(WrapWriteError("patch-header", w.current.Path(), err))
		return
	}
	if err := w.current.Flush(); err != nil {
		w.handleIOFailure(WrapWriteError("flush", w.current.Path(), err))
	}
}

func (w *Writer) maybeRotate() {
	if w.current == nil {
		return
	}
	if w.current.Size() >= w.maxSize || time.Since(w.opened) >= w.maxAge {
		w.rotate()
	}
}

func (w *Writer) rotate() {
	if w.current != nil {
		if err := w.current.Close(); err != nil {
			w.log.Warnw("writer: error closing fragment on rotation", "path", w.current.Path(), "error", err)
		}
	}
	if err := w.openNext(false); err != nil {
		w.handleIOFailure(err)
	}
}

func (w *Writer) openNext(isFirst bool) error {
	w.fragmentID = uuid.NewString()
	if !isFirst {
		w.fileSeq++
	}
	path := filepath.Join(w.dir, fragmentFileName(w.summary.SessionID, w.fragmentID, w.fileSeq))
	f, err := fragment.Create(path, w.summary.HeaderParams(w.fragmentID, w.fileSeq), w.reg)
	if err != nil {
		return WrapOpenError("create", path, err)
	}
	w.current = f
	w.opened = time.Now()

	_ = f.AppendPacket(packet.KindSessionFragmentInfo, &packet.SessionFragmentInfo{
		FragmentID:   w.fragmentID,
		SessionID:    w.summary.SessionID,
		FileSequence: w.fileSeq,
		StartTimeUnixNano: w.opened.UnixNano(),
		IsNew:        true,
	})
	if w.fileSeq == 0 {
		counts := w.counters.Snapshot()
		_ = f.AppendPacket(packet.KindSessionSummary, valueOf(w.summary.Packet(fragment.StatusRunning, counts, 0)))
	}
	return nil
}

func (w *Writer) finalize(statusName, reason string) error {
	if w.current == nil {
		return nil
	}
	status := fragment.StatusNormal
	if statusName == fragment.StatusCrashed.String() {
		status = fragment.StatusCrashed
	}
	if !w.closeWritten {
		_ = w.current.AppendPacket(packet.KindSessionClose, &packet.SessionClose{Status: status.String(), Reason: reason})
	}

	counts := w.counters.Snapshot()
	if err := w.current.PatchMutable(headerFromCounts(counts, time.Now().UnixNano(), status)); err != nil {
		return WrapWriteError("finalize-patch-header", w.current.Path(), err)
	}
	if err := w.current.Flush(); err != nil {
		return WrapWriteError("finalize-flush", w.current.Path(), err)
	}
	return w.current.Close()
}

// handleIOFailure applies the degrade policy: one reopen attempt with a
// new fragment name, then drop subsequent packets while still counting
// the loss.
func (w *Writer) handleIOFailure(err error) {
	if w.status == StatusDegraded {
		w.droppedCount++
		return
	}
	w.log.Warnw("writer: i/o failure, attempting one reopen", "error", err)

	reopenErr := w.openNext(false)
	if reopenErr != nil {
		w.log.Warnw("writer: reopen failed, degrading to drop mode", "error", reopenErr)
		w.status = StatusDegraded
		w.droppedCount++
	}
}

func fragmentFileName(sessionID, fragmentID string, fileSeq uint32) string {
	return fragment.FileName(sessionID, fragmentID, fileSeq)
}

func headerFromCounts(counts session.Counts, endTime int64, status fragment.Status) fragment.MutableHeader {
	return fragment.MutableHeader{
		EndTimeUnixNano: endTime,
		Status:          status,
		MessageCount:    counts.MessageCount,
		CriticalCount:   counts.CriticalCount,
		ErrorCount:      counts.ErrorCount,
		WarningCount:    counts.WarningCount,
		InfoCount:       counts.InfoCount,
		VerboseCount:    counts.VerboseCount,
	}
}

func valueOf(v packet.SessionSummaryPacket) *packet.SessionSummaryPacket { return &v }
