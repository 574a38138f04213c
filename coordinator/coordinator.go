// Package coordinator owns the agent lifecycle: the initialization
// gate, session start and end, graceful shutdown ordering, and
// crash-status escalation. It is the one place that constructs and
// wires the session summary, publisher, repository, fragment writer,
// metric registry, and monitor poller; every other package takes its
// dependencies as parameters.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/lumen/agentconfig"
	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/log"
	"github.com/justapithecus/lumen/metric"
	"github.com/justapithecus/lumen/monitor"
	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
	"github.com/justapithecus/lumen/repository"
	"github.com/justapithecus/lumen/session"
	"github.com/justapithecus/lumen/writer"
)

// AgentVersion is stamped into every session summary this build creates.
const AgentVersion = "0.1.0"

// uploadTimeout bounds the send-on-exit upload so a dead upstream can't
// pin the process open indefinitely.
const uploadTimeout = 2 * time.Minute

// Uploader ships a composed session stream to the upstream service. It
// is an external collaborator; the agent only decides when to invoke it.
type Uploader interface {
	Upload(ctx context.Context, sessionID string, stream io.ReadSeeker) error
}

// InitDecision is an Initializing subscriber's verdict: cancel the
// initialization outright, or proceed, optionally with a replacement
// configuration.
type InitDecision struct {
	Cancel   bool
	Override *agentconfig.Config
}

// Proceed returns the decision that lets initialization continue
// unchanged.
func Proceed() InitDecision { return InitDecision{} }

// ProceedWith returns the decision that swaps in a replacement config.
func ProceedWith(cfg *agentconfig.Config) InitDecision {
	return InitDecision{Override: cfg}
}

// Cancel returns the decision that suppresses the agent.
func Cancel() InitDecision { return InitDecision{Cancel: true} }

// ErrInitCanceled is the suppression cause recorded when an
// Initializing handler cancels.
var ErrInitCanceled = fmt.Errorf("coordinator: initialization canceled by subscriber")

// InitHandler observes (and may veto or amend) an initialization before
// any session state is constructed.
type InitHandler func(cfg *agentconfig.Config) InitDecision

// Options bundles everything New needs. Only Config is required.
type Options struct {
	Config *agentconfig.Config

	// Probe supplies host/user/OS fields; defaults to OSProbe.
	Probe EnvironmentProbe

	// Uploader is invoked on send-on-exit; nil disables uploading even
	// when the server configuration asks for it.
	Uploader Uploader

	// OnInitializing handlers run synchronously, in order, during Init.
	OnInitializing []InitHandler

	// ResolveUser is the publisher's dedicated user-resolution hook.
	ResolveUser func(userName string) (principal string, err error)

	// ExtraSources are monitor sources beyond what the listener
	// configuration enables.
	ExtraSources []monitor.Source
}

// Agent is one process's agent lifecycle. Construct with New, then call
// Init (or StartSession) before publishing anything through it.
type Agent struct {
	mu   sync.Mutex
	cond *sync.Cond

	state   State
	initErr error

	opts Options
	cfg  *agentconfig.Config

	summary session.Summary
	logger  *log.Logger
	sugar   *log.SugaredLogger

	pub          *publisher.Publisher
	repo         *repository.Repository
	wr           *writer.Writer
	lock         *repository.SessionLock
	metrics      *metric.Registry
	poller       *monitor.Poller
	pollerCancel context.CancelFunc

	mainHandle *publisher.ThreadHandle

	sessionStatus fragment.Status

	// dispatchingInit is set while Initializing handlers run; an Init
	// call arriving in that window returns false instead of blocking,
	// since a blocked re-entrant call from inside a handler could only
	// be satisfied by the init it is itself part of.
	dispatchingInit atomic.Bool
}

// New constructs an Agent in the Uninitialized state. Nothing is built
// until Init.
func New(opts Options) *Agent {
	a := &Agent{
		opts:          opts,
		state:         StateUninitialized,
		sessionStatus: fragment.StatusRunning,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// DefaultRepositoryRoot is where sessions land when session_file.folder
// is not configured.
func DefaultRepositoryRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lumen")
	}
	return filepath.Join(os.TempDir(), "lumen")
}

// Init brings the agent to Running. It is idempotent: a call on an
// already-running agent returns true immediately. A concurrent call
// while another goroutine is initializing blocks until that attempt
// settles — except calls made from inside an Initializing handler,
// which return false to avoid deadlock. A canceled or failed init
// leaves the agent Suppressed with the cause preserved; StartSession
// may retry it.
func (a *Agent) Init() (bool, error) {
	if a.dispatchingInit.Load() {
		return false, nil
	}

	a.mu.Lock()
	for a.state == StateInitializing {
		a.cond.Wait()
	}
	switch a.state {
	case StateRunning, StateEnding, StateEnded:
		a.mu.Unlock()
		return true, nil
	case StateSuppressed:
		err := a.initErr
		a.mu.Unlock()
		return false, err
	}
	a.state = StateInitializing
	a.mu.Unlock()

	err := a.doInit()

	a.mu.Lock()
	if err != nil {
		a.state = StateSuppressed
		a.initErr = err
	} else {
		a.state = StateRunning
	}
	a.cond.Broadcast()
	a.mu.Unlock()

	return err == nil, err
}

// StartSession retries a suppressed initialization, or behaves exactly
// like Init otherwise.
func (a *Agent) StartSession() (bool, error) {
	a.mu.Lock()
	if a.state == StateSuppressed {
		a.state = StateUninitialized
		a.initErr = nil
	}
	a.mu.Unlock()
	return a.Init()
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// InitError returns the preserved cause of a suppressed initialization.
func (a *Agent) InitError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initErr
}

// Summary returns the session summary built at init.
func (a *Agent) Summary() session.Summary { return a.summary }

// SessionID returns the running session's id, or empty before init.
func (a *Agent) SessionID() string { return a.summary.SessionID }

// Publisher exposes the session's publisher for direct packet ingress.
// Nil until Running.
func (a *Agent) Publisher() *publisher.Publisher { return a.pub }

// Repository exposes the local repository, nil when session files are
// disabled or before init.
func (a *Agent) Repository() *repository.Repository { return a.repo }

// Metrics exposes the session's metric registry. Nil until Running.
func (a *Agent) Metrics() *metric.Registry { return a.metrics }

// Monitor exposes the poller so hosts can Subscribe additional sources.
// Nil when no source is configured.
func (a *Agent) Monitor() *monitor.Poller { return a.poller }

func (a *Agent) doInit() error {
	cfg := a.opts.Config
	if cfg == nil {
		return fmt.Errorf("coordinator: config is required")
	}

	cfg, err := a.dispatchInitializing(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	probe := a.opts.Probe
	if probe == nil {
		probe = OSProbe{}
	}
	env := probe.Probe()

	props := make(map[string]string, len(cfg.Properties)+4)
	for k, v := range cfg.Properties {
		props[k] = v
	}
	if cfg.ApplicationDescription != "" {
		props["application_description"] = cfg.ApplicationDescription
	}
	if cfg.Environment != "" {
		props["environment"] = cfg.Environment
	}
	if cfg.PromotionLevel != "" {
		props["promotion_level"] = cfg.PromotionLevel
	}
	appType, _ := agentconfig.ParseApplicationType(cfg.Publisher.ApplicationType)
	if appType != agentconfig.AppTypeUnknown {
		props["application_type"] = string(appType)
	}

	a.summary = session.Summary{
		SessionID:         uuid.NewString(),
		Product:           cfg.ProductName,
		Application:       cfg.ApplicationName,
		AppVersion:        cfg.ApplicationVersion,
		AgentVersion:      AgentVersion,
		Host:              env.Host,
		User:              env.User,
		OS:                env.OS,
		Culture:           env.Culture,
		StartTimeUnixNano: time.Now().UnixNano(),
		Properties:        props,
	}

	a.logger = log.NewLogger(log.SessionContext{
		SessionID:   a.summary.SessionID,
		Product:     a.summary.Product,
		Application: a.summary.Application,
	})
	a.sugar = a.logger.Sugar()

	a.pub = publisher.New(publisher.Config{
		SessionID:           a.summary.SessionID,
		EnableAnonymousMode: cfg.Publisher.EnableAnonymousMode,
		ResolveUser:         a.opts.ResolveUser,
	})
	a.mainHandle = a.pub.NewThreadHandle("coordinator")
	a.metrics = metric.NewRegistry()

	if cfg.SessionFile.IsEnabled() {
		root := cfg.SessionFile.Folder
		if root == "" {
			root = DefaultRepositoryRoot()
		}
		repo, err := repository.Open(root, repository.SanitizeProductName(cfg.ProductName), a.sugar)
		if err != nil {
			return fmt.Errorf("coordinator: open repository: %w", err)
		}
		lock, err := repository.AcquireSessionLock(repo.Layout(), a.summary.SessionID)
		if err != nil {
			repo.Close()
			return fmt.Errorf("coordinator: acquire session lock: %w", err)
		}
		a.repo = repo
		a.lock = lock

		a.wr = writer.New(writer.Config{
			Dir:             repo.Layout().Root,
			Summary:         a.summary,
			Publisher:       a.pub,
			Registry:        packet.NewRegistry(),
			MaxFragmentSize: cfg.SessionFile.MaxFileSize,
			MaxFragmentAge:  cfg.SessionFile.MaxFileDuration.Duration,
			Logger:          a.sugar,
		})
		go func() {
			if err := a.wr.Run(); err != nil {
				a.sugar.Warnw("coordinator: fragment writer exited with error", "error", err)
			}
		}()
	}

	if a.wr == nil {
		// No fragment writer: something still has to drain the queue,
		// mark batches committed so WaitForCommit callers unblock, and
		// drive subscriber fan-out. A discard consumer fills that role.
		go func() {
			for {
				b, ok := a.pub.Dequeue()
				if !ok {
					return
				}
				a.pub.MarkCommitted(b)
			}
		}()
	}

	sources := append([]monitor.Source{}, a.opts.ExtraSources...)
	if cfg.Listener.EnableGCEvents || cfg.Listener.EnableRuntimeEvents {
		sources = append(sources, monitor.NewRuntimeSource())
	}
	if len(sources) > 0 {
		a.poller = monitor.New(monitor.Config{
			Interval:  cfg.Listener.PollInterval.Duration,
			Sources:   sources,
			Metrics:   a.metrics,
			Publisher: a.pub,
			Logger:    a.sugar,
		})
		ctx, cancel := context.WithCancel(context.Background())
		a.pollerCancel = cancel
		go a.poller.Run(ctx)
	}

	return nil
}

// dispatchInitializing runs every OnInitializing handler in order. A
// handler panic is swallowed with one logged warning and treated as
// Proceed; a Cancel decision suppresses the agent.
func (a *Agent) dispatchInitializing(cfg *agentconfig.Config) (*agentconfig.Config, error) {
	if len(a.opts.OnInitializing) == 0 {
		return cfg, nil
	}

	a.dispatchingInit.Store(true)
	defer a.dispatchingInit.Store(false)

	bootstrap := log.NewLogger(log.SessionContext{Product: cfg.ProductName}).Sugar()

	for _, handler := range a.opts.OnInitializing {
		decision := safeDispatch(handler, cfg, bootstrap)
		if decision.Cancel {
			return nil, ErrInitCanceled
		}
		if decision.Override != nil {
			cfg = decision.Override
		}
	}
	return cfg, nil
}

func safeDispatch(handler InitHandler, cfg *agentconfig.Config, logger *log.SugaredLogger) (decision InitDecision) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("coordinator: initializing handler panicked", "panic", r)
			decision = Proceed()
		}
	}()
	return handler(cfg)
}

// statusRank orders session statuses for monotonic advancement:
// Running < Normal < Crashed.
func statusRank(s fragment.Status) int {
	switch s {
	case fragment.StatusRunning:
		return 1
	case fragment.StatusNormal:
		return 2
	case fragment.StatusCrashed:
		return 3
	default:
		return 0
	}
}

func (a *Agent) advanceStatusLocked(status fragment.Status) {
	if statusRank(status) > statusRank(a.sessionStatus) {
		a.sessionStatus = status
	}
}

// EscalateStatus advances the session's eventual close status without
// ending the session — the crash-detected path. Status never moves
// backward: escalating to Normal after Crashed is a no-op.
func (a *Agent) EscalateStatus(status fragment.Status) {
	a.mu.Lock()
	a.advanceStatusLocked(status)
	a.mu.Unlock()
}

// SessionStatus reports the status the session would close with now.
func (a *Agent) SessionStatus() fragment.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionStatus
}

// Publish hands packets to the session's publisher, or silently does
// nothing when the agent is suppressed or not yet initialized — a call
// to log never fails due to internal agent state.
func (a *Agent) Publish(h *publisher.ThreadHandle, items []publisher.Item, mode publisher.Mode) {
	a.mu.Lock()
	ok := a.state == StateRunning || a.state == StateEnding
	a.mu.Unlock()
	if !ok || a.pub == nil || h == nil {
		return
	}
	a.pub.Publish(h, items, mode)
}

// NewThreadHandle allocates a publisher thread handle, or nil when the
// agent has no publisher (suppressed / uninitialized). Publish accepts
// a nil handle as a no-op, so callers never need to special-case it.
func (a *Agent) NewThreadHandle(name string) *publisher.ThreadHandle {
	if a.pub == nil {
		return nil
	}
	return a.pub.NewThreadHandle(name)
}

// EndFile rotates the current fragment: a close marker into the old
// file, the rotation command, an open marker into the new file, all in
// one atomic batch, then a blocking commit wait.
func (a *Agent) EndFile(reason string) {
	a.mu.Lock()
	running := a.state == StateRunning
	a.mu.Unlock()
	if !running || a.pub == nil {
		return
	}

	a.pub.Publish(a.mainHandle, []publisher.Item{
		{Kind: packet.KindLogMessage, Value: &packet.LogMessage{
			Severity:    packet.SeverityInformation,
			LogSystem:   "lumen",
			Category:    "session.file",
			Caption:     "Closing session file",
			Description: "Closing session file: " + reason,
		}},
		{Kind: packet.KindCommand, Value: &packet.Command{CommandType: packet.CommandCloseFile, Reason: reason}},
		{Kind: packet.KindLogMessage, Value: &packet.LogMessage{
			Severity:    packet.SeverityInformation,
			LogSystem:   "lumen",
			Category:    "session.file",
			Caption:     "Opening new session file",
			Description: "Opening new session file: " + reason,
		}},
	}, publisher.WaitForCommit)
}

// Flush asks the writer to fsync the current fragment and waits for it.
func (a *Agent) Flush() {
	a.mu.Lock()
	ok := a.state == StateRunning && a.pub != nil
	a.mu.Unlock()
	if !ok {
		return
	}
	a.pub.Publish(a.mainHandle, []publisher.Item{
		{Kind: packet.KindCommand, Value: &packet.Command{CommandType: packet.CommandFlush}},
	}, publisher.WaitForCommit)
}

// EndSession closes the session: advances the status monotonically,
// emits the final SessionClose packet and the writer exit command,
// drains the writer, releases the session lock, and — when the server
// configuration asks for it — hands the finished session to the
// uploader. Safe to call more than once; only the first call out of
// Running does the work.
func (a *Agent) EndSession(status fragment.Status, reason string) error {
	a.mu.Lock()
	for a.state == StateInitializing {
		a.cond.Wait()
	}
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	a.advanceStatusLocked(status)
	final := a.sessionStatus
	if final == fragment.StatusRunning {
		// EndSession with no terminal status still closes normally.
		final = fragment.StatusNormal
		a.sessionStatus = final
	}
	a.state = StateEnding
	a.mu.Unlock()

	// From here on, every publish commits synchronously so final
	// messages reach disk before the process exits.
	a.pub.SetSessionEnding()

	if a.pollerCancel != nil {
		a.pollerCancel()
		<-a.poller.Done()
	}

	a.pub.Publish(a.mainHandle, []publisher.Item{
		{Kind: packet.KindSessionClose, Value: &packet.SessionClose{Status: final.String(), Reason: reason}},
		{Kind: packet.KindCommand, Value: &packet.Command{CommandType: packet.CommandExit, Status: final.String(), Reason: reason}},
	}, publisher.WaitForCommit)

	a.pub.Close()
	if a.wr != nil {
		<-a.wr.Done()
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			a.sugar.Warnw("coordinator: release session lock", "error", err)
		}
	}

	if a.shouldSendOnExit(final) {
		a.sendOnExit()
	}

	if a.repo != nil {
		a.repo.Close()
	}

	a.mu.Lock()
	a.state = StateEnded
	a.mu.Unlock()
	return nil
}

func (a *Agent) shouldSendOnExit(final fragment.Status) bool {
	if a.opts.Uploader == nil || a.repo == nil || a.cfg == nil {
		return false
	}
	srv := a.cfg.Server
	if !srv.Enabled {
		return false
	}
	return srv.AutoSendSessions || (srv.AutoSendOnError && final != fragment.StatusNormal)
}

func (a *Agent) sendOnExit() {
	if err := a.repo.Refresh(); err != nil {
		a.sugar.Warnw("coordinator: refresh before upload failed", "error", err)
		return
	}
	stream, err := a.repo.GetSessionStream(a.summary.SessionID)
	if err != nil {
		a.sugar.Warnw("coordinator: compose session stream for upload failed", "error", err)
		return
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := a.opts.Uploader.Upload(ctx, a.summary.SessionID, stream); err != nil {
		a.sugar.Warnw("coordinator: session upload failed", "session_id", a.summary.SessionID, "error", err)
		return
	}
	if a.cfg.Server.PurgeSentSessions {
		if err := a.repo.Remove(a.summary.SessionID); err != nil {
			a.sugar.Warnw("coordinator: purge after upload failed", "error", err)
		}
	}
}
