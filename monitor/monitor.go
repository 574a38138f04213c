// Package monitor implements the background poller that drives sampled
// metrics: on a fixed interval it polls every registered Source, records
// the returned observations into the metric engine, and publishes them
// as metric sample packets so they reach the session's fragment stream.
//
// The platform event listeners (console, GC, CLR) the agent can be
// configured with are all expressed as Sources; what varies per platform
// is only which Sources get registered.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/lumen/metric"
	"github.com/justapithecus/lumen/packet"
	"github.com/justapithecus/lumen/publisher"
)

// DefaultPollInterval is used when the configuration doesn't set one.
const DefaultPollInterval = 15 * time.Second

// maxConsecutiveSourceErrors drops a source that keeps failing, matching
// the publisher's slow-subscriber eviction rule: a broken source is
// logged and removed rather than re-polled forever.
const maxConsecutiveSourceErrors = 5

// Observation is one polled reading from a Source: which metric it
// belongs to (category/counter/instance) and the raw values recorded.
type Observation struct {
	Category     string
	Counter      string
	InstanceName string
	Kind         metric.SamplingKind
	UnitCaption  string

	RawValue  float64
	BaseValue float64
	HasBase   bool

	// RawTimestampUnixNano is when the underlying datum was captured;
	// zero means "now". The poller stamps the sample timestamp itself.
	RawTimestampUnixNano int64
}

// Source is one pollable producer of sampled-metric observations.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]Observation, error)
}

// Logger is the narrow logging slice the poller needs.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warnw(string, ...any) {}

// Config configures one Poller.
type Config struct {
	Interval  time.Duration
	Sources   []Source
	Metrics   *metric.Registry
	Publisher *publisher.Publisher
	Logger    Logger
}

// Poller polls sources on a ticker and feeds the metric engine and the
// publisher. One Poller runs per session, on its own goroutine.
type Poller struct {
	interval time.Duration
	metrics  *metric.Registry
	pub      *publisher.Publisher
	handle   *publisher.ThreadHandle
	log      Logger

	mu      sync.Mutex
	sources []*sourceState

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

type sourceState struct {
	src    Source
	errors int
}

// New constructs a Poller. Call Run in its own goroutine.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Poller{
		interval: interval,
		metrics:  cfg.Metrics,
		pub:      cfg.Publisher,
		log:      logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Publisher != nil {
		p.handle = cfg.Publisher.NewThreadHandle("monitor-poller")
	}
	for _, s := range cfg.Sources {
		p.sources = append(p.sources, &sourceState{src: s})
	}
	return p
}

// Subscribe registers an additional source after construction.
func (p *Poller) Subscribe(s Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, &sourceState{src: s})
}

// Run polls until Stop is called or ctx is canceled. Errors from
// individual sources never propagate; they are logged and, after
// repeated consecutive failures, the source is dropped.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

// pollOnce runs one sweep over every live source.
func (p *Poller) pollOnce(ctx context.Context) {
	p.mu.Lock()
	states := make([]*sourceState, len(p.sources))
	copy(states, p.sources)
	p.mu.Unlock()

	now := time.Now().UnixNano()
	for _, st := range states {
		obs, err := st.src.Poll(ctx)
		if err != nil {
			st.errors++
			p.log.Warnw("monitor: source poll failed", "source", st.src.Name(), "consecutive_errors", st.errors, "error", err)
			if st.errors >= maxConsecutiveSourceErrors {
				p.dropSource(st)
			}
			continue
		}
		st.errors = 0

		for _, o := range obs {
			p.record(o, now)
		}
	}
}

func (p *Poller) dropSource(st *sourceState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.sources {
		if cur == st {
			p.sources = append(p.sources[:i], p.sources[i+1:]...)
			p.log.Warnw("monitor: dropping repeatedly failing source", "source", st.src.Name())
			return
		}
	}
}

// record feeds one observation into the metric engine and, when a
// publisher is wired, the session's packet stream.
func (p *Poller) record(o Observation, sampleTime int64) {
	rawTime := o.RawTimestampUnixNano
	if rawTime == 0 {
		rawTime = sampleTime
	}

	var metricID string
	if p.metrics != nil {
		def, _ := p.metrics.GetOrCreateDefinition(o.Category, o.Counter, func() metric.Definition {
			return metric.Definition{
				MetricTypeName: "sampled",
				SampleType:     metric.Sampled,
				Kind:           o.Kind,
				UnitCaption:    o.UnitCaption,
			}
		})
		inst := p.metrics.SampledCollection(def).GetOrCreate(o.InstanceName)
		inst.AddSample(metric.Sample{
			RawValue:        o.RawValue,
			BaseValue:       o.BaseValue,
			RawTimestamp:    rawTime,
			SampleTimestamp: sampleTime,
			Kind:            o.Kind,
		})
		metricID = inst.MetricID
	}

	if p.pub != nil {
		p.pub.Publish(p.handle, []publisher.Item{{
			Kind: packet.KindMetricSample,
			Value: &packet.MetricSample{
				MetricID:                metricID,
				InstanceName:            o.InstanceName,
				RawValue:                o.RawValue,
				BaseValue:               o.BaseValue,
				HasBaseValue:            o.HasBase,
				RawTimestampUnixNano:    rawTime,
				SampleTimestampUnixNano: sampleTime,
			},
			TimestampUnixNano: sampleTime,
		}}, publisher.Queued)
	}
}
