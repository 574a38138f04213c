// Package publisher implements the single concurrent ingress point of a
// session: publish stamps packets with a per-session sequence number,
// a per-thread index, and a timestamp, then hands them to an ordered
// queue the fragment writer drains and, after commit, fans them out to
// in-process subscribers in the same order.
//
// The queue has exactly one consumer (the fragment writer); subscriber
// fan-out happens after commit, on the consumer's goroutine, so both
// disk order and delivery order equal enqueue order.
package publisher

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/lumen/packet"
)

// NowFunc is swappable in tests; defaults to time.Now().UnixNano().
var NowFunc = func() int64 { return time.Now().UnixNano() }

// ThreadHandle binds a sequence of Publish calls to one logical "thread"
// of the host application. Go has no stable OS-thread identity exposed
// to goroutines, so callers obtain a handle once (typically one per
// worker goroutine) and reuse it, the same way the original per-OS-thread
// index is allocated once and cached — just made explicit instead of
// relying on thread-local storage.
type ThreadHandle struct {
	pub        *Publisher
	name       string
	index      uint32
	registered atomic.Bool
	isWriter   bool
}

// Index returns the thread_index this handle was assigned. Valid only
// after the first Publish call through it.
func (h *ThreadHandle) Index() uint32 { return h.index }

// Publisher is the thread-safe ingress for one session's packet stream.
type Publisher struct {
	sessionID string

	seq uint64 // atomic

	threadMu     sync.Mutex
	nextThread   uint32
	writerHandle *ThreadHandle

	anonymous bool

	queueMu sync.Mutex
	queue   []*Batch
	queueCV *sync.Cond
	closed  bool

	commitMu    sync.Mutex
	committedTo uint64
	commitCV    *sync.Cond

	subs *subscriberSet

	resolver *userResolver

	ending atomic.Bool
}

// Config carries the publisher's construction-time options.
type Config struct {
	SessionID            string
	EnableAnonymousMode  bool
	ResolveUser          func(userName string) (principal string, err error)
}

// New returns a Publisher for one session.
func New(cfg Config) *Publisher {
	p := &Publisher{
		sessionID: cfg.SessionID,
		anonymous: cfg.EnableAnonymousMode,
		subs:      newSubscriberSet(),
		resolver:  newUserResolver(cfg.ResolveUser),
	}
	p.queueCV = sync.NewCond(&p.queueMu)
	p.commitCV = sync.NewCond(&p.commitMu)
	return p
}

// NewThreadHandle allocates a handle for a new logical thread. The
// allocation itself doesn't emit a ThreadInfo packet; that happens
// lazily on the handle's first Publish call, which also assigns the
// thread index.
func (p *Publisher) NewThreadHandle(name string) *ThreadHandle {
	return &ThreadHandle{pub: p, name: name}
}

// MarkAsWriterThread designates h as the fragment writer's own thread.
// WaitForCommit calls made through this handle return immediately
// instead of blocking, since the writer is the one that would otherwise
// need to unblock them — blocking here is a guaranteed deadlock.
func (p *Publisher) MarkAsWriterThread(h *ThreadHandle) {
	h.isWriter = true
	p.threadMu.Lock()
	p.writerHandle = h
	p.threadMu.Unlock()
}

func (p *Publisher) allocateThreadIndex() uint32 {
	p.threadMu.Lock()
	defer p.threadMu.Unlock()
	idx := p.nextThread
	p.nextThread++
	return idx
}

// Publish stamps and enqueues items as one Batch. In Queued mode it never
// blocks. In WaitForCommit mode it blocks until the fragment writer has
// committed (flushed) past the batch's last packet, unless h is the
// writer's own thread handle.
func (p *Publisher) Publish(h *ThreadHandle, items []Item, mode Mode) {
	if len(items) == 0 {
		return
	}

	var threadInfoNeeded bool
	if h.registered.CompareAndSwap(false, true) {
		h.index = p.allocateThreadIndex()
		threadInfoNeeded = true
	}

	stamped := make([]Stamped, 0, len(items)+1)
	if threadInfoNeeded {
		stamped = append(stamped, Stamped{
			Kind:              packet.KindThreadInfo,
			Value:             &packet.ThreadInfo{ThreadIndex: h.index, ThreadName: h.name},
			Sequence:          atomic.AddUint64(&p.seq, 1),
			ThreadIndex:       h.index,
			TimestampUnixNano: NowFunc(),
		})
	}

	for _, it := range items {
		ts := it.TimestampUnixNano
		if ts == 0 {
			ts = NowFunc()
		}
		value := it.Value
		if p.anonymous {
			value = stripUserIdentity(it.Kind, value)
		}
		if lm, ok := value.(*packet.LogMessage); ok {
			if lm.Caption == "" {
				lm.Caption = captionFromDescription(lm.Description)
			}
			p.resolver.resolve(lm)
		}
		stamped = append(stamped, Stamped{
			Kind:              it.Kind,
			Value:             value,
			Sequence:          atomic.AddUint64(&p.seq, 1),
			ThreadIndex:       h.index,
			TimestampUnixNano: ts,
		})
	}

	batch := &Batch{Packets: stamped, mode: mode, done: make(chan struct{})}

	p.queueMu.Lock()
	p.queue = append(p.queue, batch)
	p.queueCV.Signal()
	p.queueMu.Unlock()

	if (mode == WaitForCommit || p.ending.Load()) && !h.isWriter {
		p.waitCommitted(batch.LastSequence())
	}
}

// SetSessionEnding flips every subsequent Publish into synchronous
// commit, regardless of the requested mode, so final messages reach disk
// before the session closes. In-flight WaitForCommit callers still
// complete normally.
func (p *Publisher) SetSessionEnding() {
	p.ending.Store(true)
}

// captionFromDescription extracts a single-line caption from the first
// line of a description, for log packets published without one.
func captionFromDescription(description string) string {
	if i := strings.IndexByte(description, '\n'); i >= 0 {
		return strings.TrimRight(description[:i], "\r")
	}
	return description
}

// stripUserIdentity clears user_name/user_principal on log packets when
// anonymous mode is enabled, before the packet ever reaches the queue.
func stripUserIdentity(kind packet.Kind, value any) any {
	if kind != packet.KindLogMessage {
		return value
	}
	lm, ok := value.(*packet.LogMessage)
	if !ok {
		return value
	}
	clone := *lm
	clone.UserName = ""
	clone.UserPrincipal = ""
	return &clone
}

// Dequeue blocks until a Batch is available or the Publisher is closed,
// returning ok=false only in the latter case. It is meant to be called
// by exactly one consumer: the fragment writer.
func (p *Publisher) Dequeue() (*Batch, bool) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.queueCV.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true
}

// MarkCommitted records that sequence numbers up to seq have been
// durably flushed, unblocks any WaitForCommit callers waiting on a
// sequence at or before seq, and fans the batch's packets out to
// subscribers in commit order.
func (p *Publisher) MarkCommitted(b *Batch) {
	p.commitMu.Lock()
	if b.LastSequence() > p.committedTo {
		p.committedTo = b.LastSequence()
	}
	p.commitMu.Unlock()
	p.commitCV.Broadcast()
	close(b.done)

	p.subs.dispatch(b.Packets)
}

func (p *Publisher) waitCommitted(seq uint64) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	for p.committedTo < seq {
		p.commitCV.Wait()
	}
}

// Close signals Dequeue to stop blocking once the queue drains. It does
// not discard already-queued batches.
func (p *Publisher) Close() {
	p.queueMu.Lock()
	p.closed = true
	p.queueCV.Broadcast()
	p.queueMu.Unlock()
}

// Subscribe registers a handler to receive committed packets in order.
// A handler's errors are counted, not logged; after maxConsecutiveErrors
// consecutive failures it is automatically unsubscribed. Returns an id
// Unsubscribe accepts.
func (p *Publisher) Subscribe(handler func(Stamped) error) int {
	return p.subs.add(handler)
}

// Unsubscribe removes a previously registered handler.
func (p *Publisher) Unsubscribe(id int) {
	p.subs.remove(id)
}
