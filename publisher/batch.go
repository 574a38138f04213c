package publisher

import "github.com/justapithecus/lumen/packet"

// Item is one unstamped packet a caller hands to Publish: a kind plus its
// payload value, and an optional pre-set timestamp (zero means "stamp
// with now").
type Item struct {
	Kind              packet.Kind
	Value             any
	TimestampUnixNano int64
}

// Stamped is one packet after Publish has assigned it a session-wide
// sequence number, thread index, and timestamp. Never mutated after
// creation.
type Stamped struct {
	Kind              packet.Kind
	Value             any
	Sequence          uint64
	ThreadIndex       uint32
	TimestampUnixNano int64
}

// Batch is the set of packets from one Publish call, kept together so
// they commit contiguously and in order relative to other batches.
type Batch struct {
	Packets []Stamped
	mode    Mode
	done    chan struct{}
}

// LastSequence returns the sequence number of the batch's final packet,
// the value a WaitForCommit caller blocks on.
func (b Batch) LastSequence() uint64 {
	if len(b.Packets) == 0 {
		return 0
	}
	return b.Packets[len(b.Packets)-1].Sequence
}
