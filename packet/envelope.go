// Package packet implements the self-describing binary packet codec that
// underlies every session fragment. Packets are length-prefixed records:
// a LEB128 unsigned varint packet-definition id, a varint byte length, then
// the packet's fields encoded in definition order via msgpack.
//
// Readers tolerate unknown trailing fields of a known definition (skipped
// using the length prefix) and unknown definition ids entirely (skipped
// with a logged warning). A single malformed packet never aborts more than
// the fragment stream currently being read.
package packet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxPacketSize bounds a single encoded packet to guard against a corrupt
// length prefix causing an unbounded allocation.
const maxPacketSize = 64 * 1024 * 1024

// Envelope is the decoded form of one on-disk record: a definition id plus
// the raw msgpack-encoded field bytes, not yet unmarshaled into a typed
// packet. Decoder.Next returns envelopes; Unmarshal turns one into a typed
// value from the Registry.
type Envelope struct {
	DefinitionID uint32
	Payload      []byte
}

// Encoder writes length-prefixed packet envelopes to an underlying writer.
// Grounded on ipc.FrameDecoder/EncodeFrame's length-prefix idiom, widened
// from a fixed 4-byte big-endian prefix to a LEB128 varint per the wire
// format spec (integer widths are not fixed at encode time, only at the
// bit level — doubles and timestamps use fixed little-endian layouts,
// handled by the msgpack codec itself).
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one packet: varint(definitionID) + varint(len(payload)) + payload.
func (e *Encoder) Encode(definitionID uint32, payload []byte) (int, error) {
	var hdr [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(definitionID))
	n += binary.PutUvarint(hdr[n:], uint64(len(payload)))

	written := 0
	nw, err := e.w.Write(hdr[:n])
	written += nw
	if err != nil {
		return written, err
	}
	nw, err = e.w.Write(payload)
	written += nw
	return written, err
}

// EncodeValue marshals v with msgpack and encodes it under definitionID.
func (e *Encoder) EncodeValue(definitionID uint32, v any) (int, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("packet: marshal definition %d: %w", definitionID, err)
	}
	return e.Encode(definitionID, payload)
}

// Decoder reads length-prefixed packet envelopes from an underlying stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// Next reads one envelope. Returns io.EOF when the stream is exhausted
// cleanly (between packets, not mid-record). A truncated record yields a
// *DecodeError with Kind DecodeErrorPartial.
func (d *Decoder) Next() (Envelope, error) {
	definitionID, err := binary.ReadUvarint(d.r)
	if err != nil {
		if err == io.EOF {
			return Envelope{}, io.EOF
		}
		return Envelope{}, &DecodeError{Kind: DecodeErrorPartial, Msg: "failed to read definition id", Err: err}
	}

	size, err := binary.ReadUvarint(d.r)
	if err != nil {
		return Envelope{}, &DecodeError{Kind: DecodeErrorPartial, Msg: "failed to read payload length", Err: err}
	}
	if size > maxPacketSize {
		return Envelope{}, &DecodeError{Kind: DecodeErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", size, maxPacketSize)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Envelope{}, &DecodeError{Kind: DecodeErrorPartial, Msg: "failed to read payload", Err: err}
	}

	return Envelope{DefinitionID: uint32(definitionID), Payload: payload}, nil
}
