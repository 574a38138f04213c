// Package fragment implements the on-disk ".glf" session fragment file
// format: a magic/version preamble, a position-stable header block, and a
// packet stream. The header's mutable region is rewritten in place on
// every flush and rotation, so its fields all use fixed-width encodings.
package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// magic identifies a session fragment file. Readers that see anything
// else refuse the file outright rather than guessing.
var magic = [4]byte{'G', 'L', 'F', '1'}

// CurrentMajorVersion and CurrentMinorVersion are written into every
// fragment this package creates. Readers accept any minor version of the
// same major version and tolerate unknown trailing fields; a differing
// major version is refused.
const (
	CurrentMajorVersion uint16 = 1
	CurrentMinorVersion uint16 = 0
)

// Status is the session status recorded in a fragment header. Transitions
// are monotonic: Running -> Normal or Running -> Crashed, never backwards.
type Status byte

// Status values. Unknown is the zero value only so a corrupt byte decodes
// to something rather than panicking; it is never written deliberately.
const (
	StatusUnknown Status = iota
	StatusRunning
	StatusNormal
	StatusCrashed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusNormal:
		return "Normal"
	case StatusCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is a status a session can end in.
func (s Status) IsTerminal() bool {
	return s == StatusNormal || s == StatusCrashed
}

// staticHeader holds the header fields fixed for the lifetime of a
// fragment: written once at creation, never patched in place. It is
// encoded as a length-prefixed msgpack block so new fields can be added
// without breaking the fixed offsets of MutableHeader that follows it.
type staticHeader struct {
	SessionID    string `msgpack:"session_id"`
	FragmentID   string `msgpack:"fragment_id"`
	FileSequence uint32 `msgpack:"file_sequence"`
	Product      string `msgpack:"product"`
	Application  string `msgpack:"application"`
	AppVersion   string `msgpack:"app_version"`
	AgentVersion string `msgpack:"agent_version"`
	Host         string `msgpack:"host"`
	User         string `msgpack:"user"`
	OS           string `msgpack:"os"`
	Culture      string `msgpack:"culture"`
	StartTimeUnixNano int64 `msgpack:"start_time"`
}

// mutableFieldsSize is the exact on-disk byte width of MutableHeader.
// Every field here has a fixed-width binary encoding (no varints, no
// msgpack) specifically so it can be rewritten in place with os.File.WriteAt
// without ever changing length.
const mutableFieldsSize = 8 + 1 + 4 + 4 + 4 + 4 + 4 + 4

// MutableHeader holds the fields a fragment writer updates on every flush
// and on rotation: end_time, status, and running message counts per
// severity. Field order here IS the wire order; changing it changes the
// file format.
type MutableHeader struct {
	EndTimeUnixNano int64
	Status          Status
	MessageCount    uint32
	CriticalCount   uint32
	ErrorCount      uint32
	WarningCount    uint32
	InfoCount       uint32
	VerboseCount    uint32
}

func (m MutableHeader) encode() []byte {
	buf := make([]byte, mutableFieldsSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.EndTimeUnixNano))
	buf[8] = byte(m.Status)
	binary.LittleEndian.PutUint32(buf[9:13], m.MessageCount)
	binary.LittleEndian.PutUint32(buf[13:17], m.CriticalCount)
	binary.LittleEndian.PutUint32(buf[17:21], m.ErrorCount)
	binary.LittleEndian.PutUint32(buf[21:25], m.WarningCount)
	binary.LittleEndian.PutUint32(buf[25:29], m.InfoCount)
	binary.LittleEndian.PutUint32(buf[29:33], m.VerboseCount)
	return buf
}

func decodeMutableHeader(buf []byte) (MutableHeader, error) {
	if len(buf) != mutableFieldsSize {
		return MutableHeader{}, fmt.Errorf("fragment: mutable header is %d bytes, want %d", len(buf), mutableFieldsSize)
	}
	return MutableHeader{
		EndTimeUnixNano: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Status:          Status(buf[8]),
		MessageCount:    binary.LittleEndian.Uint32(buf[9:13]),
		CriticalCount:   binary.LittleEndian.Uint32(buf[13:17]),
		ErrorCount:      binary.LittleEndian.Uint32(buf[17:21]),
		WarningCount:    binary.LittleEndian.Uint32(buf[21:25]),
		InfoCount:       binary.LittleEndian.Uint32(buf[25:29]),
		VerboseCount:    binary.LittleEndian.Uint32(buf[29:33]),
	}, nil
}

// Header is the full decoded header of a fragment: the immutable static
// block plus the patchable mutable block, and the byte offset at which
// the mutable block begins in the file (needed by patchers).
type Header struct {
	Static         staticHeader
	Mutable        MutableHeader
	mutableOffset  int64
}

// SessionID, FragmentID, etc. expose the static fields read-only.
func (h Header) SessionID() string    { return h.Static.SessionID }
func (h Header) FragmentID() string   { return h.Static.FragmentID }
func (h Header) FileSequence() uint32 { return h.Static.FileSequence }
func (h Header) Product() string      { return h.Static.Product }
func (h Header) Application() string  { return h.Static.Application }
func (h Header) Status() Status       { return h.Mutable.Status }
func (h Header) MutableOffset() int64 { return h.mutableOffset }

// NewHeaderParams bundles the fields needed to create a fresh fragment header.
type NewHeaderParams struct {
	SessionID    string
	FragmentID   string
	FileSequence uint32
	Product      string
	Application  string
	AppVersion   string
	AgentVersion string
	Host         string
	User         string
	OS           string
	Culture      string
	StartTimeUnixNano int64
}

// writeHeader writes magic + version + length-prefixed static block +
// fixed-size mutable block to w, returning the total bytes written and the
// byte offset of the mutable block (relative to the start of this write),
// for the caller to remember for later in-place patches.
func writeHeader(w io.Writer, p NewHeaderParams) (n int64, mutableOffset int64, err error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	var verBuf [4]byte
	binary.LittleEndian.PutUint16(verBuf[0:2], CurrentMajorVersion)
	binary.LittleEndian.PutUint16(verBuf[2:4], CurrentMinorVersion)
	buf.Write(verBuf[:])

	static := staticHeader{
		SessionID:    p.SessionID,
		FragmentID:   p.FragmentID,
		FileSequence: p.FileSequence,
		Product:      p.Product,
		Application:  p.Application,
		AppVersion:   p.AppVersion,
		AgentVersion: p.AgentVersion,
		Host:         p.Host,
		User:         p.User,
		OS:           p.OS,
		Culture:      p.Culture,
		StartTimeUnixNano: p.StartTimeUnixNano,
	}
	staticBytes, err := msgpack.Marshal(static)
	if err != nil {
		return 0, 0, fmt.Errorf("fragment: marshal static header: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(staticBytes)))
	buf.Write(lenBuf[:])
	buf.Write(staticBytes)

	mutableOffset = int64(buf.Len())

	initial := MutableHeader{
		EndTimeUnixNano: p.StartTimeUnixNano,
		Status:          StatusRunning,
	}
	buf.Write(initial.encode())

	written, err := w.Write(buf.Bytes())
	return int64(written), mutableOffset, err
}

// readHeader parses magic + version + static block + mutable block from r,
// returning the decoded Header. offset is the file position r started at,
// used to compute Header.mutableOffset as an absolute file offset.
func readHeader(r io.Reader, offset int64) (Header, int64, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: read magic: %w", err)
	}
	if gotMagic != magic {
		return Header{}, 0, fmt.Errorf("fragment: bad magic %q, not a session fragment", gotMagic)
	}

	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: read version: %w", err)
	}
	major := binary.LittleEndian.Uint16(verBuf[0:2])
	if major != CurrentMajorVersion {
		return Header{}, 0, fmt.Errorf("fragment: unsupported major version %d", major)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: read static header length: %w", err)
	}
	staticLen := binary.LittleEndian.Uint32(lenBuf[:])

	staticBytes := make([]byte, staticLen)
	if _, err := io.ReadFull(r, staticBytes); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: read static header: %w", err)
	}
	var static staticHeader
	if err := msgpack.Unmarshal(staticBytes, &static); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: decode static header: %w", err)
	}

	mutableOffset := offset + 4 + 4 + 4 + int64(staticLen)

	mutableBytes := make([]byte, mutableFieldsSize)
	if _, err := io.ReadFull(r, mutableBytes); err != nil {
		return Header{}, 0, fmt.Errorf("fragment: read mutable header: %w", err)
	}
	mutable, err := decodeMutableHeader(mutableBytes)
	if err != nil {
		return Header{}, 0, err
	}

	bodyOffset := mutableOffset + mutableFieldsSize
	return Header{Static: static, Mutable: mutable, mutableOffset: mutableOffset}, bodyOffset, nil
}
