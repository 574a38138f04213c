package fragment

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/justapithecus/lumen/packet"
)

// File is one open ".glf" fragment: a header plus an append-only packet
// stream. A File is safe for concurrent AppendPacket/Flush calls from a
// single writer goroutine; it is not intended to be shared across
// goroutines without external synchronization (the fragment writer owns
// exactly one File at a time).
type File struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	header  Header
	size    int64
	registry *packet.Registry
	tracker  *packet.DefinitionTracker
	enc      *packet.Encoder
}

// Create makes a new fragment file at path, refusing to overwrite an
// existing one; callers that need collision handling detect the
// existing file first.
func Create(path string, params NewHeaderParams, reg *packet.Registry) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fragment: create %s: %w", path, err)
	}

	n, mutableOffset, err := writeHeader(f, params)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	header := Header{
		Static: staticHeader{
			SessionID:    params.SessionID,
			FragmentID:   params.FragmentID,
			FileSequence: params.FileSequence,
			Product:      params.Product,
			Application:  params.Application,
			AppVersion:   params.AppVersion,
			AgentVersion: params.AgentVersion,
			Host:         params.Host,
			User:         params.User,
			OS:           params.OS,
			Culture:      params.Culture,
			StartTimeUnixNano: params.StartTimeUnixNano,
		},
		Mutable: MutableHeader{
			EndTimeUnixNano: params.StartTimeUnixNano,
			Status:          StatusRunning,
		},
		mutableOffset: mutableOffset,
	}

	return &File{
		f:        f,
		path:     path,
		header:   header,
		size:     n,
		registry: reg,
		tracker:  packet.NewDefinitionTracker(),
		enc:      packet.NewEncoder(f),
	}, nil
}

// Open opens an existing fragment file read-write, parses its header, and
// positions the file for further appends at the current end of the packet
// stream.
func Open(path string, reg *packet.Registry) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fragment: open %s: %w", path, err)
	}

	header, bodyOffset, err := readHeader(f, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fragment: seek end of %s: %w", path, err)
	}
	if end < bodyOffset {
		end = bodyOffset
	}

	return &File{
		f:        f,
		path:     path,
		header:   header,
		size:     end,
		registry: reg,
		tracker:  packet.NewDefinitionTracker(),
		enc:      packet.NewEncoder(f),
	}, nil
}

// Path returns the file's path on disk.
func (ff *File) Path() string { return ff.path }

// Header returns the most recently known header. It reflects the last
// PatchMutable call, not necessarily the on-disk bytes if Flush hasn't run.
func (ff *File) Header() Header {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.header
}

// Size reports the current fragment size in bytes, including the header.
func (ff *File) Size() int64 {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.size
}

// AppendPacket writes one packet of the given kind, emitting that kind's
// self-describing PacketDefinitionPacket first if this fragment hasn't
// used it yet.
func (ff *File) AppendPacket(kind packet.Kind, v any) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.tracker.MarkSeen(kind) {
		defPkt, ok := ff.registry.DefinitionPacketFor(kind)
		if ok {
			n, err := ff.registry.EncodeDefinition(ff.enc, packet.KindPacketDefinition, defPkt)
			if err != nil {
				return fmt.Errorf("fragment: write definition for %s: %w", kind, err)
			}
			ff.size += int64(n)
		}
	}

	n, err := ff.registry.EncodeDefinition(ff.enc, kind, v)
	if err != nil {
		return fmt.Errorf("fragment: write %s packet: %w", kind, err)
	}
	ff.size += int64(n)
	return nil
}

// PatchMutable rewrites the header's mutable region in place at its known
// offset, without touching the static header or the packet stream.
func (ff *File) PatchMutable(m MutableHeader) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, err := ff.f.WriteAt(m.encode(), ff.header.mutableOffset); err != nil {
		return fmt.Errorf("fragment: patch header at offset %d: %w", ff.header.mutableOffset, err)
	}
	ff.header.Mutable = m
	return nil
}

// Flush fsyncs the underlying file so previously written packets and
// header patches survive a crash.
func (ff *File) Flush() error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.f.Sync()
}

// Close flushes and closes the underlying file handle.
func (ff *File) Close() error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err := ff.f.Sync(); err != nil {
		ff.f.Close()
		return fmt.Errorf("fragment: sync on close %s: %w", ff.path, err)
	}
	return ff.f.Close()
}

// OpenReader opens path read-only and returns its Header plus a reader
// positioned at the start of the packet stream, for callers that want to
// decode the body (readers that only need the header should use
// ReadHeaderOnly instead, since the repository's index refresh never
// touches packet bodies).
func OpenReader(path string) (Header, io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("fragment: open %s: %w", path, err)
	}

	header, bodyOffset, err := readHeader(f, 0)
	if err != nil {
		f.Close()
		return Header{}, nil, err
	}
	if _, err := f.Seek(bodyOffset, io.SeekStart); err != nil {
		f.Close()
		return Header{}, nil, fmt.Errorf("fragment: seek body of %s: %w", path, err)
	}
	return header, f, nil
}

// ReadHeaderOnly parses just the header of a fragment file without
// opening it for writing or reading the packet stream. The repository
// uses this during index refresh, which never reads packet bodies.
func ReadHeaderOnly(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("fragment: open %s: %w", path, err)
	}
	defer f.Close()

	header, _, err := readHeader(f, 0)
	return header, err
}

// PatchStatus opens path read-write just long enough to rewrite the
// status byte of its mutable header region, for crash recovery. It never
// moves status backwards: Normal and Crashed are left alone.
func PatchStatus(path string, newStatus Status) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("fragment: open %s for status patch: %w", path, err)
	}
	defer f.Close()

	header, _, err := readHeader(f, 0)
	if err != nil {
		return err
	}
	if header.Mutable.Status.IsTerminal() {
		return nil
	}

	header.Mutable.Status = newStatus
	if _, err := f.WriteAt(header.Mutable.encode(), header.mutableOffset); err != nil {
		return fmt.Errorf("fragment: patch status at offset %d: %w", header.mutableOffset, err)
	}
	return nil
}
