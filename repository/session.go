package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/justapithecus/lumen/fragment"
	"github.com/justapithecus/lumen/iox"
	"github.com/justapithecus/lumen/packet"
)

// Session is one composed session assembled from all of its fragments in
// file_sequence order: the aggregated header, every decoded packet, and
// the corruption accounting from the read. A decode failure inside one
// fragment abandons the rest of that fragment's stream but never the
// session read as a whole.
type Session struct {
	SessionID string
	Header    fragment.Header
	Fragments []FragmentMeta
	Packets   []packet.Decoded

	// PacketsLost counts packets abandoned to decode failures; it also
	// counts the unknown remainder of a fragment whose stream aborted,
	// as best-effort (the abandoned packets can't be counted exactly,
	// so each aborted fragment adds one).
	PacketsLost    int
	HasCorruptData bool
}

// FragmentFilter selects which of a session's fragments a read includes.
// A nil filter includes every fragment.
type FragmentFilter func(FragmentMeta) bool

// ReadSession composes sessionID from all fragments matching filter,
// decoding every packet body. Unknown packet-definition ids are skipped
// with a warning; a malformed packet aborts only the fragment it sits
// in, per the codec's corruption-isolation contract.
func (r *Repository) ReadSession(sessionID string, filter FragmentFilter) (*Session, error) {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	s := &Session{SessionID: sessionID}
	registry := packet.NewRegistry()
	headerSet := false

	for _, fm := range entry.Fragments {
		if filter != nil && !filter(fm) {
			continue
		}
		s.Fragments = append(s.Fragments, fm)

		header, body, err := fragment.OpenReader(fm.Path)
		if err != nil {
			r.logger.Warnw("repository: skipping unreadable fragment", "path", fm.Path, "error", err)
			s.HasCorruptData = true
			s.PacketsLost++
			continue
		}
		if !headerSet {
			s.Header = header
			headerSet = true
		}
		// The latest fragment's mutable block is the session's truth.
		s.Header.Mutable = header.Mutable

		dec := packet.NewDecoder(body)
		for {
			env, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.logger.Warnw("repository: aborting corrupt fragment stream", "path", fm.Path, "error", err)
				s.HasCorruptData = true
				s.PacketsLost++
				break
			}
			decoded, known, err := registry.Unmarshal(env)
			if !known {
				r.logger.Warnw("repository: skipping unknown packet definition", "path", fm.Path, "definition_id", env.DefinitionID)
				continue
			}
			if err != nil {
				r.logger.Warnw("repository: aborting corrupt fragment stream", "path", fm.Path, "error", err)
				s.HasCorruptData = true
				s.PacketsLost++
				break
			}
			s.Packets = append(s.Packets, decoded)
		}
		iox.DiscardClose(body)
	}

	if len(s.Fragments) == 0 {
		return nil, fmt.Errorf("repository: session %s has no fragments matching filter: %w", sessionID, ErrNotFound)
	}
	return s, nil
}

// GetSessionStream serializes sessionID's composed fragment stream into
// a fresh file under temp/ and returns a seekable read handle to it. The
// caller owns the handle; the backing file is unlinked once the handle
// is closed (the returned TempStream does that on Close).
//
// When the session has exactly one fragment, its raw bytes are copied
// directly without decoding a single packet (fast path). Multi-fragment
// sessions are concatenated at the envelope level: headers of trailing
// fragments are dropped, their packet streams appended verbatim after
// the first fragment's, so composition still never unmarshals a packet
// body.
func (r *Repository) GetSessionStream(sessionID string) (*TempStream, error) {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	if len(entry.Fragments) == 0 {
		return nil, ErrNotFound
	}

	tmpPath := filepath.Join(r.layout.TempDir(), fmt.Sprintf("stream-%s.glf", uuid.NewString()))
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("repository: create temp stream %s: %w", tmpPath, err)
	}

	if err := r.composeStream(out, entry.Fragments); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("repository: rewind temp stream: %w", err)
	}
	return &TempStream{File: out, path: tmpPath}, nil
}

func (r *Repository) composeStream(out *os.File, fragments []FragmentMeta) error {
	if len(fragments) == 1 {
		src, err := os.Open(fragments[0].Path)
		if err != nil {
			return fmt.Errorf("repository: open %s: %w", fragments[0].Path, err)
		}
		defer src.Close()
		if _, err := io.Copy(out, src); err != nil {
			return fmt.Errorf("repository: copy %s: %w", fragments[0].Path, err)
		}
		return nil
	}

	for i, fm := range fragments {
		if i == 0 {
			src, err := os.Open(fm.Path)
			if err != nil {
				return fmt.Errorf("repository: open %s: %w", fm.Path, err)
			}
			_, err = io.Copy(out, src)
			src.Close()
			if err != nil {
				return fmt.Errorf("repository: copy %s: %w", fm.Path, err)
			}
			continue
		}

		_, body, err := fragment.OpenReader(fm.Path)
		if err != nil {
			return fmt.Errorf("repository: open body of %s: %w", fm.Path, err)
		}
		_, err = io.Copy(out, body)
		body.Close()
		if err != nil {
			return fmt.Errorf("repository: copy body of %s: %w", fm.Path, err)
		}
	}
	return nil
}

// TempStream is a seekable read handle over a composed session stream
// backed by a scratch file in temp/. Close removes the backing file.
type TempStream struct {
	*os.File
	path string
}

// Close closes the handle and deletes the backing scratch file.
func (t *TempStream) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// GetSessionFileStream returns a read-only shared handle to one fragment
// of sessionID, identified by fragmentID.
func (r *Repository) GetSessionFileStream(sessionID, fragmentID string) (*os.File, error) {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	for _, fm := range entry.Fragments {
		if fm.FragmentID == fragmentID {
			f, err := os.Open(fm.Path)
			if err != nil {
				return nil, fmt.Errorf("repository: open %s: %w", fm.Path, classifyScanError(err))
			}
			return f, nil
		}
	}
	return nil, ErrNotFound
}

// RemoveFragment deletes a single fragment of sessionID from disk and
// schedules an index rebuild, leaving the session's other fragments in
// place.
func (r *Repository) RemoveFragment(sessionID, fragmentID string) error {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return nil
	}
	for _, fm := range entry.Fragments {
		if fm.FragmentID != fragmentID {
			continue
		}
		if err := os.Remove(fm.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("repository: remove %s: %w", fm.Path, err)
		}
		r.RefreshAsync()
		return nil
	}
	return nil
}

// RemoveMany deletes every listed session.
func (r *Repository) RemoveMany(sessionIDs []string) error {
	for _, id := range sessionIDs {
		if err := r.Remove(id); err != nil {
			return err
		}
	}
	return nil
}

// SessionDataExists reports whether sessionID has at least one fragment
// file still present and non-empty on disk, a stronger check than
// SessionExists (which only consults the index). A fragment holding a
// header and no packets counts as present.
func (r *Repository) SessionDataExists(sessionID string) bool {
	entry, ok := r.index.Get(sessionID)
	if !ok {
		return false
	}
	for _, fm := range entry.Fragments {
		info, err := os.Stat(fm.Path)
		if err == nil && info.Size() > 0 {
			return true
		}
	}
	return false
}
