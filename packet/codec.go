package packet

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Decoded pairs a resolved Definition with its unmarshaled payload value.
// Value is the concrete pointer type the Definition's constructor returns
// (e.g. *LogMessage), ready for a type switch by the caller.
type Decoded struct {
	Definition Definition
	Value      any
}

// Unmarshal resolves env against the registry and decodes its payload into
// the definition's concrete type. A Kind the registry doesn't recognize
// returns ok=false and a nil error: the caller logs and skips rather than
// treating it as a decode failure.
func (r *Registry) Unmarshal(env Envelope) (Decoded, bool, error) {
	def, ok := r.Lookup(Kind(env.DefinitionID))
	if !ok {
		return Decoded{}, false, nil
	}

	value := def.New()
	if err := msgpack.Unmarshal(env.Payload, value); err != nil {
		return Decoded{}, true, &DecodeError{
			Kind: DecodeErrorDecode,
			Msg:  fmt.Sprintf("decode %s v%d", def.TypeName, def.Version),
			Err:  err,
		}
	}
	return Decoded{Definition: def, Value: value}, true, nil
}

// EncodeDefinition writes v under kind's registered definition id, or
// returns an error if kind is not registered. DefinitionTracker tracks which
// kinds a given fragment has already self-described so callers can emit a
// PacketDefinitionPacket exactly once per fragment per kind.
func (r *Registry) EncodeDefinition(enc *Encoder, kind Kind, v any) (int, error) {
	def, ok := r.Lookup(kind)
	if !ok {
		return 0, fmt.Errorf("packet: kind %s is not registered", kind)
	}
	return enc.EncodeValue(uint32(def.Kind), v)
}

// DefinitionPacketFor builds the self-describing PacketDefinitionPacket
// for a registered kind, for writers to emit ahead of first use in a
// fragment.
func (r *Registry) DefinitionPacketFor(kind Kind) (PacketDefinitionPacket, bool) {
	def, ok := r.Lookup(kind)
	if !ok {
		return PacketDefinitionPacket{}, false
	}
	fields := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		fields[f.Name] = string(f.Encoding)
	}
	return PacketDefinitionPacket{TypeName: def.TypeName, Version: def.Version, Fields: fields}, true
}

// DefinitionTracker records which kinds have already had their
// PacketDefinitionPacket written to the current fragment, so a writer
// emits each definition at most once per fragment.
type DefinitionTracker struct {
	seen map[Kind]bool
}

// NewDefinitionTracker returns an empty tracker. Call Reset when a
// fragment rotates so the new fragment re-declares every definition it uses.
func NewDefinitionTracker() *DefinitionTracker {
	return &DefinitionTracker{seen: make(map[Kind]bool, 8)}
}

// MarkSeen records that kind's definition has been written, returning true
// if this is the first time (the caller should emit the definition packet).
func (t *DefinitionTracker) MarkSeen(kind Kind) (firstUse bool) {
	if t.seen[kind] {
		return false
	}
	t.seen[kind] = true
	return true
}

// Reset clears all seen kinds, for use at the start of a new fragment.
func (t *DefinitionTracker) Reset() {
	t.seen = make(map[Kind]bool, 8)
}
