package packet

import "fmt"

// Kind identifies a packet's definition id on disk. Grounded on
// types.EventType's string-constant enumeration, generalized to a
// registry-backed uint32 id (rather than a closed Go iota set) because
// readers must tolerate ids they don't recognize — a closed switch can't
// express "unknown, skip".
type Kind uint32

// Built-in packet kinds. Values are stable across versions; do not reorder.
const (
	KindPacketDefinition Kind = iota + 1
	KindThreadInfo
	KindLogMessage
	KindMetricDefinition
	KindMetricSample
	KindSessionSummary
	KindSessionFragmentInfo
	KindSessionClose
	KindCommand
)

// FieldEncoding names the wire representation of one field, used only for
// the self-describing PacketDefinition packet written ahead of the first
// packet of a new kind in a fragment. It is informational:
// decoding always goes through msgpack, which is itself self-describing
// per field; FieldEncoding documents the *logical* type for readers that
// want to introspect a fragment without a compiled Go type for it.
type FieldEncoding string

// Field encodings referenced by built-in definitions.
const (
	FieldString  FieldEncoding = "string"
	FieldUint64  FieldEncoding = "uint64"
	FieldInt64   FieldEncoding = "int64"
	FieldFloat64 FieldEncoding = "float64"
	FieldBool    FieldEncoding = "bool"
	FieldBytes   FieldEncoding = "bytes"
	FieldMap     FieldEncoding = "map"
)

// Field describes one field of a packet definition in on-disk order.
type Field struct {
	Name     string
	Encoding FieldEncoding
}

// Definition describes one packet type-name/version pair: its stable Kind
// id and its field layout for self-description. Version is bumped whenever
// fields are appended (readers of an older version skip the unrecognized
// tail using the length prefix; removing or reordering a field requires a
// new type name, not just a version bump).
type Definition struct {
	Kind       Kind
	TypeName   string
	Version    uint16
	Fields     []Field
	newPayload func() any
}

// Registry maps packet Kind ids to their Definition and supports decoding
// unknown ids without error. One Registry is shared by all fragments in a
// session; fragments reference kinds by id, not by re-deriving them.
type Registry struct {
	byKind map[Kind]Definition
}

// NewRegistry returns a Registry pre-populated with every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[Kind]Definition, 16)}
	for _, d := range builtinDefinitions() {
		r.byKind[d.Kind] = d
	}
	return r
}

// Lookup returns the Definition for a Kind and whether it was found.
// A missing Kind is not an error: callers skip the packet with a logged
// warning.
func (r *Registry) Lookup(k Kind) (Definition, bool) {
	d, ok := r.byKind[k]
	return d, ok
}

// New allocates a zero-value payload for a Kind, suitable as a msgpack
// unmarshal target.
func (d Definition) New() any {
	if d.newPayload == nil {
		return &map[string]any{}
	}
	return d.newPayload()
}

func newDef(k Kind, name string, version uint16, newPayload func() any, fields ...Field) Definition {
	return Definition{Kind: k, TypeName: name, Version: version, Fields: fields, newPayload: newPayload}
}

func builtinDefinitions() []Definition {
	return []Definition{
		newDef(KindPacketDefinition, "packet_definition", 1, func() any { return &PacketDefinitionPacket{} },
			Field{"type_name", FieldString}, Field{"version", FieldUint64}, Field{"fields", FieldMap}),
		newDef(KindThreadInfo, "thread_info", 1, func() any { return &ThreadInfo{} },
			Field{"thread_index", FieldUint64}, Field{"thread_name", FieldString}),
		newDef(KindLogMessage, "log_message", 1, func() any { return &LogMessage{} },
			Field{"severity", FieldUint64}, Field{"log_system", FieldString}, Field{"category", FieldString},
			Field{"caption", FieldString}, Field{"description", FieldString}, Field{"details_xml", FieldString},
			Field{"exception", FieldString}, Field{"source_class", FieldString}, Field{"source_method", FieldString},
			Field{"source_file", FieldString}, Field{"source_line", FieldInt64}, Field{"user_name", FieldString},
			Field{"user_principal", FieldString}, Field{"thread_index", FieldUint64}, Field{"sequence", FieldUint64},
			Field{"timestamp", FieldInt64}),
		newDef(KindMetricDefinition, "metric_definition", 1, func() any { return &MetricDefinitionPacket{} },
			Field{"def_id", FieldString}, Field{"metric_type_name", FieldString}, Field{"category", FieldString},
			Field{"counter", FieldString}, Field{"sample_type", FieldString}, Field{"interval", FieldString},
			Field{"unit_caption", FieldString}, Field{"bound_type_name", FieldString}),
		newDef(KindMetricSample, "metric_sample", 1, func() any { return &MetricSample{} },
			Field{"metric_id", FieldString}, Field{"instance_name", FieldString}, Field{"raw_value", FieldFloat64}, Field{"base_value", FieldFloat64},
			Field{"has_base_value", FieldBool}, Field{"raw_timestamp", FieldInt64}, Field{"sample_timestamp", FieldInt64},
			Field{"sampling_kind", FieldString}),
		newDef(KindSessionSummary, "session_summary", 1, func() any { return &SessionSummaryPacket{} },
			Field{"session_id", FieldString}, Field{"product", FieldString}, Field{"application", FieldString},
			Field{"app_version", FieldString}, Field{"agent_version", FieldString}, Field{"host", FieldString},
			Field{"user", FieldString}, Field{"os", FieldString}, Field{"culture", FieldString},
			Field{"start_time", FieldInt64}, Field{"end_time", FieldInt64}, Field{"status", FieldString},
			Field{"critical_count", FieldUint64}, Field{"error_count", FieldUint64}, Field{"warning_count", FieldUint64},
			Field{"info_count", FieldUint64}, Field{"verbose_count", FieldUint64},
			Field{"properties", FieldMap}),
		newDef(KindSessionFragmentInfo, "session_fragment_info", 1, func() any { return &SessionFragmentInfo{} },
			Field{"fragment_id", FieldString}, Field{"session_id", FieldString}, Field{"file_sequence", FieldUint64},
			Field{"start_time", FieldInt64}, Field{"end_time", FieldInt64}, Field{"is_new", FieldBool}),
		newDef(KindSessionClose, "session_close", 1, func() any { return &SessionClose{} },
			Field{"status", FieldString}, Field{"reason", FieldString}),
		newDef(KindCommand, "command", 1, func() any { return &Command{} },
			Field{"command_type", FieldString}, Field{"status", FieldString}, Field{"reason", FieldString}),
	}
}

func (k Kind) String() string {
	switch k {
	case KindPacketDefinition:
		return "packet_definition"
	case KindThreadInfo:
		return "thread_info"
	case KindLogMessage:
		return "log_message"
	case KindMetricDefinition:
		return "metric_definition"
	case KindMetricSample:
		return "metric_sample"
	case KindSessionSummary:
		return "session_summary"
	case KindSessionFragmentInfo:
		return "session_fragment_info"
	case KindSessionClose:
		return "session_close"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}
