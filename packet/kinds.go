package packet

// Severity is the five-level log severity. Lower values are more
// severe, so error-like values sort first.
type Severity int

// Severity levels, most to least severe.
const (
	SeverityCritical Severity = iota
	SeverityError
	SeverityWarning
	SeverityInformation
	SeverityVerbose
)

// PacketDefinitionPacket self-describes a packet kind's field layout. One
// is written to a fragment ahead of the first packet of a kind that
// fragment uses, so a reader with no compiled knowledge of a definition id
// can still report its shape instead of only "unknown, skipped".
type PacketDefinitionPacket struct {
	TypeName string            `msgpack:"type_name"`
	Version  uint16            `msgpack:"version"`
	Fields   map[string]string `msgpack:"fields"`
}

// ThreadInfo is emitted the first time a given thread publishes a packet
// in a session, binding a compact thread_index to a human-readable name.
type ThreadInfo struct {
	ThreadIndex uint32 `msgpack:"thread_index"`
	ThreadName  string `msgpack:"thread_name"`
}

// LogMessage is one structured log entry, carrying the message body
// plus optional source-location and user-attribution fields.
type LogMessage struct {
	Severity      Severity `msgpack:"severity"`
	LogSystem     string   `msgpack:"log_system"`
	Category      string   `msgpack:"category"`
	Caption       string   `msgpack:"caption"`
	Description   string   `msgpack:"description"`
	DetailsXML    string   `msgpack:"details_xml"`
	Exception     string   `msgpack:"exception"`
	SourceClass   string   `msgpack:"source_class"`
	SourceMethod  string   `msgpack:"source_method"`
	SourceFile    string   `msgpack:"source_file"`
	SourceLine    int64    `msgpack:"source_line"`
	UserName      string   `msgpack:"user_name"`
	UserPrincipal string   `msgpack:"user_principal"`
	ThreadIndex   uint32   `msgpack:"thread_index"`
	Sequence      uint64   `msgpack:"sequence"`
	TimestampUnixNano int64 `msgpack:"timestamp"`
}

// SampleType distinguishes sampled metrics (polled on an interval) from
// event metrics (recorded per occurrence).
type SampleType string

// Sample types.
const (
	SampleTypeSampled SampleType = "sampled"
	SampleTypeEvent    SampleType = "event"
)

// MetricDefinitionPacket declares a metric before any sample referencing
// it is written, field-for-field matching metric.Definition's exported
// shape (see metric/definition.go) so a fragment is self-describing even
// without the in-memory metric engine that produced it.
type MetricDefinitionPacket struct {
	DefinitionID  string     `msgpack:"def_id"`
	MetricTypeName string    `msgpack:"metric_type_name"`
	Category      string     `msgpack:"category"`
	Counter       string     `msgpack:"counter"`
	SampleType    SampleType `msgpack:"sample_type"`
	Interval      string     `msgpack:"interval"`
	UnitCaption   string     `msgpack:"unit_caption"`
	BoundTypeName string     `msgpack:"bound_type_name"`
}

// MetricSample is one raw sample recorded against a MetricDefinitionPacket.
// Event metrics leave HasBaseValue false and RawValue holds the
// per-occurrence value directly; fraction-kind sampled metrics carry a
// base value alongside.
type MetricSample struct {
	MetricID        string  `msgpack:"metric_id"`
	InstanceName    string  `msgpack:"instance_name"`
	RawValue        float64 `msgpack:"raw_value"`
	BaseValue       float64 `msgpack:"base_value"`
	HasBaseValue    bool    `msgpack:"has_base_value"`
	RawTimestampUnixNano    int64 `msgpack:"raw_timestamp"`
	SampleTimestampUnixNano int64 `msgpack:"sample_timestamp"`
}

// SessionSummaryPacket is written once, at the head of the first fragment
// of a session, and is the block session.Summary / repository indexing
// reads back without needing every subsequent packet.
type SessionSummaryPacket struct {
	SessionID    string            `msgpack:"session_id"`
	Product      string            `msgpack:"product"`
	Application  string            `msgpack:"application"`
	AppVersion   string            `msgpack:"app_version"`
	AgentVersion string            `msgpack:"agent_version"`
	Host         string            `msgpack:"host"`
	User         string            `msgpack:"user"`
	OS           string            `msgpack:"os"`
	Culture      string            `msgpack:"culture"`
	StartTimeUnixNano int64        `msgpack:"start_time"`
	EndTimeUnixNano   int64        `msgpack:"end_time"`
	Status       string            `msgpack:"status"`
	CriticalCount uint32           `msgpack:"critical_count"`
	ErrorCount    uint32           `msgpack:"error_count"`
	WarningCount  uint32           `msgpack:"warning_count"`
	InfoCount     uint32           `msgpack:"info_count"`
	VerboseCount  uint32           `msgpack:"verbose_count"`
	Properties   map[string]string `msgpack:"properties"`
}

// SessionFragmentInfo is the first packet in every fragment file, binding
// it back to its session and position in the fragment sequence.
type SessionFragmentInfo struct {
	FragmentID   string `msgpack:"fragment_id"`
	SessionID    string `msgpack:"session_id"`
	FileSequence uint32 `msgpack:"file_sequence"`
	StartTimeUnixNano int64 `msgpack:"start_time"`
	EndTimeUnixNano   int64 `msgpack:"end_time"`
	IsNew        bool   `msgpack:"is_new"`
}

// SessionClose is the terminal packet of a session's last fragment,
// written by the fragment writer on an Exit command (unless one was
// already published) before the writer goroutine exits.
type SessionClose struct {
	Status string `msgpack:"status"`
	Reason string `msgpack:"reason"`
}

// CommandType enumerates the in-band writer commands a publisher can
// queue alongside ordinary data packets.
type CommandType string

// Command types.
const (
	CommandCloseFile CommandType = "close_file"
	CommandFlush     CommandType = "flush"
	CommandExit      CommandType = "exit"
)

// Command is an instruction to the fragment writer rather than data to
// persist; CloseFile/Flush/Exit all travel through the same ordered
// publish stream so they interleave correctly with the packets around them.
// Status and Reason are only meaningful on CommandExit, carrying the final
// session status (Normal/Crashed) and the caller-supplied close reason.
type Command struct {
	CommandType CommandType `msgpack:"command_type"`
	Status      string      `msgpack:"status"`
	Reason      string      `msgpack:"reason"`
}
