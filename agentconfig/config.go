package agentconfig

import (
	"fmt"
	"time"
)

// Config represents a lumen.yaml configuration file.
// All values are optional and act as defaults the host application can
// override programmatically before calling Init. The recognized option
// surface matches the agent's published configuration table.
type Config struct {
	ProductName            string `yaml:"product_name"`
	ApplicationName        string `yaml:"application_name"`
	ApplicationVersion     string `yaml:"application_version"`
	ApplicationDescription string `yaml:"application_description"`
	Environment            string `yaml:"environment"`
	PromotionLevel         string `yaml:"promotion_level"`

	SessionFile SessionFileConfig `yaml:"session_file"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Listener    ListenerConfig    `yaml:"listener"`
	Server      ServerConfig      `yaml:"server"`
	Packager    PackagerConfig    `yaml:"packager"`

	// Properties are copied verbatim into the session summary.
	Properties map[string]string `yaml:"properties"`
}

// SessionFileConfig controls the local fragment repository and writer.
type SessionFileConfig struct {
	// Folder overrides the repository root. Empty means the platform
	// default chosen by the coordinator.
	Folder string `yaml:"folder"`
	// Enabled defaults to true when absent; false runs the publisher
	// without constructing a repository or fragment writer.
	Enabled *bool `yaml:"enabled"`
	// MaxFileSize is the rotation size threshold in bytes (default 20 MB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// MaxFileDuration is the rotation age threshold (default 24h).
	MaxFileDuration Duration `yaml:"max_file_duration"`
}

// IsEnabled reports whether session files are enabled, defaulting true.
func (s SessionFileConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ApplicationType force-tags the kind of host process a session records.
type ApplicationType string

// Application types.
const (
	AppTypeUnknown ApplicationType = "unknown"
	AppTypeService ApplicationType = "service"
	AppTypeConsole ApplicationType = "console"
	AppTypeWindows ApplicationType = "windows"
	AppTypeAspNet  ApplicationType = "aspnet"
)

// ParseApplicationType validates an application type string. Empty
// parses to AppTypeUnknown rather than an error so the option stays
// optional.
func ParseApplicationType(s string) (ApplicationType, error) {
	switch ApplicationType(s) {
	case "":
		return AppTypeUnknown, nil
	case AppTypeUnknown, AppTypeService, AppTypeConsole, AppTypeWindows, AppTypeAspNet:
		return ApplicationType(s), nil
	default:
		return "", fmt.Errorf("invalid application type %q (must be service, console, windows, aspnet, or unknown)", s)
	}
}

// PublisherConfig holds publisher defaults from the config file.
type PublisherConfig struct {
	EnableAnonymousMode bool   `yaml:"enable_anonymous_mode"`
	ApplicationType     string `yaml:"application_type"`
}

// ListenerConfig turns in-process event sources on or off.
type ListenerConfig struct {
	EnableConsole       bool     `yaml:"enable_console"`
	EnableGCEvents      bool     `yaml:"enable_gc_events"`
	EnableRuntimeEvents bool     `yaml:"enable_runtime_events"`
	PollInterval        Duration `yaml:"poll_interval"`
}

// ServerConfig holds uploader behavior defaults from the config file.
// The uploader itself is an external collaborator; these options only
// select when the coordinator invokes it.
type ServerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	AutoSendSessions  bool   `yaml:"auto_send_sessions"`
	AutoSendOnError   bool   `yaml:"auto_send_on_error"`
	PurgeSentSessions bool   `yaml:"purge_sent_sessions"`
	CustomerName      string `yaml:"customer_name"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	UseSSL            bool   `yaml:"ssl"`
	Path              string `yaml:"path"`
}

// PackagerConfig holds packager child-process selection defaults.
type PackagerConfig struct {
	DestinationEmailAddress string `yaml:"destination_email_address"`
	FromEmailAddress        string `yaml:"from_email_address"`
	AllowEmail              bool   `yaml:"allow_email"`
	AllowServer             bool   `yaml:"allow_server"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects option combinations Init cannot honor. Per the
// error-handling design, a config rejected here leaves the agent
// suppressed with the original error preserved for diagnostics.
func (c *Config) Validate() error {
	if c.ProductName == "" {
		return fmt.Errorf("config: product_name is required")
	}
	if _, err := ParseApplicationType(c.Publisher.ApplicationType); err != nil {
		return fmt.Errorf("config: publisher.application_type: %w", err)
	}
	if c.SessionFile.MaxFileSize < 0 {
		return fmt.Errorf("config: session_file.max_file_size must be >= 0, got %d", c.SessionFile.MaxFileSize)
	}
	if c.Server.Enabled && c.Server.Host == "" {
		return fmt.Errorf("config: server.host is required when server.enabled is set")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}
