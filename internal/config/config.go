package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreBackend selects the session registry persistence implementation.
type StoreBackend string

const (
	// StoreMemory keeps all sessions in process memory only.
	StoreMemory StoreBackend = "memory"
	// StoreFile persists sessions to a JSON file for recovery across restarts.
	StoreFile StoreBackend = "file"
	// StorePostgres persists sessions to a PostgreSQL database.
	StorePostgres StoreBackend = "postgres"
)

// Contact configures one emergency contact for the static directory used
// when no external contact service is wired.
type Contact struct {
	// ID identifies the contact.
	ID string `yaml:"id"`
	// DisplayName is the human-readable contact name.
	DisplayName string `yaml:"display_name"`
	// PhoneNumber is the contact's phone number in E.164 form.
	PhoneNumber string `yaml:"phone_number"`
	// Relationship describes how the contact relates to the user.
	Relationship string `yaml:"relationship"`
	// Verified indicates the contact has confirmed they accept alerts.
	Verified bool `yaml:"verified"`
}

// Config holds the settings shared by the guardian binaries.
type Config struct {
	// ListenAddress is the HTTP listen address of the engine API.
	ListenAddress string `yaml:"listen_addr"`
	// StoreBackend selects where alert sessions are persisted.
	StoreBackend StoreBackend `yaml:"store_backend"`
	// SessionFile is the path to the JSON file storing sessions when the file backend is used.
	SessionFile string `yaml:"session_file"`
	// DatabaseURL is the PostgreSQL connection string when the postgres backend is used.
	DatabaseURL string `yaml:"database_url"`
	// KafkaBrokers lists the brokers for the audit topic. Empty means log-only auditing.
	KafkaBrokers []string `yaml:"kafka_brokers"`
	// AuditTopic is the kafka topic receiving audit records.
	AuditTopic string `yaml:"audit_topic"`
	// ButtonPressWindow is the window within which three presses count as a trigger.
	ButtonPressWindow time.Duration `yaml:"button_press_window"`
	// MinVoiceConfidence is the floor below which voice triggers are rejected.
	MinVoiceConfidence float64 `yaml:"min_voice_confidence"`
	// ButtonGracePeriod is the cancel window after a button trigger.
	ButtonGracePeriod time.Duration `yaml:"button_grace_period"`
	// VoiceGracePeriod is the cancel window after a voice trigger.
	// Voice phrases are high-intent, so zero (immediate confirm) is the default.
	VoiceGracePeriod time.Duration `yaml:"voice_grace_period"`
	// LocationInterval is the sampling interval of the location feed.
	LocationInterval time.Duration `yaml:"location_interval"`
	// RetryBackoffBase is the first retry delay for contact notification.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	// MaxAttemptsPerChannel caps delivery attempts per contact channel.
	MaxAttemptsPerChannel int `yaml:"max_attempts_per_channel"`
	// FallbackCeiling is how long after confirmation the engine waits for a
	// first successful contact before flagging fallback dispatch.
	FallbackCeiling time.Duration `yaml:"fallback_ceiling"`
	// DispatchURL is the endpoint of the external dispatch-call service.
	DispatchURL string `yaml:"dispatch_url"`
	// DispatchOnConfirm invokes the dispatch-call service at confirmation
	// instead of waiting for the fallback flag.
	DispatchOnConfirm bool `yaml:"dispatch_on_confirm"`
	// Contacts is the emergency contact list served to every user when no
	// external contact directory is wired.
	Contacts []Contact `yaml:"contacts"`
}

const (
	// DefaultConfigFilename is the default filename for engine settings.
	DefaultConfigFilename = "guardian-settings.yaml"

	// DefaultSessionFilename is the default filename for the file-backed session store.
	DefaultSessionFilename = "guardian-sessions.json"

	// DefaultListenAddress is the default HTTP listen address.
	DefaultListenAddress = ":8080"

	// DefaultAuditTopic is the default kafka topic for audit records.
	DefaultAuditTopic = "guardian.audit"

	// DefaultButtonPressWindow is the default window for the triple-press pattern.
	DefaultButtonPressWindow = 1500 * time.Millisecond

	// DefaultMinVoiceConfidence is the default confidence floor for voice triggers.
	DefaultMinVoiceConfidence = 0.6

	// DefaultButtonGracePeriod is the default cancel window after a button trigger.
	DefaultButtonGracePeriod = 5 * time.Second

	// DefaultLocationInterval is the default location sampling interval.
	DefaultLocationInterval = 10 * time.Second

	// DefaultRetryBackoffBase is the default first retry delay.
	DefaultRetryBackoffBase = 5 * time.Second

	// DefaultMaxAttemptsPerChannel is the default per-channel attempt cap.
	DefaultMaxAttemptsPerChannel = 5

	// DefaultFallbackCeiling is the default wait for a first reached contact.
	DefaultFallbackCeiling = 60 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownStoreBackend is returned when the store backend value is not recognized.
	errUnknownStoreBackend = errors.New("unknown store backend")
	// errDatabaseURLRequired is returned when the postgres backend is selected without a URL.
	errDatabaseURLRequired = errors.New("database URL must be provided for the postgres backend")
	// errConfidenceOutOfRange is returned when the confidence floor is not within [0, 1].
	errConfidenceOutOfRange = errors.New("voice confidence floor must be within [0, 1]")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
//
//nolint:cyclop // Sequential defaulting of independent fields; splitting would reduce clarity.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errDatabaseURLRequired
		}
	case "":
		cfg.StoreBackend = StoreMemory
	default:
		return fmt.Errorf("%w: %q", errUnknownStoreBackend, cfg.StoreBackend)
	}

	if cfg.SessionFile == "" {
		cfg.SessionFile = DefaultSessionFilename
	}

	if cfg.AuditTopic == "" {
		cfg.AuditTopic = DefaultAuditTopic
	}

	if cfg.ButtonPressWindow <= 0 {
		cfg.ButtonPressWindow = DefaultButtonPressWindow
	}

	if cfg.MinVoiceConfidence == 0 {
		cfg.MinVoiceConfidence = DefaultMinVoiceConfidence
	}

	if cfg.MinVoiceConfidence < 0 || cfg.MinVoiceConfidence > 1 {
		return errConfidenceOutOfRange
	}

	if cfg.ButtonGracePeriod <= 0 {
		cfg.ButtonGracePeriod = DefaultButtonGracePeriod
	}

	// VoiceGracePeriod stays zero unless explicitly configured.

	if cfg.LocationInterval <= 0 {
		cfg.LocationInterval = DefaultLocationInterval
	}

	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = DefaultRetryBackoffBase
	}

	if cfg.MaxAttemptsPerChannel <= 0 {
		cfg.MaxAttemptsPerChannel = DefaultMaxAttemptsPerChannel
	}

	if cfg.FallbackCeiling <= 0 {
		cfg.FallbackCeiling = DefaultFallbackCeiling
	}

	if cfg.DispatchURL == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(cfg.DispatchURL); err != nil {
		return fmt.Errorf("invalid dispatch URL: %w", err)
	}

	return nil
}
