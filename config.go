package homegraph

import (
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncConfig defines sync engine configuration.
type SyncConfig struct {
	// Endpoint is the remote sync base URL. Required for networked sync.
	Endpoint string

	// AuthEndpoint is the token endpoint URL. Required when authentication
	// is enabled.
	AuthEndpoint string

	// ClientID identifies this installation to the remote.
	ClientID string

	// RequestTimeout bounds one sync round trip.
	// Default: 45s.
	RequestTimeout time.Duration

	// AuthTimeout bounds one authentication round trip.
	// Default: 10s.
	AuthTimeout time.Duration

	// CompressPayload enables snappy compression of sync bodies.
	// Default: true.
	CompressPayload bool

	// DefaultStrategy is used when a conflict notice names no strategy.
	// Default: last_write_wins.
	DefaultStrategy ConflictStrategy

	// DatabasePath is the SQLite ledger file. Empty selects the in-memory
	// store.
	DatabasePath string

	// EventBufferSize is the capacity of the engine's event channel.
	// Default: 32.
	EventBufferSize int
}

// DefaultSyncConfig returns a configuration with sensible defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		RequestTimeout:  45 * time.Second,
		AuthTimeout:     10 * time.Second,
		CompressPayload: true,
		DefaultStrategy: StrategyLastWriteWins,
		EventBufferSize: 32,
	}
}

// syncConfigFile is the YAML schema. Durations ride as strings ("45s",
// "2m") and are parsed on load.
type syncConfigFile struct {
	Endpoint        string `yaml:"endpoint"`
	AuthEndpoint    string `yaml:"auth_endpoint"`
	ClientID        string `yaml:"client_id"`
	RequestTimeout  string `yaml:"request_timeout,omitempty"`
	AuthTimeout     string `yaml:"auth_timeout,omitempty"`
	CompressPayload *bool  `yaml:"compress_payload,omitempty"`
	DefaultStrategy string `yaml:"default_strategy,omitempty"`
	DatabasePath    string `yaml:"database_path,omitempty"`
	EventBufferSize int    `yaml:"event_buffer_size,omitempty"`
}

// LoadSyncConfig reads a YAML configuration file, filling unset fields with
// defaults.
func LoadSyncConfig(path string) (SyncConfig, error) {
	cfg := DefaultSyncConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, storageErr("read config", err)
	}
	var file syncConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, newSyncError(ErrorKindInvalidData, "parse config", err)
	}

	cfg.Endpoint = file.Endpoint
	cfg.AuthEndpoint = file.AuthEndpoint
	cfg.ClientID = file.ClientID
	cfg.DatabasePath = file.DatabasePath
	if file.RequestTimeout != "" {
		d, err := time.ParseDuration(file.RequestTimeout)
		if err != nil {
			return cfg, newSyncError(ErrorKindInvalidData, "parse request_timeout", err)
		}
		cfg.RequestTimeout = d
	}
	if file.AuthTimeout != "" {
		d, err := time.ParseDuration(file.AuthTimeout)
		if err != nil {
			return cfg, newSyncError(ErrorKindInvalidData, "parse auth_timeout", err)
		}
		cfg.AuthTimeout = d
	}
	if file.CompressPayload != nil {
		cfg.CompressPayload = *file.CompressPayload
	}
	if file.DefaultStrategy != "" {
		cfg.DefaultStrategy = ConflictStrategy(file.DefaultStrategy)
	}
	if file.EventBufferSize > 0 {
		cfg.EventBufferSize = file.EventBufferSize
	}

	return cfg, cfg.Validate()
}

// Validate checks field consistency. Endpoints are optional (local-only
// configurations leave them empty) but must be absolute URLs when set.
func (c *SyncConfig) Validate() error {
	if err := validateEndpoint("endpoint", c.Endpoint); err != nil {
		return err
	}
	if err := validateEndpoint("auth_endpoint", c.AuthEndpoint); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return newSyncError(ErrorKindInvalidData, "request_timeout must be positive", nil)
	}
	if c.AuthTimeout <= 0 {
		return newSyncError(ErrorKindInvalidData, "auth_timeout must be positive", nil)
	}
	if _, err := ParseConflictStrategy(string(c.DefaultStrategy)); err != nil {
		return err
	}
	return nil
}

func validateEndpoint(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return newSyncError(ErrorKindInvalidData, name+" is not a valid URL", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return newSyncError(ErrorKindInvalidData, name+" must be an absolute URL", nil)
	}
	return nil
}
