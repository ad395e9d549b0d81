package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/credcache/internal/execrunner"
	"github.com/florianilch/credcache/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// TelemetryExporter selects where OpenTelemetry log records are sent.
type TelemetryExporter string

const (
	TelemetryExporterStdout TelemetryExporter = "stdout"
	TelemetryExporterOTLP   TelemetryExporter = "otlp"
)

// TelemetryProtocol selects the OTLP transport.
type TelemetryProtocol string

const (
	TelemetryProtocolHTTP TelemetryProtocol = "http"
	TelemetryProtocolGRPC TelemetryProtocol = "grpc"
)

// TokenStorageType represents the different storage backends supported for cached entries.
type TokenStorageType string

const (
	TokenStorageTypeFile     TokenStorageType = "file"
	TokenStorageTypeKeychain TokenStorageType = "keychain"
	TokenStorageTypeCredman  TokenStorageType = "credman"
	TokenStorageTypeEnv      TokenStorageType = "env"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = TelemetryExporterStdout
	DefaultConfigTelemetryProtocol = TelemetryProtocolHTTP
	DefaultConfigKeychainService   = "credcache"
	DefaultConfigHelper            = "creds"
	DefaultConfigHelperTimeout     = execrunner.DefaultTimeout
	DefaultConfigTargetPrefix      = tokenstore.DefaultTargetPrefix
	DefaultConfigEnvKey            = "CREDCACHE_ENTRIES"
)

// TelemetryConfig holds settings for the otel log format.
type TelemetryConfig struct {
	Exporter TelemetryExporter `json:"exporter" validate:"oneof=stdout otlp"`
	Protocol TelemetryProtocol `json:"protocol" validate:"oneof=http grpc"`
	// Endpoint overrides the OTLP endpoint; empty uses the exporter's
	// OTEL_EXPORTER_OTLP_* environment handling.
	Endpoint string `json:"endpoint,omitempty" validate:"omitempty,hostname_port|url"`
}

// StoreConfig describes which backend holds the cache and how to reach it.
type StoreConfig struct {
	Backend TokenStorageType `json:"backend" validate:"required,oneof=file keychain credman env"`

	// Backend-specific settings
	File            string        `json:"file,omitempty"`             // file: path to the JSON document
	KeychainService string        `json:"keychain_service,omitempty"` // keychain: service name items are filed under
	Helper          string        `json:"helper,omitempty"`           // credman: helper command line
	HelperTimeout   time.Duration `json:"helper_timeout,omitempty" validate:"gte=0"`
	TargetPrefix    string        `json:"target_prefix,omitempty"`    // credman: namespace for target names
	EnvKey          string        `json:"env_key,omitempty"`          // env: variable holding encoded entries
}

// NewTokenStore creates the configured TokenStore. No I/O is performed
// beyond creating the file backend's parent directory.
func (s *StoreConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch s.Backend {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case TokenStorageTypeKeychain:
		return tokenstore.NewKeyringStore(s.KeychainService)
	case TokenStorageTypeCredman:
		runner, err := execrunner.New(s.Helper, s.HelperTimeout)
		if err != nil {
			return nil, fmt.Errorf("credential manager helper: %w", err)
		}
		return tokenstore.NewCredentialManagerStore(runner, tokenstore.WithTargetPrefix(s.TargetPrefix))
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvKey)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", s.Backend)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json otel"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Store     StoreConfig     `json:"store"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// DefaultBackend returns the platform's native backend for goos.
func DefaultBackend(goos string) TokenStorageType {
	switch goos {
	case "darwin":
		return TokenStorageTypeKeychain
	case "windows":
		return TokenStorageTypeCredman
	default:
		return TokenStorageTypeFile
	}
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = DefaultConfigTelemetryProtocol
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend(runtime.GOOS)
	}

	// Backend-specific defaults
	switch c.Store.Backend {
	case TokenStorageTypeFile:
		if c.Store.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("store.file required (auto-detect failed: %w)", err)
			}
			c.Store.File = filepath.Join(configDir, "credcache", "tokens.json")
		}
	case TokenStorageTypeKeychain:
		if c.Store.KeychainService == "" {
			c.Store.KeychainService = DefaultConfigKeychainService
		}
	case TokenStorageTypeCredman:
		if c.Store.Helper == "" {
			c.Store.Helper = DefaultConfigHelper
		}
		if c.Store.HelperTimeout == 0 {
			c.Store.HelperTimeout = DefaultConfigHelperTimeout
		}
		if c.Store.TargetPrefix == "" {
			c.Store.TargetPrefix = DefaultConfigTargetPrefix
		}
	case TokenStorageTypeEnv:
		if c.Store.EnvKey == "" {
			c.Store.EnvKey = DefaultConfigEnvKey
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and backend requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Store.Backend {
	case TokenStorageTypeFile:
		if c.Store.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeKeychain:
		if c.Store.KeychainService == "" {
			return errors.New("keychain_service required for keychain storage")
		}
	case TokenStorageTypeCredman:
		if c.Store.Helper == "" {
			return errors.New("helper required for credman storage")
		}
		if c.Store.TargetPrefix == "" {
			return errors.New("target_prefix required for credman storage")
		}
	case TokenStorageTypeEnv:
		if c.Store.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	}

	return nil
}
