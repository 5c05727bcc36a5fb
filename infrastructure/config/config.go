package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/JSON gateway (spec.md §6).
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// WireConfig controls the async binary wire protocol listener (spec.md
// §4.5).
type WireConfig struct {
	Host           string        `json:"host" yaml:"host" env:"WIRE_HOST"`
	Port           int           `json:"port" yaml:"port" env:"WIRE_PORT"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"WIRE_CONNECT_TIMEOUT"`
	MaxFrameSize   string        `json:"max_frame_size" yaml:"max_frame_size" env:"WIRE_MAX_FRAME_SIZE"`
}

// PersistenceConfig controls the configuration persister (spec.md §6).
type PersistenceConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"PERSISTENCE_BACKEND"` // "xmlfile" | "memory"
	Path    string `json:"path" yaml:"path" env:"PERSISTENCE_PATH"`
}

// LoggingConfig controls process-wide logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
}

// RuntimeConfig controls host/domain federation and shutdown behavior
// (spec.md §4.5 "Host↔Domain", §2 item 9's external gateways).
type RuntimeConfig struct {
	HostID          string        `json:"host_id" yaml:"host_id" env:"RUNTIME_HOST_ID"`
	DomainAddress   string        `json:"domain_address" yaml:"domain_address" env:"RUNTIME_DOMAIN_ADDRESS"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"RUNTIME_SHUTDOWN_TIMEOUT"`
}

// Config is the top-level configuration for both cmd/domaind and
// cmd/hostd.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Wire        WireConfig        `json:"wire" yaml:"wire"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Runtime     RuntimeConfig     `json:"runtime" yaml:"runtime"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Wire: WireConfig{
			Host:           "0.0.0.0",
			Port:           9990,
			ConnectTimeout: 5 * time.Second,
			MaxFrameSize:   "16MB",
		},
		Persistence: PersistenceConfig{
			Backend: "xmlfile",
			Path:    "domain.xml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Runtime: RuntimeConfig{
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// Load loads configuration from a .env file, an optional YAML config file,
// then environment variable overrides, in that priority order.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file only, skipping env
// overrides. Used by tests.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadConfig loads a JSON config snippet. Used by tests.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
