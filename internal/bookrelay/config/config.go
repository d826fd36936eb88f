// Package config loads and validates the bookrelay configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ConfigFormatVersion is the current version of the configuration file format
const ConfigFormatVersion = "0.1.0"

// SessionConfig holds booking session lifetime settings
type SessionConfig struct {
	TTL           string `toml:"ttl"`            // Lifetime of a session from creation
	SweepInterval string `toml:"sweep_interval"` // How often expired sessions are collected
}

// GetTTL returns the session TTL as time.Duration
func (s *SessionConfig) GetTTL() time.Duration {
	d, err := ParseDuration(s.TTL)
	if err != nil {
		panic(fmt.Sprintf("invalid session ttl: %v", err))
	}
	return d
}

// GetSweepInterval returns the sweep interval as time.Duration
func (s *SessionConfig) GetSweepInterval() time.Duration {
	d, err := ParseDuration(s.SweepInterval)
	if err != nil {
		panic(fmt.Sprintf("invalid session sweep_interval: %v", err))
	}
	return d
}

// ChallengeConfig holds CAPTCHA rendering settings
type ChallengeConfig struct {
	ArtifactDir string `toml:"artifact_dir"` // Directory holding rendered challenge images
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	Length      int    `toml:"length"` // Number of characters
	Noise       int    `toml:"noise"`  // Number of noise lines
	Background  string `toml:"background"`
}

// WorkerConfig selects the worker strategy. Options are decoded by the chosen strategy.
type WorkerConfig struct {
	Strategy string         `toml:"strategy"` // inprocess or process
	Options  map[string]any `toml:"options"`
}

// ProviderConfig holds booking provider settings
type ProviderConfig struct {
	Kind           string `toml:"kind"`     // http or simulated
	Endpoint       string `toml:"endpoint"` // Base URL of the http provider
	Timeout        string `toml:"timeout"`
	DefaultMobile  string `toml:"default_mobile"`
	DefaultPayment string `toml:"default_payment"`
	UserIDEnv      string `toml:"user_id_env"`  // Environment variable holding the account user id
	PasswordEnv    string `toml:"password_env"` // Environment variable holding the account password
}

// GetTimeout returns the provider call timeout as time.Duration
func (p *ProviderConfig) GetTimeout() time.Duration {
	d, err := ParseDuration(p.Timeout)
	if err != nil {
		panic(fmt.Sprintf("invalid provider timeout: %v", err))
	}
	return d
}

// Credentials reads the provider account credentials from the environment.
func (p *ProviderConfig) Credentials() (userID, password string) {
	return os.Getenv(p.UserIDEnv), os.Getenv(p.PasswordEnv)
}

// AuditConfig controls the session audit log
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"` // Empty writes to stdout
}

// ConfigParam holds all configuration parameters for the bookrelay service
type ConfigParam struct {
	// Configuration version
	FormatVersion string `toml:"format_version"` // Version of this configuration file format

	// Server configuration
	ServerHostName string `toml:"server_hostname"` // Hostname the server binds to
	ServerPort     string `toml:"server_port"`     // Port for the server
	HandleCORS     bool   `toml:"handle_cors"`     // Whether to handle CORS
	LogLevel       string `toml:"log_level"`
	EnvFile        string `toml:"env_file"` // Optional dotenv file with provider credentials

	Session   SessionConfig   `toml:"session"`
	Challenge ChallengeConfig `toml:"challenge"`
	Worker    WorkerConfig    `toml:"worker"`
	Provider  ProviderConfig  `toml:"provider"`
	Audit     AuditConfig     `toml:"audit"`
}

var cfg *ConfigParam

// Config returns the current configuration
func Config() *ConfigParam {
	return cfg
}

// SetConfig replaces the current configuration.
func SetConfig(c *ConfigParam) {
	cfg = c
}

// ParseDuration parses a duration string in the format "<number><unit>" where unit can be:
// - d: days
// - h: hours
// - m: minutes
// - s: seconds
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", input)
	}

	var duration time.Duration
	switch unit {
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	case "h":
		duration = time.Duration(value) * time.Hour
	case "m":
		duration = time.Duration(value) * time.Minute
	case "s":
		duration = time.Duration(value) * time.Second
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}

	return duration, nil
}

const (
	StrategyInProcess = "inprocess"
	StrategyProcess   = "process"

	ProviderHTTP      = "http"
	ProviderSimulated = "simulated"
)

// ValidateConfig checks required values and fills defaults
func ValidateConfig(cfg *ConfigParam) error {
	if cfg.FormatVersion != ConfigFormatVersion {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}

	if cfg.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if cfg.ServerHostName == "" {
		cfg.ServerHostName = "0.0.0.0"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Session
	if cfg.Session.TTL == "" {
		cfg.Session.TTL = "5m"
	}
	if _, err := ParseDuration(cfg.Session.TTL); err != nil {
		return fmt.Errorf("invalid session.ttl: %v", err)
	}
	if cfg.Session.SweepInterval == "" {
		cfg.Session.SweepInterval = "30s"
	}
	if _, err := ParseDuration(cfg.Session.SweepInterval); err != nil {
		return fmt.Errorf("invalid session.sweep_interval: %v", err)
	}

	// Challenge
	if cfg.Challenge.ArtifactDir == "" {
		cfg.Challenge.ArtifactDir = filepath.Join(os.TempDir(), "bookrelay", "captchas")
	}
	if err := os.MkdirAll(cfg.Challenge.ArtifactDir, 0700); err != nil {
		return fmt.Errorf("error creating artifact directory: %v", err)
	}
	if cfg.Challenge.Width == 0 {
		cfg.Challenge.Width = 150
	}
	if cfg.Challenge.Height == 0 {
		cfg.Challenge.Height = 50
	}
	if cfg.Challenge.Length == 0 {
		cfg.Challenge.Length = 5
	}
	if cfg.Challenge.Noise == 0 {
		cfg.Challenge.Noise = 2
	}
	if cfg.Challenge.Background == "" {
		cfg.Challenge.Background = "#fff4fc"
	}
	if cfg.Challenge.Width < 20 || cfg.Challenge.Height < 20 || cfg.Challenge.Length < 1 {
		return fmt.Errorf("challenge dimensions are too small")
	}

	// Worker
	if cfg.Worker.Strategy == "" {
		cfg.Worker.Strategy = StrategyInProcess
	}
	switch cfg.Worker.Strategy {
	case StrategyInProcess, StrategyProcess:
	default:
		return fmt.Errorf("unsupported worker.strategy: %s", cfg.Worker.Strategy)
	}

	// Provider
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = ProviderSimulated
	}
	switch cfg.Provider.Kind {
	case ProviderSimulated:
	case ProviderHTTP:
		if cfg.Provider.Endpoint == "" {
			return fmt.Errorf("provider.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unsupported provider.kind: %s", cfg.Provider.Kind)
	}
	if cfg.Provider.Timeout == "" {
		cfg.Provider.Timeout = "60s"
	}
	if _, err := ParseDuration(cfg.Provider.Timeout); err != nil {
		return fmt.Errorf("invalid provider.timeout: %v", err)
	}
	if cfg.Provider.UserIDEnv == "" {
		cfg.Provider.UserIDEnv = "BOOKRELAY_PROVIDER_USER_ID"
	}
	if cfg.Provider.PasswordEnv == "" {
		cfg.Provider.PasswordEnv = "BOOKRELAY_PROVIDER_PASSWORD"
	}

	return nil
}

// LoadConfig loads configuration from a file and installs it as the current configuration
func LoadConfig(filename string) error {
	c, err := Load(filename)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// Load reads, parses and validates a configuration file. A configured env_file is
// loaded into the process environment without overriding variables already set.
func Load(filename string) (*ConfigParam, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	c := &ConfigParam{}
	if _, err := toml.Decode(string(content), c); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	if c.EnvFile != "" {
		envFile := c.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(filepath.Dir(filename), envFile)
		}
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file: %v", err)
		}
	}

	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return c, nil
}

// TestInit loads bookrelay.conf from the project root and points the artifact
// directory at a per-test temporary directory.
func TestInit(t *testing.T) *ConfigParam {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			panic("could not find project root (go.mod)")
		}
		projectRoot = parent
	}
	c, err := Load(filepath.Join(projectRoot, "bookrelay.conf"))
	if err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
	c.Challenge.ArtifactDir = t.TempDir()
	c.EnvFile = ""
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}
