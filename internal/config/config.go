package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Translation TranslationConfig `yaml:"translation"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	Relay       RelayConfig       `yaml:"relay"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains media WebSocket server configuration
type ServerConfig struct {
	Port               int    `yaml:"port"`
	BindAddress        string `yaml:"bind_address"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
}

// HTTPConfig contains monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// TranslationConfig contains realtime translation API configuration
type TranslationConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
}

// PromptsConfig contains the per-direction instruction templates. Both
// templates must contain the {language} placeholder.
type PromptsConfig struct {
	Caller   string `yaml:"caller"`
	Agent    string `yaml:"agent"`
	Language string `yaml:"language"`
}

// RelayConfig contains call relay behavior configuration
type RelayConfig struct {
	GuardWindowMS  int `yaml:"guard_window_ms"`
	PairingTimeout int `yaml:"pairing_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// The API key is secret material; the environment wins over the file.
	if key := os.Getenv("TRANSLATION_API_KEY"); key != "" {
		config.Translation.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Prompts.Validate(); err != nil {
		return fmt.Errorf("prompts config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max_concurrent_calls must be at least 1, got %d", s.MaxConcurrentCalls)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if !strings.HasPrefix(t.URL, "ws://") && !strings.HasPrefix(t.URL, "wss://") {
		return fmt.Errorf("url must use ws:// or wss:// scheme, got '%s'", t.URL)
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", t.HandshakeTimeout)
	}

	return nil
}

// Validate validates prompt template configuration
func (p *PromptsConfig) Validate() error {
	if p.Caller == "" {
		return fmt.Errorf("caller prompt cannot be empty")
	}

	if p.Agent == "" {
		return fmt.Errorf("agent prompt cannot be empty")
	}

	if !strings.Contains(p.Caller, "{language}") {
		return fmt.Errorf("caller prompt must contain the {language} placeholder")
	}

	if !strings.Contains(p.Agent, "{language}") {
		return fmt.Errorf("agent prompt must contain the {language} placeholder")
	}

	if p.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.GuardWindowMS < 0 {
		return fmt.Errorf("guard_window_ms cannot be negative, got %d", r.GuardWindowMS)
	}

	if r.PairingTimeout < 0 {
		return fmt.Errorf("pairing_timeout cannot be negative, got %d", r.PairingTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetHandshakeTimeoutDuration returns the WebSocket handshake timeout as a time.Duration
func (t *TranslationConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(t.HandshakeTimeout) * time.Second
}

// GetGuardWindowDuration returns the outbound guard window as a time.Duration
func (r *RelayConfig) GetGuardWindowDuration() time.Duration {
	return time.Duration(r.GuardWindowMS) * time.Millisecond
}

// GetPairingTimeoutDuration returns the leg pairing timeout as a time.Duration
func (r *RelayConfig) GetPairingTimeoutDuration() time.Duration {
	return time.Duration(r.PairingTimeout) * time.Second
}
