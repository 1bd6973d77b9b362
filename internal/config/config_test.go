package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:               8080,
			BindAddress:        "0.0.0.0",
			MaxConcurrentCalls: 100,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Translation: TranslationConfig{
			URL:              "wss://api.example.com/v1/realtime",
			APIKey:           "test-key",
			HandshakeTimeout: 10,
		},
		Prompts: PromptsConfig{
			Caller:   "Translate everything the caller says into {language}.",
			Agent:    "Translate everything the agent says into {language}.",
			Language: "Spanish",
		},
		Relay: RelayConfig{
			GuardWindowMS:  1000,
			PairingTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name: "invalid server port",
			mutate: func(c *Config) {
				c.Server.Port = 70000
			},
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name: "empty bind address",
			mutate: func(c *Config) {
				c.Server.BindAddress = ""
			},
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
		{
			name: "translation url with wrong scheme",
			mutate: func(c *Config) {
				c.Translation.URL = "https://api.example.com/v1/realtime"
			},
			expectError: true,
			errorMsg:    "ws:// or wss://",
		},
		{
			name: "missing translation api key",
			mutate: func(c *Config) {
				c.Translation.APIKey = ""
			},
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name: "caller prompt without language placeholder",
			mutate: func(c *Config) {
				c.Prompts.Caller = "Translate everything into Spanish."
			},
			expectError: true,
			errorMsg:    "{language} placeholder",
		},
		{
			name: "agent prompt without language placeholder",
			mutate: func(c *Config) {
				c.Prompts.Agent = "Translate everything into English."
			},
			expectError: true,
			errorMsg:    "{language} placeholder",
		},
		{
			name: "negative guard window",
			mutate: func(c *Config) {
				c.Relay.GuardWindowMS = -5
			},
			expectError: true,
			errorMsg:    "guard_window_ms cannot be negative",
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name: "http disabled skips port validation",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  port: 8080
  bind_address: "0.0.0.0"
  max_concurrent_calls: 100
http:
  port: 9090
  address: "0.0.0.0"
  enabled: true
translation:
  url: "wss://api.example.com/v1/realtime"
  api_key: "test-key"
  handshake_timeout: 10
prompts:
  caller: "Translate everything the caller says into {language}."
  agent: "Translate everything the agent says into {language}."
  language: "Spanish"
relay:
  guard_window_ms: 1000
  pairing_timeout: 60
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  port: 8080
  max_concurrent_calls: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
server:
  port: 8080
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestAPIKeyEnvironmentOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configYAML := `
server:
  port: 8080
  bind_address: "0.0.0.0"
  max_concurrent_calls: 100
translation:
  url: "wss://api.example.com/v1/realtime"
  api_key: "file-key"
  handshake_timeout: 10
prompts:
  caller: "Translate the caller into {language}."
  agent: "Translate the agent into {language}."
  language: "French"
logging:
  level: "info"
  format: "json"
  output: "stdout"
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	t.Setenv("TRANSLATION_API_KEY", "env-key")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Translation.APIKey != "env-key" {
		t.Errorf("Expected environment to override file api_key, got '%s'", config.Translation.APIKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	translation := TranslationConfig{
		HandshakeTimeout: 10,
	}
	if translation.GetHandshakeTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", translation.GetHandshakeTimeoutDuration())
	}

	relay := RelayConfig{
		GuardWindowMS:  1500,
		PairingTimeout: 60,
	}
	if relay.GetGuardWindowDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", relay.GetGuardWindowDuration())
	}
	if relay.GetPairingTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", relay.GetPairingTimeoutDuration())
	}
}
