// Package config provides configuration loading and validation for the live
// translation relay service. It handles YAML-based configuration with per-section
// struct validation and environment overrides for secret material.
package config
