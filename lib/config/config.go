// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for devmirror
// commands.
//
// Configuration is loaded from a single file specified by:
//   - DEVMIRROR_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${VAR} and ${VAR:-default} in
// paths, for portability.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for devmirror.
type Config struct {
	// Device configures how the device transport is reached.
	Device DeviceConfig `yaml:"device"`

	// Mirror configures the screen mirroring session.
	Mirror MirrorConfig `yaml:"mirror"`

	// Record configures recording output.
	Record RecordConfig `yaml:"record"`
}

// DeviceConfig configures the device transport.
type DeviceConfig struct {
	// Address is the device bridge address, host:port.
	// Default: 127.0.0.1:5037
	Address string `yaml:"address"`

	// Serial selects a device when more than one is attached, passed
	// to the bridge command as "-s <serial>". Empty means the only
	// attached device.
	Serial string `yaml:"serial"`

	// ConnectTimeout bounds the initial transport dial.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MirrorConfig configures the mirroring session.
type MirrorConfig struct {
	// AgentPath is where the agent archive is deployed on the device.
	// Default: /data/local/tmp/devmirror-agent.jar
	AgentPath string `yaml:"agent_path"`

	// VideoCodec selects the video encoder: h264, h265 or av1.
	// Default: h264
	VideoCodec string `yaml:"video_codec"`

	// AudioCodec selects the audio encoder: opus, aac or raw.
	// Default: opus
	AudioCodec string `yaml:"audio_codec"`

	// MaxSize caps the longer video dimension in pixels. Zero means
	// the device's native size.
	MaxSize int `yaml:"max_size"`

	// VideoBitRate is the target encoder bit rate in bits per second.
	// Default: 8000000
	VideoBitRate int `yaml:"video_bit_rate"`

	// NoAudio disables the audio stream.
	NoAudio bool `yaml:"no_audio"`

	// TunnelForward forces the forward tunnel mode instead of trying
	// reverse first.
	TunnelForward bool `yaml:"tunnel_forward"`
}

// RecordConfig configures recording output.
type RecordConfig struct {
	// Directory is where recordings are written.
	// Default: ${HOME}/devmirror/recordings
	Directory string `yaml:"directory"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file, so every field has a
// sensible value when the file omits it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Device: DeviceConfig{
			Address:        "127.0.0.1:5037",
			ConnectTimeout: 10 * time.Second,
		},
		Mirror: MirrorConfig{
			AgentPath:    "/data/local/tmp/devmirror-agent.jar",
			VideoCodec:   "h264",
			AudioCodec:   "opus",
			VideoBitRate: 8_000_000,
		},
		Record: RecordConfig{
			Directory: filepath.Join(homeDir, "devmirror", "recordings"),
		},
	}
}

// Load loads configuration from the DEVMIRROR_CONFIG environment
// variable. If the variable is unset, the defaults are returned: a
// config file is optional for a client tool.
func Load() (*Config, error) {
	configPath := os.Getenv("DEVMIRROR_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${VAR} in
// paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} patterns in path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Mirror.AgentPath = expandVars(c.Mirror.AgentPath, vars)
	c.Record.Directory = expandVars(c.Record.Directory, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Mirror.VideoCodec {
	case "h264", "h265", "av1":
	default:
		return fmt.Errorf("invalid video_codec: %q", c.Mirror.VideoCodec)
	}
	switch c.Mirror.AudioCodec {
	case "opus", "aac", "raw":
	default:
		return fmt.Errorf("invalid audio_codec: %q", c.Mirror.AudioCodec)
	}
	if c.Mirror.VideoBitRate <= 0 {
		return fmt.Errorf("video_bit_rate must be positive, got %d", c.Mirror.VideoBitRate)
	}
	if c.Mirror.MaxSize < 0 {
		return fmt.Errorf("max_size must not be negative, got %d", c.Mirror.MaxSize)
	}
	if c.Device.Address == "" {
		return fmt.Errorf("device.address is required")
	}
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be positive, got %s", c.Device.ConnectTimeout)
	}
	return nil
}
