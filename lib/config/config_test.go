// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Address != "127.0.0.1:5037" {
		t.Errorf("expected address=127.0.0.1:5037, got %s", cfg.Device.Address)
	}
	if cfg.Mirror.VideoCodec != "h264" {
		t.Errorf("expected video_codec=h264, got %s", cfg.Mirror.VideoCodec)
	}
	if cfg.Mirror.VideoBitRate != 8_000_000 {
		t.Errorf("expected video_bit_rate=8000000, got %d", cfg.Mirror.VideoBitRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_WithoutConfigFileUsesDefaults(t *testing.T) {
	origConfig := os.Getenv("DEVMIRROR_CONFIG")
	defer os.Setenv("DEVMIRROR_CONFIG", origConfig)
	os.Unsetenv("DEVMIRROR_CONFIG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Mirror.VideoCodec != "h264" {
		t.Errorf("expected default video_codec, got %s", cfg.Mirror.VideoCodec)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "devmirror.yaml")

	configContent := `
device:
  address: 10.0.0.5:5555
  connect_timeout: 3s
mirror:
  video_codec: av1
  max_size: 1280
  no_audio: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Device.Address != "10.0.0.5:5555" {
		t.Errorf("expected address=10.0.0.5:5555, got %s", cfg.Device.Address)
	}
	if cfg.Device.ConnectTimeout != 3*time.Second {
		t.Errorf("expected connect_timeout=3s, got %s", cfg.Device.ConnectTimeout)
	}
	if cfg.Mirror.VideoCodec != "av1" {
		t.Errorf("expected video_codec=av1, got %s", cfg.Mirror.VideoCodec)
	}
	if cfg.Mirror.MaxSize != 1280 {
		t.Errorf("expected max_size=1280, got %d", cfg.Mirror.MaxSize)
	}
	if !cfg.Mirror.NoAudio {
		t.Error("expected no_audio=true")
	}
	// Unset fields keep their defaults.
	if cfg.Mirror.AgentPath != "/data/local/tmp/devmirror-agent.jar" {
		t.Errorf("agent_path default lost: %s", cfg.Mirror.AgentPath)
	}
}

func TestLoadFile_RejectsInvalidCodec(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "devmirror.yaml")
	configContent := `
mirror:
  video_codec: mpeg2
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFile(configPath); err == nil {
		t.Fatal("expected error for invalid video_codec, got nil")
	}
}

func TestExpandVariables(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "devmirror.yaml")
	configContent := `
record:
  directory: ${HOME}/captures
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	want := filepath.Join(os.Getenv("HOME"), "captures")
	if cfg.Record.Directory != want {
		t.Errorf("expected directory=%s, got %s", want, cfg.Record.Directory)
	}
}

func TestExpandVars_Defaults(t *testing.T) {
	vars := map[string]string{"SET": "value"}

	if got := expandVars("${SET}/x", vars); got != "value/x" {
		t.Errorf("expected value/x, got %s", got)
	}
	if got := expandVars("${UNSET_DEVMIRROR_TEST:-fallback}", vars); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}
