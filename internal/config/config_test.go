package config_test

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/internal/config"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("test", nil, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Address != ":8080" {
		t.Errorf("Address = %q, want %q", cfg.Address, ":8080")
	}
	if cfg.BufferSize != chat.DefaultBufferSize {
		t.Errorf("BufferSize = %d, want %d", cfg.BufferSize, chat.DefaultBufferSize)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
}

func TestLoad_EnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		"CHATWIRE_ADDRESS":     "localhost:9000",
		"CHATWIRE_USERNAME":    "alice",
		"CHATWIRE_LOG_LEVEL":   "debug",
		"CHATWIRE_BUFFER_SIZE": "1024",
	})

	cfg, err := config.Load("test", []string{"-username", "bob", "-transport", "WS", "-log-format", "json"}, env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Address != "localhost:9000" {
		t.Errorf("Address = %q, want env value", cfg.Address)
	}
	if cfg.Username != "bob" {
		t.Errorf("Username = %q, flag should win over env", cfg.Username)
	}
	if cfg.Transport != "ws" {
		t.Errorf("Transport = %q, want %q", cfg.Transport, "ws")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.BufferSize != 1024 {
		t.Errorf("BufferSize = %d, want 1024", cfg.BufferSize)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad level", []string{"-log-level", "loud"}, nil},
		{"bad format", []string{"-log-format", "xml"}, nil},
		{"bad transport", []string{"-transport", "udp"}, nil},
		{"bad buffer env", nil, map[string]string{"CHATWIRE_BUFFER_SIZE": "big"}},
		{"bad timeout env", nil, map[string]string{"CHATWIRE_HANDSHAKE_TIMEOUT": "soon"}},
		{"negative frame size", []string{"-max-frame-size", "-1"}, nil},
		{"unknown flag", []string{"-nope"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load("test", tt.args, envMap(tt.env)); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}

func TestLoad_Help(t *testing.T) {
	if _, err := config.Load("test", []string{"-h"}, nil); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("Load(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestConfig_Logger(t *testing.T) {
	cfg, err := config.Load("test", []string{"-log-format", "json", "-log-level", "warn"}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn message, got %q", out)
	}
}

func TestConfig_Connection(t *testing.T) {
	cfg, err := config.Load("test", []string{"-buffer-size", "512", "-max-frame-size", "2048"}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cc := cfg.Connection(nil)
	if cc.BufferSize != 512 || cc.MaxFrameSize != 2048 {
		t.Errorf("Connection() = %+v", cc)
	}
}
