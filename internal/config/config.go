// Package config loads command-line settings shared by the chat commands.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/pkg/protocol"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "CHATWIRE_"

// Config holds the settings common to the server and client commands.
type Config struct {
	Address          string
	Transport        string
	Username         string
	BufferSize       int
	MaxFrameSize     int
	HandshakeTimeout time.Duration
	LogLevel         slog.Level
	LogFormat        string
}

// Load parses args, falling back to CHATWIRE_* environment variables and
// then to defaults. Flags take precedence over the environment. Usage and
// flag errors are printed to stderr; -h returns flag.ErrHelp.
func Load(name string, args []string, getenv func(string) string) (Config, error) {
	cfg := Config{
		Address:          ":8080",
		BufferSize:       chat.DefaultBufferSize,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		HandshakeTimeout: 10 * time.Second,
		LogFormat:        "text",
	}
	level := "info"

	env := func(key string) string {
		if getenv == nil {
			return ""
		}
		return getenv(EnvPrefix + key)
	}
	if v := env("ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := env("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := env("USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := env("BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sBUFFER_SIZE: %w", EnvPrefix, err)
		}
		cfg.BufferSize = n
	}
	if v := env("MAX_FRAME_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sMAX_FRAME_SIZE: %w", EnvPrefix, err)
		}
		cfg.MaxFrameSize = n
	}
	if v := env("HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sHANDSHAKE_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.HandshakeTimeout = d
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.Address, "addr", cfg.Address, "Address to listen on or connect to (host:port or ws:// URL)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Client transport: tcp or ws (inferred from -addr when empty)")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "Username for chat")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Receive buffer size in bytes")
	fs.IntVar(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "Largest accepted packet in bytes")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Protocol detection timeout for new peers")
	fs.StringVar(&level, "log-level", level, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	switch strings.ToLower(cfg.Transport) {
	case "", "tcp", "ws":
		cfg.Transport = strings.ToLower(cfg.Transport)
	default:
		return Config{}, fmt.Errorf("invalid transport %q", cfg.Transport)
	}
	if cfg.BufferSize <= 0 || cfg.MaxFrameSize <= 0 {
		return Config{}, fmt.Errorf("buffer and frame sizes must be positive")
	}

	return cfg, nil
}

// Logger builds the logger described by the configuration.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Connection returns the connection settings described by the configuration.
func (c Config) Connection(logger *slog.Logger) chat.Config {
	return chat.Config{
		Logger:       logger,
		BufferSize:   c.BufferSize,
		MaxFrameSize: c.MaxFrameSize,
	}
}
