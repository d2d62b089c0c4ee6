package mcpscope

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config carries the environment-driven settings. Endpoint and per-run flags
// come from the command line; everything here has a sane default so a bare
// environment works.
type Config struct {
	Verbosity    int           `env:"MCPSCOPE_VERBOSITY,default=0"`
	Timeout      time.Duration `env:"MCPSCOPE_TIMEOUT,default=30s"`
	AuthHeader   string        `env:"MCPSCOPE_AUTH_HEADER"`
	APIKey       string        `env:"MCPSCOPE_API_KEY"`
	LogLevel     string        `env:"MCPSCOPE_LOG_LEVEL,default=info"`
	VersionTable string        `env:"MCPSCOPE_VERSION_TABLE"`
	SafeTools    string        `env:"MCPSCOPE_SAFE_TOOLS"`
}

// LoadConfig reads a .env file when one is present, then decodes the
// MCPSCOPE_* environment variables. A missing .env file is not an error.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no .env file found")
		} else {
			slog.Warn("failed to load .env file", "err", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, validationErrorf(err, "invalid environment configuration")
	}
	return cfg, nil
}

// SafeToolPatterns returns the configured probe patterns, falling back to the
// defaults. The variable holds a comma-separated list.
func (c Config) SafeToolPatterns() []string {
	if strings.TrimSpace(c.SafeTools) == "" {
		return DefaultSafeToolPatterns
	}

	var patterns []string
	for _, p := range strings.Split(c.SafeTools, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// NewTransport classifies an endpoint and builds the matching transport: an
// http:// or https:// URL gets the HTTP transport with resolved auth headers,
// anything else is treated as a command line to spawn.
func (c Config) NewTransport(endpoint string, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return NewHTTPTransport(endpoint,
			WithHTTPAuthHeaders(BuildAuthHeaders(endpoint, c.AuthHeader, c.APIKey)),
			WithHTTPTimeout(c.Timeout),
			WithHTTPLogger(logger),
		), nil
	}
	return NewProcessTransport(endpoint,
		WithProcessTimeout(c.Timeout),
		WithProcessLogger(logger),
	)
}

// NewLogger builds a text slog logger at the configured level, writing to
// stderr so protocol output on stdout stays clean.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
