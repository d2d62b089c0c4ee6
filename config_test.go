package mcpscope_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/mcpscope/mcpscope"
)

// inDirWithDotEnv runs the body from a temp directory holding the given .env
// content, since godotenv resolves the file relative to the working
// directory.
func inDirWithDotEnv(t *testing.T, content string, body func()) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	}()

	body()
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"MCPSCOPE_VERBOSITY", "MCPSCOPE_TIMEOUT", "MCPSCOPE_AUTH_HEADER",
		"MCPSCOPE_API_KEY", "MCPSCOPE_LOG_LEVEL", "MCPSCOPE_SAFE_TOOLS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := mcpscope.LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Verbosity != 0 {
		t.Errorf("verbosity default. Got %d, want 0", cfg.Verbosity)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("timeout default. Got %s, want 30s", cfg.Timeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level default. Got %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("MCPSCOPE_VERBOSITY", "2")
	t.Setenv("MCPSCOPE_TIMEOUT", "5s")
	t.Setenv("MCPSCOPE_LOG_LEVEL", "debug")
	t.Setenv("MCPSCOPE_SAFE_TOOLS", "get_*, *info*")

	cfg, err := mcpscope.LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Verbosity != 2 {
		t.Errorf("verbosity. Got %d, want 2", cfg.Verbosity)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("timeout. Got %s, want 5s", cfg.Timeout)
	}

	patterns := cfg.SafeToolPatterns()
	if !slices.Equal(patterns, []string{"get_*", "*info*"}) {
		t.Errorf("safe tool patterns. Got %v, want [get_* *info*]", patterns)
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	// godotenv never overrides a variable that is already set, even to "".
	t.Setenv("MCPSCOPE_LOG_LEVEL", "info")
	os.Unsetenv("MCPSCOPE_LOG_LEVEL")

	inDirWithDotEnv(t, "MCPSCOPE_LOG_LEVEL=debug\n", func() {
		cfg, err := mcpscope.LoadConfig()
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("log level from .env. Got %q, want %q", cfg.LogLevel, "debug")
		}
	})
}

func TestLoadConfigToleratesBadDotEnv(t *testing.T) {
	inDirWithDotEnv(t, "JUSTAKEYWITHOUTAVALUE\n", func() {
		if _, err := mcpscope.LoadConfig(); err != nil {
			t.Fatalf("a malformed .env must not be fatal: %v", err)
		}
	})
}

func TestSafeToolPatternsDefault(t *testing.T) {
	var cfg mcpscope.Config
	if !slices.Equal(cfg.SafeToolPatterns(), mcpscope.DefaultSafeToolPatterns) {
		t.Errorf("empty setting should fall back to the defaults, got %v", cfg.SafeToolPatterns())
	}
}

func TestNewTransportClassifiesEndpoint(t *testing.T) {
	cfg := mcpscope.Config{Timeout: time.Second}

	httpT, err := cfg.NewTransport("https://api.example.com/mcp", nil)
	if err != nil {
		t.Fatalf("failed to build http transport: %v", err)
	}
	if _, ok := httpT.(*mcpscope.HTTPTransport); !ok {
		t.Errorf("https endpoint should build an HTTP transport, got %T", httpT)
	}

	procT, err := cfg.NewTransport("python -m some.server --flag", nil)
	if err != nil {
		t.Fatalf("failed to build process transport: %v", err)
	}
	if _, ok := procT.(*mcpscope.ProcessTransport); !ok {
		t.Errorf("command endpoint should build a process transport, got %T", procT)
	}
}

func TestNewTransportRejectsBadCommand(t *testing.T) {
	cfg := mcpscope.Config{}
	if _, err := cfg.NewTransport("../escape --up", nil); err == nil {
		t.Fatal("expected error for traversal in a command endpoint")
	}
}
