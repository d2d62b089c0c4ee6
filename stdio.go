package mcpscope

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
)

// ProcessTransport runs an MCP server as a child process and exchanges
// newline-delimited JSON over its stdin/stdout. A single background goroutine
// drains the child's stdout into an internal queue so that writes and reads
// never block each other; malformed lines are logged and dropped without
// killing the stream.
//
// Instances must be created with NewProcessTransport and released with Close,
// which tears the child down on every exit path: reader stopped, stdin
// closed, SIGTERM, then SIGKILL after a grace window.
type ProcessTransport struct {
	command   []string
	timeout   time.Duration
	termGrace time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	proc      *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closed    bool

	queue chan JSONRPCMessage
	done  chan struct{}
}

// ProcessTransportOption configures a ProcessTransport.
type ProcessTransportOption func(*ProcessTransport)

var (
	defaultRequestTimeout = 30 * time.Second
	defaultTermGrace      = 5 * time.Second
)

// WithProcessTimeout sets the per-receive timeout.
func WithProcessTimeout(timeout time.Duration) ProcessTransportOption {
	return func(t *ProcessTransport) {
		t.timeout = timeout
	}
}

// WithProcessTermGrace sets how long Close waits for the child to exit after
// SIGTERM before force-killing it.
func WithProcessTermGrace(grace time.Duration) ProcessTransportOption {
	return func(t *ProcessTransport) {
		t.termGrace = grace
	}
}

// WithProcessLogger sets the logger for the transport.
func WithProcessLogger(logger *slog.Logger) ProcessTransportOption {
	return func(t *ProcessTransport) {
		t.logger = logger
	}
}

// NewProcessTransport creates a transport for the given command string.
// Commands containing spaces are tokenized with shell-style quoting rules,
// and the resolved executable path is rejected if it escapes upward through
// the filesystem.
func NewProcessTransport(command string, options ...ProcessTransportOption) (*ProcessTransport, error) {
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, validationErrorf(err, "invalid command string %q", command)
	}
	if len(parts) == 0 {
		return nil, validationErrorf(nil, "empty command string")
	}

	exe, err := sanitizePath(parts[0])
	if err != nil {
		return nil, err
	}
	parts[0] = exe

	t := &ProcessTransport{
		command: parts,
		logger:  slog.Default(),
		queue:   make(chan JSONRPCMessage, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(t)
	}

	if t.timeout == 0 {
		t.timeout = defaultRequestTimeout
	}
	if t.termGrace == 0 {
		t.termGrace = defaultTermGrace
	}

	return t, nil
}

// Connect spawns the child process and starts the background reader. Calling
// it on an already-connected transport is a no-op.
func (t *ProcessTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return connectionErrorf(nil, "transport is closed")
	}
	if t.connected {
		return nil
	}

	cmd := exec.Command(t.command[0], t.command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return connectionErrorf(err, "failed to open stdin pipe for %s", strings.Join(t.command, " "))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return connectionErrorf(err, "failed to open stdout pipe for %s", strings.Join(t.command, " "))
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return connectionErrorf(err, "failed to start process %s", strings.Join(t.command, " "))
	}

	t.proc = cmd
	t.stdin = stdin
	t.connected = true

	go t.readResponses(stdout)

	t.logger.Info("started process transport", "command", strings.Join(t.command, " "))
	return nil
}

// readResponses drains the child's stdout into the queue until the stream
// ends or the transport closes.
func (t *ProcessTransport) readResponses(stdout io.Reader) {
	// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Error("failed to read from process stdout", "err", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.logger.Warn("dropping malformed process output line", "err", err)
			continue
		}

		select {
		case t.queue <- msg:
		case <-t.done:
			return
		}
	}
}

// Send writes one newline-terminated JSON message to the child's stdin.
func (t *ProcessTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.closed {
		return connectionErrorf(nil, "transport not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return validationErrorf(err, "failed to marshal message")
	}
	msgBs = append(msgBs, '\n')

	if _, err := t.stdin.Write(msgBs); err != nil {
		return connectionErrorf(err, "failed to write to process stdin")
	}
	return nil
}

// Receive pops the next message from the reader queue, waiting up to the
// configured timeout.
func (t *ProcessTransport) Receive(ctx context.Context) (JSONRPCMessage, error) {
	t.mu.Lock()
	connected := t.connected && !t.closed
	t.mu.Unlock()
	if !connected {
		return JSONRPCMessage{}, connectionErrorf(nil, "transport not connected")
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case msg := <-t.queue:
		if err := ValidateMessage(msg); err != nil {
			return JSONRPCMessage{}, err
		}
		return msg, nil
	case <-timer.C:
		return JSONRPCMessage{}, timeoutErrorf(nil, "no response received within %s", t.timeout)
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	case <-t.done:
		return JSONRPCMessage{}, connectionErrorf(nil, "transport is closed")
	}
}

// Close shuts the transport down: the background reader is released, stdin is
// closed, and the child gets SIGTERM followed by SIGKILL if it outlives the
// grace window. Close never fails for an already-closed transport.
func (t *ProcessTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	proc := t.proc
	stdin := t.stdin
	t.mu.Unlock()

	close(t.done)

	if stdin != nil {
		if err := stdin.Close(); err != nil {
			t.logger.Warn("failed to close process stdin", "err", err)
		}
	}

	if proc != nil && proc.Process != nil {
		if err := proc.Process.Signal(syscall.SIGTERM); err != nil {
			t.logger.Warn("failed to signal process", "err", err)
		}

		waitErr := make(chan error, 1)
		go func() { waitErr <- proc.Wait() }()

		select {
		case <-waitErr:
		case <-time.After(t.termGrace):
			if err := proc.Process.Kill(); err != nil {
				t.logger.Warn("failed to kill process", "err", err)
			}
			<-waitErr
		}
	}

	t.logger.Info("process transport closed")
	return nil
}

// sanitizePath normalizes a filesystem path and rejects upward traversal.
func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", validationErrorf(nil, "invalid file path: %s", path)
	}
	return cleaned, nil
}
