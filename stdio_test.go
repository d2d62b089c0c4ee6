package mcpscope_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mcpscope/mcpscope"
)

// TestStdioHelperProcess is not a real test: when re-executed with the helper
// environment variable set it behaves as a small MCP server on stdin/stdout,
// so the process transport can be exercised against a real child process.
func TestStdioHelperProcess(t *testing.T) {
	if os.Getenv("MCPSCOPE_STDIO_HELPER") != "1" {
		return
	}

	out := bufio.NewWriter(os.Stdout)
	write := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintln(os.Stderr, "helper marshal:", err)
			os.Exit(1)
		}
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}

	// A line of noise before any reply; the client must drop it.
	fmt.Fprintln(os.Stdout, "spawned stub server, speaking jsonrpc now")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var msg mcpscope.JSONRPCMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.ID == "" {
			continue
		}

		switch msg.Method {
		case "initialize":
			write(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"result": map[string]any{
					"protocolVersion": mcpscope.ProtocolVersion,
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "stdio-stub", "version": "0.0.1"},
				},
			})
		case mcpscope.MethodToolsList:
			write(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"result": map[string]any{
					"tools": []any{map[string]any{"name": "list_items", "description": "echoes its arguments"}},
				},
			})
		case mcpscope.MethodToolsCall:
			var params struct {
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(msg.Params, &params)
			write(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"result":  map[string]any{"echoed": params.Arguments},
			})
		case mcpscope.MethodPing:
			write(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"result":  map[string]any{},
			})
		default:
			write(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
		}
	}
	os.Exit(0)
}

func newHelperTransport(t *testing.T) *mcpscope.ProcessTransport {
	t.Helper()
	t.Setenv("MCPSCOPE_STDIO_HELPER", "1")

	command := os.Args[0] + " -test.run=TestStdioHelperProcess"
	transport, err := mcpscope.NewProcessTransport(command,
		mcpscope.WithProcessTimeout(5*time.Second),
		mcpscope.WithProcessTermGrace(time.Second),
	)
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	return transport
}

func TestProcessTransportEndToEnd(t *testing.T) {
	transport := newHelperTransport(t)
	client := mcpscope.NewClient(transport)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	caps, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if _, ok := caps["tools"]; !ok {
		t.Errorf("capabilities missing tools entry: %v", caps)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 1 || tools[0]["name"] != "list_items" {
		t.Fatalf("unexpected tools: %v", tools)
	}

	result, err := client.CallTool(ctx, "list_items", map[string]any{"msg": "hello"})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	echoed, ok := result["echoed"].(map[string]any)
	if !ok || echoed["msg"] != "hello" {
		t.Errorf("tool result mismatch: %v", result)
	}

	if !client.Ping(ctx) {
		t.Error("ping should succeed against live process")
	}
}

func TestDiscoveryTickleOverProcessTransport(t *testing.T) {
	transport := newHelperTransport(t)
	client := mcpscope.NewClient(transport)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	discovery := mcpscope.NewDiscovery(client, mcpscope.WithVerbosity(0))
	result, err := discovery.DiscoverAll(ctx)
	if err != nil {
		t.Fatalf("failed to discover: %v", err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("tool count. Got %d, want 1: %v", len(result.Tools), result.Tools)
	}

	projected := discovery.Project(result.Tools)
	if len(projected[0]) != 1 || projected[0]["name"] != "list_items" {
		t.Errorf("verbosity 0 should keep the name only, got %v", projected[0])
	}

	probes := discovery.TickleTools(ctx, result.Tools)
	if len(probes) != 1 {
		t.Fatalf("probe count. Got %d, want 1: %v", len(probes), probes)
	}
	probe := probes[0]
	if probe.Tool != "list_items" {
		t.Errorf("probed tool. Got %q, want %q", probe.Tool, "list_items")
	}
	if probe.Outcome != mcpscope.TickleSuccess {
		t.Errorf("probe outcome. Got %q, want %q (%s)", probe.Outcome, mcpscope.TickleSuccess, probe.Detail)
	}

	// The stub echoes whatever arguments it was called with; the probe must
	// have sent an empty object.
	echoed, ok := probe.Result["echoed"].(map[string]any)
	if !ok || len(echoed) != 0 {
		t.Errorf("probe should call with empty arguments, stub echoed %v", probe.Result["echoed"])
	}
}

func TestProcessTransportCloseIsIdempotent(t *testing.T) {
	transport := newHelperTransport(t)
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestNewProcessTransportRejectsTraversal(t *testing.T) {
	_, err := mcpscope.NewProcessTransport("../evil --flag")
	if err == nil {
		t.Fatal("expected error for upward path traversal")
	}
	if got := mcpscope.KindOf(err); got != mcpscope.KindValidation {
		t.Errorf("error kind. Got %q, want %q", got, mcpscope.KindValidation)
	}
}

func TestNewProcessTransportRejectsEmptyCommand(t *testing.T) {
	if _, err := mcpscope.NewProcessTransport(""); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := mcpscope.NewProcessTransport("   "); err == nil {
		t.Fatal("expected error for blank command")
	}
}

func TestNewProcessTransportRejectsBadQuoting(t *testing.T) {
	if _, err := mcpscope.NewProcessTransport("server 'unterminated"); err == nil {
		t.Fatal("expected error for unbalanced quoting")
	}
}

func TestProcessTransportSendBeforeConnect(t *testing.T) {
	transport, err := mcpscope.NewProcessTransport("cat")
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	err = transport.Send(context.Background(), mcpscope.JSONRPCMessage{
		JSONRPC: mcpscope.JSONRPCVersion,
		Method:  "ping",
		ID:      "1",
	})
	if err == nil {
		t.Fatal("expected error for send before connect")
	}
	if got := mcpscope.KindOf(err); got != mcpscope.KindConnection {
		t.Errorf("error kind. Got %q, want %q", got, mcpscope.KindConnection)
	}
}
