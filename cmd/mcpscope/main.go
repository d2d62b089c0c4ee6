// Command mcpscope explores MCP servers: it discovers their tools, resources
// and prompts, probes safe tools, detects protocol versions, and executes
// individual capabilities against stdio or HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpscope/mcpscope"
)

const usage = `usage: mcpscope <command> [flags] <endpoint> [args]

Commands:
  discover <endpoint>            explore the server's full capability surface
  call     <endpoint> <tool>     execute a tool (-input for arguments)
  read     <endpoint> <uri>      read a resource
  prompt   <endpoint> <name>     fetch a prompt (-input for arguments)
  ping     <endpoint>            check server liveness
  version  <endpoint>            report the detected protocol version

The endpoint is an http:// or https:// URL, or a command line to spawn as a
stdio server. Settings also come from MCPSCOPE_* environment variables and an
optional .env file.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := mcpscope.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcpscope:", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{cfg: cfg, logger: logger}

	var runErr error
	switch cmd := os.Args[1]; cmd {
	case "discover":
		runErr = app.discover(ctx, os.Args[2:])
	case "call":
		runErr = app.call(ctx, os.Args[2:])
	case "read":
		runErr = app.read(ctx, os.Args[2:])
	case "prompt":
		runErr = app.prompt(ctx, os.Args[2:])
	case "ping":
		runErr = app.ping(ctx, os.Args[2:])
	case "version":
		runErr = app.version(ctx, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "mcpscope: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if runErr != nil {
		logger.Error("command failed", "err", runErr)
		os.Exit(1)
	}
}

type app struct {
	cfg    mcpscope.Config
	logger *slog.Logger
}

// connect builds the transport for an endpoint and wraps it in a client. The
// returned cleanup closes the client and its transport.
func (a *app) connect(endpoint string) (*mcpscope.Client, func(), error) {
	transport, err := a.cfg.NewTransport(endpoint, a.logger)
	if err != nil {
		return nil, nil, err
	}

	client := mcpscope.NewClient(transport, mcpscope.WithClientLogger(a.logger))
	cleanup := func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	return client, cleanup, nil
}

func (a *app) discover(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	verbosity := fs.Int("v", a.cfg.Verbosity, "detail level, 0 to 3")
	tickle := fs.Bool("tickle", false, "probe safe tools with empty arguments")
	asJSON := fs.Bool("json", false, "emit the raw result as JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("discover needs exactly one endpoint")
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	discovery := mcpscope.NewDiscovery(client,
		mcpscope.WithVerbosity(*verbosity),
		mcpscope.WithSafeToolPatterns(a.cfg.SafeToolPatterns()...),
		mcpscope.WithDiscoveryLogger(a.logger),
	)

	result, err := discovery.DiscoverAll(ctx)
	if err != nil {
		return err
	}

	var tickles []mcpscope.TickleResult
	if *tickle {
		tickles = discovery.TickleTools(ctx, result.Tools)
	}

	if *asJSON {
		return printJSON(map[string]any{
			"server":       result.ServerInfo,
			"capabilities": result.Capabilities,
			"version":      result.Version,
			"tools":        discovery.Project(result.Tools),
			"resources":    discovery.Project(result.Resources),
			"prompts":      discovery.Project(result.Prompts),
			"errors":       result.Errors,
			"probes":       tickles,
		})
	}

	fmt.Print(discovery.Report(result))
	for _, t := range tickles {
		if t.Detail != "" {
			fmt.Printf("probe %s: %s (%s)\n", t.Tool, t.Outcome, t.Detail)
			continue
		}
		fmt.Printf("probe %s: %s\n", t.Tool, t.Outcome)
	}
	return nil
}

func (a *app) call(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	input := fs.String("input", "", `tool arguments: inline JSON, a file path, or "-" for stdin`)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("call needs an endpoint and a tool name")
	}

	arguments, err := resolveInput(*input)
	if err != nil {
		return err
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	executor := mcpscope.NewExecutor(client, mcpscope.WithExecutorLogger(a.logger))
	result, err := executor.ExecuteTool(ctx, fs.Arg(1), arguments)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) read(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("read needs an endpoint and a resource uri")
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	executor := mcpscope.NewExecutor(client, mcpscope.WithExecutorLogger(a.logger))
	result, err := executor.ExecuteResource(ctx, fs.Arg(1))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) prompt(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prompt", flag.ExitOnError)
	input := fs.String("input", "", `prompt arguments: inline JSON, a file path, or "-" for stdin`)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("prompt needs an endpoint and a prompt name")
	}

	arguments, err := resolveInput(*input)
	if err != nil {
		return err
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	executor := mcpscope.NewExecutor(client, mcpscope.WithExecutorLogger(a.logger))
	result, err := executor.ExecutePrompt(ctx, fs.Arg(1), arguments)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) ping(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("ping needs exactly one endpoint")
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := client.Initialize(ctx); err != nil {
		return err
	}
	if !client.Ping(ctx) {
		return fmt.Errorf("server did not answer ping")
	}
	fmt.Println("ok")
	return nil
}

func (a *app) version(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("version needs exactly one endpoint")
	}

	client, cleanup, err := a.connect(fs.Arg(0))
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := client.Initialize(ctx); err != nil {
		return err
	}
	return printJSON(client.VersionSummary())
}

// resolveInput turns the -input flag into a raw value for normalization. A
// lone dash reads stdin; an empty flag means no arguments.
func resolveInput(value string) (any, error) {
	if value == "-" {
		return mcpscope.InputFromReader(os.Stdin)
	}
	if value == "" {
		return nil, nil
	}
	return value, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
