package mcpscope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultSafeToolPatterns matches tool names that are presumed read-only and
// safe to invoke with empty arguments during probing. Matching is
// case-insensitive.
var DefaultSafeToolPatterns = []string{"*list*", "*status*", "*help*"}

// Verbosity bounds for capability projection.
const (
	minVerbosity = 0
	maxVerbosity = 3
)

// Discovery explores a server's full surface: capabilities, tools, resources
// and prompts, with optional active probing of safe tools.
type Discovery struct {
	client       *Client
	logger       *slog.Logger
	verbosity    int
	safePatterns []glob.Glob
	safeSources  []string
}

// DiscoveryOption configures a Discovery.
type DiscoveryOption func(*Discovery)

// WithVerbosity sets the detail level for capability projection, clamped to
// the supported range.
func WithVerbosity(level int) DiscoveryOption {
	return func(d *Discovery) {
		if level < minVerbosity {
			level = minVerbosity
		}
		if level > maxVerbosity {
			level = maxVerbosity
		}
		d.verbosity = level
	}
}

// WithSafeToolPatterns replaces the glob patterns used to decide which tools
// are safe to probe.
func WithSafeToolPatterns(patterns ...string) DiscoveryOption {
	return func(d *Discovery) {
		d.safeSources = patterns
	}
}

// WithDiscoveryLogger sets the logger for discovery operations.
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// NewDiscovery creates a discovery engine on top of an initialized or
// uninitialized client. Unparseable safe-tool patterns are skipped with a
// warning rather than failing construction.
func NewDiscovery(client *Client, options ...DiscoveryOption) *Discovery {
	d := &Discovery{
		client:      client,
		logger:      slog.Default(),
		safeSources: DefaultSafeToolPatterns,
	}
	for _, opt := range options {
		opt(d)
	}

	for _, source := range d.safeSources {
		g, err := glob.Compile(strings.ToLower(source))
		if err != nil {
			d.logger.Warn("skipping bad safe tool pattern", "pattern", source, "err", err)
			continue
		}
		d.safePatterns = append(d.safePatterns, g)
	}

	return d
}

// DiscoveryResult aggregates everything a full exploration pass learned about
// a server. A failed branch leaves its slice empty and records the failure in
// Errors keyed by branch name; the other branches are unaffected.
type DiscoveryResult struct {
	ServerInfo   Info
	Capabilities map[string]any
	Version      map[string]any
	Tools        []map[string]any
	Resources    []map[string]any
	Prompts      []map[string]any
	Errors       map[string]string

	// Drift is a textual patch describing the gap between the capability
	// surface the server declared at initialize and the one its catalogs
	// actually back. Empty when the two agree.
	Drift string
}

// DiscoverAll initializes the connection if needed and queries the three
// capability listings concurrently. Each listing fails independently; only an
// initialization failure aborts the whole pass.
func (d *Discovery) DiscoverAll(ctx context.Context) (*DiscoveryResult, error) {
	if _, err := d.client.Initialize(ctx); err != nil {
		return nil, err
	}

	result := &DiscoveryResult{Errors: map[string]string{}}

	var mu sync.Mutex
	var wg sync.WaitGroup
	branches := []struct {
		name string
		list func(context.Context) ([]map[string]any, error)
		dst  *[]map[string]any
	}{
		{"tools", d.client.ListTools, &result.Tools},
		{"resources", d.client.ListResources, &result.Resources},
		{"prompts", d.client.ListPrompts, &result.Prompts},
	}
	for _, branch := range branches {
		wg.Add(1)
		go func(name string, list func(context.Context) ([]map[string]any, error), dst *[]map[string]any) {
			defer wg.Done()
			records, err := list(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("discovery branch failed", "branch", name, "err", err)
				result.Errors[name] = err.Error()
				*dst = []map[string]any{}
				return
			}
			*dst = records
		}(branch.name, branch.list, branch.dst)
	}
	wg.Wait()

	result.ServerInfo = d.client.ServerInfo()
	result.Capabilities = d.client.ServerCapabilities()
	result.Version = d.client.VersionSummary()

	if drift, changed := CompareCapabilities(declaredSurface(result.Capabilities), observedSurface(result)); changed {
		d.logger.Warn("server capabilities drift from its catalogs")
		result.Drift = drift
	}

	d.logger.Info("discovery complete",
		"tools", len(result.Tools),
		"resources", len(result.Resources),
		"prompts", len(result.Prompts),
		"failed_branches", len(result.Errors))
	return result, nil
}

// Project reduces raw capability records to the configured verbosity level:
// names only at level 0, descriptions and parameter names from level 1, the
// full record at level 3.
func (d *Discovery) Project(records []map[string]any) []map[string]any {
	projected := make([]map[string]any, 0, len(records))
	for _, record := range records {
		projected = append(projected, projectRecord(record, d.verbosity))
	}
	return projected
}

func projectRecord(record map[string]any, verbosity int) map[string]any {
	if verbosity >= maxVerbosity {
		return copyCapabilities(record)
	}

	out := map[string]any{}
	for _, key := range []string{"name", "uri"} {
		if v, ok := record[key]; ok {
			out[key] = v
		}
	}
	if verbosity < 1 {
		return out
	}

	for _, key := range []string{"description", "mimeType", "arguments"} {
		if v, ok := record[key]; ok {
			out[key] = v
		}
	}
	if schema, ok := record["inputSchema"].(map[string]any); ok {
		if props, ok := schema["properties"].(map[string]any); ok {
			params := make([]string, 0, len(props))
			for name := range props {
				params = append(params, name)
			}
			sort.Strings(params)
			out["parameters"] = params
		}
	}
	return out
}

// Tickle outcomes.
const (
	TickleSuccess           = "success"
	TickleFailedEmptyParams = "failed_empty_params"
	TickleError             = "error"
)

// TickleResult records the outcome of probing one tool with empty arguments.
type TickleResult struct {
	Tool    string
	Outcome string
	Detail  string
	Result  map[string]any
}

// TickleTools probes every tool whose name matches a safe pattern by calling
// it with an empty argument object, concurrently. A rejection for missing
// required parameters is a distinct outcome: it proves the tool is wired up
// and validating, which is exactly what probing is after.
func (d *Discovery) TickleTools(ctx context.Context, tools []map[string]any) []TickleResult {
	var names []string
	for _, tool := range tools {
		name, ok := tool["name"].(string)
		if !ok || name == "" {
			continue
		}
		if d.isSafeTool(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([]TickleResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = d.tickleOne(ctx, name)
		}(i, name)
	}
	wg.Wait()

	return results
}

// isSafeTool reports whether a tool name matches any safe pattern.
func (d *Discovery) isSafeTool(name string) bool {
	lowered := strings.ToLower(name)
	for _, g := range d.safePatterns {
		if g.Match(lowered) {
			return true
		}
	}
	return false
}

func (d *Discovery) tickleOne(ctx context.Context, name string) TickleResult {
	result, err := d.client.CallTool(ctx, name, map[string]any{})
	if err == nil {
		d.logger.Info("tool probe succeeded", "tool", name)
		return TickleResult{Tool: name, Outcome: TickleSuccess, Result: result}
	}

	if isInvalidParams(err) {
		d.logger.Info("tool probe rejected empty params", "tool", name)
		return TickleResult{Tool: name, Outcome: TickleFailedEmptyParams, Detail: err.Error()}
	}

	d.logger.Warn("tool probe failed", "tool", name, "err", err)
	return TickleResult{Tool: name, Outcome: TickleError, Detail: err.Error()}
}

// isInvalidParams reports whether err carries the JSON-RPC invalid params
// code.
func isInvalidParams(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Details == nil {
		return false
	}
	switch code := e.Details["code"].(type) {
	case int:
		return code == jsonRPCInvalidParamsCode
	case float64:
		return int(code) == jsonRPCInvalidParamsCode
	}
	return false
}

// declaredSurface reduces a declared capability map to the three
// catalog-backed entries, flattening nested flags so only presence is
// compared.
func declaredSurface(capabilities map[string]any) map[string]any {
	surface := map[string]any{}
	for _, key := range []string{"tools", "resources", "prompts"} {
		if _, ok := capabilities[key]; ok {
			surface[key] = map[string]any{}
		}
	}
	return surface
}

// observedSurface derives the capability surface the catalogs actually back.
// A branch that failed outright gives no evidence either way and is carried
// over from the declaration.
func observedSurface(result *DiscoveryResult) map[string]any {
	surface := map[string]any{}
	observe := func(key string, records []map[string]any) {
		if _, failed := result.Errors[key]; failed {
			if _, ok := result.Capabilities[key]; ok {
				surface[key] = map[string]any{}
			}
			return
		}
		if len(records) > 0 {
			surface[key] = map[string]any{}
		}
	}
	observe("tools", result.Tools)
	observe("resources", result.Resources)
	observe("prompts", result.Prompts)
	return surface
}

// CompareCapabilities renders the textual drift between two capability
// snapshots as a patch, for spotting servers that change their surface
// between connections. It returns false when the snapshots are identical.
func CompareCapabilities(before, after map[string]any) (string, bool) {
	a := mustPrettyJSON(before)
	b := mustPrettyJSON(after)
	if a == b {
		return "", false
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	patches := dmp.PatchMake(a, diffs)
	return dmp.PatchToText(patches), true
}

func mustPrettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Report renders a plain-text summary of a discovery pass at the configured
// verbosity.
func (d *Discovery) Report(result *DiscoveryResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Server: %s %s\n", result.ServerInfo.Name, result.ServerInfo.Version)
	if v, ok := result.Version["protocol_version"]; ok {
		fmt.Fprintf(&b, "Protocol: %v (spec %v, %v)\n",
			v, result.Version["specification_version"], result.Version["compatibility"])
	}

	writeSection(&b, "Tools", d.Project(result.Tools))
	writeSection(&b, "Resources", d.Project(result.Resources))
	writeSection(&b, "Prompts", d.Project(result.Prompts))

	if len(result.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		branches := make([]string, 0, len(result.Errors))
		for branch := range result.Errors {
			branches = append(branches, branch)
		}
		sort.Strings(branches)
		for _, branch := range branches {
			fmt.Fprintf(&b, "  %s: %s\n", branch, result.Errors[branch])
		}
	}

	if result.Drift != "" {
		b.WriteString("\nCapability drift:\n")
		b.WriteString(result.Drift)
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string, records []map[string]any) {
	fmt.Fprintf(b, "\n%s (%d):\n", title, len(records))
	for _, record := range records {
		label, _ := record["name"].(string)
		if label == "" {
			label, _ = record["uri"].(string)
		}
		if desc, ok := record["description"].(string); ok && desc != "" {
			fmt.Fprintf(b, "  - %s: %s\n", label, desc)
			continue
		}
		fmt.Fprintf(b, "  - %s\n", label)
	}
}
