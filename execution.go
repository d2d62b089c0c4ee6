package mcpscope

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Executor runs individual tools, resources and prompts with light guardrails
// around the raw client calls: flexible input handling, an advisory existence
// check with suggestions, and advisory validation of tool arguments against
// the server's published schema.
type Executor struct {
	client *Client
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger for execution operations.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor on top of client.
func NewExecutor(client *Client, options ...ExecutorOption) *Executor {
	e := &Executor{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// NormalizeInput converts whatever the caller supplied into the argument
// object a tool call needs. Maps pass through. Strings are parsed as inline
// JSON first; failing that they are treated as a path to a file whose content
// is again JSON or, as a last resort, plain text wrapped under "text". Any
// other value is wrapped under "value".
func NormalizeInput(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		return normalizeStringInput(v)
	default:
		return map[string]any{"value": v}, nil
	}
}

func normalizeStringInput(s string) (map[string]any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed, nil
	}

	path, err := sanitizePath(trimmed)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		// Not JSON and not a readable file: pass the raw text through.
		return map[string]any{"text": s}, nil
	}

	if err := json.Unmarshal(content, &parsed); err == nil {
		return parsed, nil
	}
	return map[string]any{"text": string(content)}, nil
}

// InputFromReader reads the full input payload from r, for piping arguments
// over stdin, and normalizes it.
func InputFromReader(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, validationErrorf(err, "failed to read input")
	}
	return NormalizeInput(string(data))
}

// ExecuteTool calls the named tool. The input goes through NormalizeInput.
// Before the call the executor asks the server for its tool list: an
// affirmative absence of the name is a validation error listing the names
// that do exist, while a failed or empty listing only logs a warning and the
// call proceeds, since many servers list incompletely.
func (e *Executor) ExecuteTool(ctx context.Context, name string, input any) (map[string]any, error) {
	arguments, err := NormalizeInput(input)
	if err != nil {
		return nil, err
	}

	record, err := e.checkExists(ctx, "tool", name, e.client.ListTools, "name")
	if err != nil {
		return nil, err
	}
	if record != nil {
		e.validateArguments(name, record, arguments)
	}

	e.logger.Info("executing tool", "tool", name)
	return e.client.CallTool(ctx, name, arguments)
}

// ExecuteResource reads the resource at uri, with the same advisory existence
// check as ExecuteTool.
func (e *Executor) ExecuteResource(ctx context.Context, uri string) (map[string]any, error) {
	if _, err := e.checkExists(ctx, "resource", uri, e.client.ListResources, "uri"); err != nil {
		return nil, err
	}

	e.logger.Info("reading resource", "uri", uri)
	return e.client.ReadResource(ctx, uri)
}

// ExecutePrompt fetches the named prompt with normalized arguments and the
// same advisory existence check as ExecuteTool.
func (e *Executor) ExecutePrompt(ctx context.Context, name string, input any) (map[string]any, error) {
	arguments, err := NormalizeInput(input)
	if err != nil {
		return nil, err
	}

	if _, err := e.checkExists(ctx, "prompt", name, e.client.ListPrompts, "name"); err != nil {
		return nil, err
	}

	e.logger.Info("fetching prompt", "prompt", name)
	return e.client.GetPrompt(ctx, name, arguments)
}

// checkExists looks the identifier up in the server's listing. It returns the
// matching record when found, nil when the check could not be performed, and
// a validation error carrying the known alternatives when the listing is
// non-empty and the identifier is absent.
func (e *Executor) checkExists(ctx context.Context, kind, id string, list func(context.Context) ([]map[string]any, error), key string) (map[string]any, error) {
	records, err := list(ctx)
	if err != nil {
		e.logger.Warn("existence check skipped", "kind", kind, "id", id, "err", err)
		return nil, nil
	}
	if len(records) == 0 {
		return nil, nil
	}

	known := make([]string, 0, len(records))
	for _, record := range records {
		value, ok := record[key].(string)
		if !ok {
			continue
		}
		if value == id {
			return record, nil
		}
		known = append(known, value)
	}

	return nil, validationErrorf(nil, "%s %q not found on server", kind, id).
		withDetails(map[string]any{"available": known})
}

// validateArguments checks arguments against the tool's published input
// schema when one is present. Validation is advisory: a mismatch is logged
// and the call proceeds, since servers regularly publish schemas looser or
// stricter than what they enforce.
func (e *Executor) validateArguments(name string, record map[string]any, arguments map[string]any) {
	raw, ok := record["inputSchema"].(map[string]any)
	if !ok {
		return
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(data)); err != nil {
		e.logger.Warn("unusable input schema", "tool", name, "err", err)
		return
	}
	schema, err := compiler.Compile("tool.json")
	if err != nil {
		e.logger.Warn("unusable input schema", "tool", name, "err", err)
		return
	}

	if err := schema.Validate(toPlainValue(arguments)); err != nil {
		e.logger.Warn("arguments do not match tool schema", "tool", name, "err", err)
	}
}

// toPlainValue round-trips a value through JSON so the validator sees the
// generic types it expects.
func toPlainValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return v
	}
	return plain
}
