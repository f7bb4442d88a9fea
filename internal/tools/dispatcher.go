// Package tools provides the registry and dispatcher for functions the AI
// session may call during a phone call.
//
// Each [Tool] carries its model-facing schema together with the handler that
// executes it. The [Registry] validates arguments against the tool's JSON
// Schema before invoking the handler and always answers with a JSON payload:
// unknown tools, invalid arguments, handler errors and even handler panics
// yield an error-shaped result instead of a missing response. The model can
// then explain the failure to the caller in speech.
//
// Typical usage:
//
//	reg := tools.NewRegistry()
//	err := reg.Register(tools.Tool{
//	    Name:        "check_availability",
//	    Description: "Lists free slots for a resource on a date.",
//	    Parameters:  map[string]any{"type": "object", ...},
//	    Handler:     checkAvailability,
//	})
//	sess.OnToolCall(reg.Handler())
package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"

	"github.com/MrWong99/trunkline/pkg/provider/s2s"
	"github.com/MrWong99/trunkline/pkg/types"
)

// defaultCallTimeout bounds each dispatched handler. The session's tool
// callback carries no caller context, so the deadline is applied here.
const defaultCallTimeout = 30 * time.Second

// Handler executes a tool call. args is the validated JSON argument object;
// the returned value is marshalled into the tool response by the dispatcher.
// Implementations must be safe for concurrent use and respect ctx.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes a single callable function: its model-facing schema plus the
// handler invoked when the model calls it.
type Tool struct {
	// Name is the unique identifier the model uses to call the tool.
	Name string

	// Description tells the model when and how to use the tool.
	Description string

	// Parameters is the JSON Schema for the tool's argument object.
	Parameters map[string]any

	// Handler executes the call.
	Handler Handler
}

// Option is a functional option for configuring a [Registry].
type Option func(*Registry)

// WithCallTimeout sets the deadline applied to each dispatched handler.
// The default is 30 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) { r.callTimeout = d }
}

// registeredTool pairs a Tool with its compiled argument schema.
type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the registered tools and dispatches calls to them.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]registeredTool
	callTimeout time.Duration
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:       make(map[string]registeredTool),
		callTimeout: defaultCallTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool to the registry. The tool's Parameters schema is
// compiled once here so that Dispatch only validates.
//
// Returns an error if the tool has no name or handler, if a tool with the
// same name is already registered, or if the schema does not compile.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a handler", t.Name)
	}

	schemaJSON, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("tools: marshal schema for %q: %w", t.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: tool %q already registered", t.Name)
	}
	r.tools[t.Name] = registeredTool{tool: t, schema: schema}
	return nil
}

// Declarations returns the model-facing definitions of all registered tools,
// sorted by name so session setup messages are deterministic.
func (r *Registry) Declarations() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]types.ToolDefinition, 0, len(r.tools))
	for _, rt := range r.tools {
		decls = append(decls, types.ToolDefinition{
			Name:        rt.tool.Name,
			Description: rt.tool.Description,
			Parameters:  rt.tool.Parameters,
		})
	}
	slices.SortFunc(decls, func(a, b types.ToolDefinition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return decls
}

// Dispatch runs the named tool with rawArgs and returns its response payload.
// It is total: every call produces a JSON payload, never an absence of one.
// Unknown tools, argument validation failures, handler errors and handler
// panics all come back as {"error": "..."} objects.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) json.RawMessage {
	payload, _ := r.Execute(ctx, name, rawArgs)
	return payload
}

// Execute runs the named tool like [Registry.Dispatch] and additionally
// reports whether the invocation succeeded. ok is false exactly when the
// payload is error-shaped, so callers recording invocations do not have to
// inspect the payload.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (payload json.RawMessage, ok bool) {
	r.mu.RLock()
	rt, found := r.tools[name]
	r.mu.RUnlock()

	if !found {
		slog.Warn("tools: unknown tool requested", "tool", name)
		return errorPayload(fmt.Sprintf("unknown tool %q", name)), false
	}

	if rawArgs == "" {
		rawArgs = "{}"
	}
	if !json.Valid([]byte(rawArgs)) {
		return errorPayload(fmt.Sprintf("invalid arguments for %q: not valid JSON", name)), false
	}
	if result := rt.schema.ValidateJSON([]byte(rawArgs)); !result.IsValid() {
		slog.Warn("tools: argument validation failed", "tool", name, "errors", fmt.Sprint(result.Errors))
		return errorPayload(fmt.Sprintf("invalid arguments for %q: %v", name, result.Errors)), false
	}

	start := time.Now()
	value, err := r.invoke(ctx, rt.tool, json.RawMessage(rawArgs))
	elapsed := time.Since(start)

	if err != nil {
		slog.Warn("tools: tool call failed", "tool", name, "duration", elapsed, "error", err)
		return errorPayload(err.Error()), false
	}

	payload, err = json.Marshal(value)
	if err != nil {
		slog.Error("tools: result not marshallable", "tool", name, "error", err)
		return errorPayload(fmt.Sprintf("tool %q produced an unencodable result", name)), false
	}
	slog.Debug("tools: tool call completed", "tool", name, "duration", elapsed)
	return payload, true
}

// invoke runs the handler with panic recovery. A panicking handler yields an
// error result instead of crashing the call.
func (r *Registry) invoke(ctx context.Context, t Tool, args json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tools: handler panic", "tool", t.Name, "panic", rec)
			value = nil
			err = fmt.Errorf("tool %q panicked: %v", t.Name, rec)
		}
	}()
	return t.Handler(ctx, args)
}

// CallTimeout returns the deadline applied to each dispatched handler.
func (r *Registry) CallTimeout() time.Duration {
	return r.callTimeout
}

// Handler adapts the registry into a [s2s.ToolCallHandler]. Each call gets
// its own deadline because the session callback carries no caller context.
// The returned handler never reports an error: failures are already encoded
// in the payload so the model can voice them.
func (r *Registry) Handler() s2s.ToolCallHandler {
	return func(name, args string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
		defer cancel()
		return string(r.Dispatch(ctx, name, args)), nil
	}
}

// errorPayload builds the {"error": msg} response object.
func errorPayload(msg string) json.RawMessage {
	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		// Marshalling a plain string cannot fail; this is unreachable.
		return json.RawMessage(`{"error": "internal dispatcher error"}`)
	}
	return payload
}
