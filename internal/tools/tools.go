// Package tools defines the tool registry the retriever calls through and
// the structured result every tool call produces.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// Tool is a callable action exposed to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// Textual marks handlers that answer in the "[STATUS]: X [RESULT]: Y"
	// convention. Output of other handlers is evidence and is returned
	// verbatim, whatever it contains.
	Textual bool `json:"-"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the available tools in registration order.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Instructions renders the tool catalogue for a system prompt.
func (r *Registry) Instructions() string {
	var b strings.Builder
	b.WriteString("## Tool Functions:\n")
	b.WriteString("The following tool functions are available in the format of\n```\n")
	b.WriteString("{index}. {function name}: {function description}\n")
	b.WriteString("    {argument1 name} ({argument type}): {argument description}\n")
	b.WriteString("    {argument2 name} ({argument type}): {argument description}\n...\n```\n\n")

	for i, name := range r.order {
		t := r.tools[name]
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t.Name, t.Description)
		props, _ := t.Parameters["properties"].(map[string]any)
		for _, arg := range sortedArgs(t.Parameters) {
			spec, _ := props[arg].(map[string]any)
			typ, _ := spec["type"].(string)
			desc, _ := spec["description"].(string)
			fmt.Fprintf(&b, "    %s (%s): %s\n", arg, typ, desc)
		}
	}
	return b.String()
}

// CallingFormat is the hint for the "function" field of a reply.
func (r *Registry) CallingFormat() string {
	return `{"name": "{function name}", "arguments": {"{argument1 name}": xxx, "{argument2 name}": xxx}}`
}

// sortedArgs lists required arguments first, then optional ones, each
// group alphabetical.
func sortedArgs(params map[string]any) []string {
	props, _ := params["properties"].(map[string]any)
	required := map[string]bool{}
	for _, r := range requiredArgs(params) {
		required[r] = true
	}

	var req, opt []string
	for name := range props {
		if required[name] {
			req = append(req, name)
		} else {
			opt = append(opt, name)
		}
	}
	slices.Sort(req)
	slices.Sort(opt)
	return append(req, opt...)
}

func requiredArgs(params map[string]any) []string {
	switch v := params["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Call is a decoded function call from a model reply.
type Call struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// DecodeCall reads a call from the "function" field of a parsed reply.
func DecodeCall(v any) (Call, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Call{}, fmt.Errorf("function should be a dict with name and arguments, not %T", v)
	}
	name, _ := m["name"].(string)
	if name == "" {
		return Call{}, fmt.Errorf("function is missing its name")
	}
	args, _ := m["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return Call{Name: name, Arguments: args}, nil
}

// Execute runs call and returns its structured result. Every failure
// (unknown tool, missing argument, handler error, a fail status from a
// Textual handler) is reported as a fail result rather than an error.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	tool := r.tools[call.Name]
	if tool == nil {
		err := &ErrToolUnavailable{ToolName: call.Name}
		return Result{Status: StatusFail, Payload: err.Error(), Err: err}
	}

	for _, req := range requiredArgs(tool.Parameters) {
		if _, ok := call.Arguments[req]; !ok {
			err := fmt.Errorf("missing required argument %q for %s", req, call.Name)
			return Result{Status: StatusFail, Payload: err.Error(), Err: err}
		}
	}

	logger := r.logger.With(
		"session_id", SessionIDFromContext(ctx),
		"subject", SubjectFromContext(ctx),
		"tool", call.Name,
	)
	logger.Debug("executing tool", "args", call.Arguments)
	out, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		logger.Info("tool failed", "error", err)
		return Result{Status: StatusFail, Payload: err.Error(), Err: err}
	}
	if tool.Textual {
		status, payload := ParseResponse(out)
		return Result{Status: status, Payload: payload}
	}
	return Result{Status: StatusSuccess, Payload: out}
}

// StringArg returns args[key] as a trimmed string.
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// IntArg returns args[key] as an int, or def when absent or invalid.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string // JSON schema type: string, integer, boolean
	Description string
	Required    bool
}

// Object builds the JSON schema of a tool taking params.
func Object(params ...Param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
