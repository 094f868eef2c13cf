package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	// Params lists parameter names in declaration order; positional
	// arguments in a call bind to them left to right.
	Params  []string
	Handler func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates a registry pre-loaded with the builtin tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "echo",
		Description: "Return the given text unchanged. Useful for testing the tool channel.",
		Params:      []string{"text"},
		Handler:     handleEcho,
	})

	r.Register(&Tool{
		Name:        "clock",
		Description: "Return the current date and time.",
		Handler:     handleClock,
	})

	r.Register(&Tool{
		Name:        "calc",
		Description: "Evaluate an arithmetic expression. Supports + - * / and parentheses.",
		Params:      []string{"expression"},
		Handler:     handleCalc,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil if absent.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders a short usage catalog suitable for inclusion in a
// system prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		t := r.tools[name]
		fmt.Fprintf(&b, "%s(%s): %s\n", t.Name, strings.Join(t.Params, ", "), t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Execute runs the named tool with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	return tool.Handler(ctx, args)
}

// ExecuteCall runs a parsed invocation.
func (r *Registry) ExecuteCall(ctx context.Context, call *Invocation) (string, error) {
	return r.Execute(ctx, call.Name, call.Args)
}

// Builtin handlers

func handleEcho(ctx context.Context, args map[string]any) (string, error) {
	text, ok := args["text"].(string)
	if !ok {
		return "", fmt.Errorf("echo requires a text argument")
	}
	return text, nil
}

func handleClock(ctx context.Context, args map[string]any) (string, error) {
	return time.Now().Format("2006-01-02 15:04:05 MST"), nil
}

func handleCalc(ctx context.Context, args map[string]any) (string, error) {
	expr, ok := args["expression"].(string)
	if !ok {
		return "", fmt.Errorf("calc requires an expression argument")
	}
	result, err := evalExpr(expr)
	if err != nil {
		return "", err
	}
	// Render integers without a trailing .000000.
	if result == float64(int64(result)) {
		return fmt.Sprintf("%d", int64(result)), nil
	}
	return fmt.Sprintf("%g", result), nil
}
