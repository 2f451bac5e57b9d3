package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/MimeLyc/findoc-analyzer/internal/llm"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the tools offered to one agent run. Each tool's parameter
// schema is compiled on Register, and Call rejects arguments that do not match
// it before the tool sees them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registered),
	}
}

// Register adds a tool. Names must be unique and the parameter schema must compile.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	schema, err := compileParameters(name, tool.Parameters())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = registered{tool: tool, schema: schema}
	return nil
}

func compileParameters(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		return nil, nil
	}
	url := name + ".parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(params)); err != nil {
		return nil, fmt.Errorf("tool %q: invalid parameter schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile parameter schema: %w", name, err)
	}
	return schema, nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry.tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions renders the tools in the chat-completions function format,
// ordered by name so requests are stable.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	definitions := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name].tool
		definitions = append(definitions, llm.ToolDefinition{
			Type: "function",
			Function: llm.Function{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// Call runs the named tool on raw model-supplied arguments. Unknown tools,
// malformed arguments and tool failures all come back as IsError results the
// model can read. Only a cancelled ctx is returned as an error.
func (r *Registry) Call(ctx context.Context, name, rawArgs string) (ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("Tool %q not found. Available tools: %v", name, r.Names()), nil
	}

	if len(bytes.TrimSpace([]byte(rawArgs))) == 0 {
		rawArgs = "{}"
	}
	args := json.RawMessage(rawArgs)

	if entry.schema != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return ErrorResult("Arguments for %s are not valid JSON: %v", name, err), nil
		}
		if err := entry.schema.Validate(v); err != nil {
			return ErrorResult("Arguments for %s do not match its parameters: %v", name, err), nil
		}
	}

	result, err := entry.tool.Execute(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ToolResult{}, ctxErr
		}
		return ErrorResult("Tool execution error: %v", err), nil
	}
	return result, nil
}
