package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/agentcheck/agentcheck/internal/core"
)

// Args are tool arguments as decoded from the model's JSON.
type Args map[string]any

// Result is the mapping of result fields a handler returns.
type Result map[string]any

// Handler executes a tool with arguments that already passed schema validation.
type Handler func(ctx context.Context, args Args) (Result, error)

// Call is a tool call whose name resolved and whose arguments validated.
type Call struct {
	Name string
	Args Args
}

type entry struct {
	def     Definition
	handler Handler
}

// Registry maps tool names to handlers and declared schemas. It is pure dispatch
// plus validation; register everything at start-up, then Freeze and share it.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	order  []string
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, ok := r.tools[def.Name]; ok {
		return &DuplicateToolError{Name: def.Name}
	}
	r.tools[def.Name] = entry{def: def, handler: handler}
	r.order = append(r.order, def.Name)
	return nil
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definition returns the declared definition for name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.def, ok
}

// ToolDefinitions returns the full schema set offered to the model, in registration order.
func (r *Registry) ToolDefinitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]core.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def.ToolDefinition())
	}
	return defs
}

// Prepare resolves name and validates the raw JSON arguments without running the handler.
func (r *Registry) Prepare(name, argsJSON string) (Call, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Call{}, &UnknownToolError{Name: name, Known: r.Names()}
	}
	args, err := decodeArgs(name, argsJSON)
	if err != nil {
		return Call{}, err
	}
	if err := e.def.Validate(args); err != nil {
		return Call{}, err
	}
	return Call{Name: name, Args: args}, nil
}

// Execute runs the handler for a prepared call. Handler errors and panics
// are returned as *HandlerError.
func (r *Registry) Execute(ctx context.Context, call Call) (res Result, err error) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: call.Name, Known: r.Names()}
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[TOOLS] %s panicked: %v", call.Name, p)
			res, err = nil, &HandlerError{Tool: call.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	res, err = e.handler(ctx, call.Args)
	if err != nil {
		return nil, &HandlerError{Tool: call.Name, Err: err}
	}
	if res == nil {
		res = Result{}
	}
	return res, nil
}

// Dispatch looks up, validates and executes a tool in one step.
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) (Result, error) {
	call, err := r.Prepare(name, argsJSON)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, call)
}

func decodeArgs(tool, argsJSON string) (Args, error) {
	raw := strings.TrimSpace(argsJSON)
	if raw == "" || raw == "null" {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &InvalidArgumentsError{Tool: tool, Reason: "arguments are not a JSON object: " + err.Error()}
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}
