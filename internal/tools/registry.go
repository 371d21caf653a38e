package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

// ErrUnknownTool marks a request for a tool name nothing is registered
// under. It is a distinct failure, not a silent no-op.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool call. Implementations parse their own typed
// argument struct from raw and return a JSON-serializable result.
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

type entry struct {
	definition openai.ChatCompletionToolParam
	handler    Handler
}

// Registry maps tool names to local handlers and exposes the matching
// function schemas for the model. Registration happens at wiring time;
// after that the registry is read-only and safe for concurrent use.
type Registry struct {
	logger *zap.Logger
	order  []string
	omap   map[string]entry
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		omap:   make(map[string]entry),
	}
}

// Register adds a tool. Registering the same name twice is a wiring bug
// and panics early rather than shadowing silently.
func (r *Registry) Register(definition openai.ChatCompletionToolParam, handler Handler) {
	name := definition.Function.Name
	if _, exists := r.omap[name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", name))
	}
	r.omap[name] = entry{definition: definition, handler: handler}
	r.order = append(r.order, name)
}

// Definitions returns the function schemas in registration order.
func (r *Registry) Definitions() []openai.ChatCompletionToolParam {
	defs := make([]openai.ChatCompletionToolParam, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.omap[name].definition)
	}
	return defs
}

// Execute runs the named tool. An unknown name wraps ErrUnknownTool;
// handler errors come back as-is for the caller to record.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	e, ok := r.omap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	r.logger.Info("executing tool",
		zap.String("tool", name),
		zap.ByteString("arguments", raw))

	return e.handler(ctx, raw)
}
