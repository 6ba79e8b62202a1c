package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	noResultMessage  = "no result found"
	toolErrorMessage = "An error occurred while attempting to retrieve information related to the toolUse event."
)

// ToolHandler executes one tool invocation. content is the raw JSON string
// the model supplied as tool input. The returned value is serialized into
// the result envelope; return a string for plain text results.
type ToolHandler func(ctx context.Context, content string) (interface{}, error)

// ToolRegistry maps lower-cased tool names to handlers.
type ToolRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
}

// NewToolRegistry returns a registry preloaded with the built-in tools.
func NewToolRegistry() *ToolRegistry {
	r := &ToolRegistry{handlers: make(map[string]ToolHandler)}
	r.Register("getDateTool", getDateTool)
	return r
}

// Register adds a handler under the given name. Lookup is case-insensitive.
func (r *ToolRegistry) Register(name string, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(name)] = handler
}

// Names returns the registered tool names in no particular order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the named tool and wraps its output in a result envelope.
// Unknown tools and handler errors produce an explanatory envelope instead
// of an error so the model turn always completes.
func (r *ToolRegistry) Dispatch(ctx context.Context, name, content string, logger *zap.Logger) (string, bool) {
	r.mu.RLock()
	handler, ok := r.handlers[strings.ToLower(name)]
	r.mu.RUnlock()

	if !ok {
		logger.Warn("unknown tool requested", zap.String("tool", name))
		return encodeResult(noResultMessage), false
	}

	value, err := handler(ctx, content)
	if err != nil {
		logger.Error("tool handler failed", zap.String("tool", name), zap.Error(err))
		return encodeResult(toolErrorMessage), false
	}
	if value == nil {
		value = noResultMessage
	}
	return encodeResult(value), true
}

func encodeResult(value interface{}) string {
	raw, err := json.Marshal(map[string]interface{}{"result": value})
	if err != nil {
		raw, _ = json.Marshal(map[string]interface{}{"result": noResultMessage})
	}
	return string(raw)
}

func getDateTool(_ context.Context, _ string) (interface{}, error) {
	return time.Now().UTC().Format("Monday, 2006-01-02 15-04-05"), nil
}
