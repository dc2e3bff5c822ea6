// Package executor runs admitted actions. A Registry maps action names to
// handlers and validates handler params against JSON Schema before dispatch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// Handler performs one action and returns a human-readable summary.
type Handler func(ctx context.Context, req contracts.ActionRequest) (string, error)

// ValidationError reports malformed executor input.
type ValidationError struct {
	Action  contracts.ActionName
	Message string
	Cause   error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Cause }

type registration struct {
	handler Handler
	schema  *jsonschema.Schema
	hint    string
}

// Registry dispatches requests to registered handlers. Actions without a
// registration use the fallback handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[contracts.ActionName]registration
	fallback Handler
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallback replaces the handler used for unregistered actions.
func WithFallback(h Handler) Option {
	return func(r *Registry) { r.fallback = h }
}

// NewRegistry creates an empty registry whose fallback is the mock handler
// with the given latency.
func NewRegistry(latency time.Duration, opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[contracts.ActionName]registration),
		fallback: MockHandler(latency),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry returns a registry with every built-in handler registered.
func NewDefaultRegistry(latency time.Duration) (*Registry, error) {
	r := NewRegistry(latency)
	if err := r.Register(contracts.ActionVMListPath, ListPath, listPathSchema,
		"vm.list_path requires params.path as non-empty string"); err != nil {
		return nil, err
	}
	return r, nil
}

// Register binds a handler to an action. schema, when non-empty, is a JSON
// Schema for the request params; hint, when non-empty, replaces the schema
// error as the ValidationError message.
func (r *Registry) Register(action contracts.ActionName, h Handler, schema, hint string) error {
	if h == nil {
		return errors.New("executor: nil handler")
	}
	reg := registration{handler: h, hint: hint}
	if schema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://devops-agent.schemas.local/params/%s.schema.json", action)
		if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
			return fmt.Errorf("executor: schema load failed for %s: %w", action, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("executor: schema compile failed for %s: %w", action, err)
		}
		reg.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = reg
	return nil
}

// Execute implements coordinator.Executor.
func (r *Registry) Execute(ctx context.Context, req contracts.ActionRequest) (string, error) {
	r.mu.RLock()
	reg, ok := r.handlers[req.Action]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		return fallback(ctx, req)
	}

	if reg.schema != nil {
		params := req.Params
		if params == nil {
			params = map[string]any{}
		}
		if err := reg.schema.Validate(params); err != nil {
			msg := reg.hint
			if msg == "" {
				msg = fmt.Sprintf("%s: invalid params: %v", req.Action, err)
			}
			return "", &ValidationError{Action: req.Action, Message: msg, Cause: err}
		}
	}
	return reg.handler(ctx, req)
}

// MockHandler simulates work by waiting latency, then reports success.
func MockHandler(latency time.Duration) Handler {
	return func(ctx context.Context, req contracts.ActionRequest) (string, error) {
		if latency > 0 {
			timer := time.NewTimer(latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return fmt.Sprintf("Mock executed action '%s' for environment '%s'", req.Action, req.Environment), nil
	}
}
