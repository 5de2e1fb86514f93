// Package stepflow provides a top-level convenience entry point for
// building a durable workflow engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/stepflow"
//
//	engine := stepflow.New()
//	engine.Register(workflow.NewDefinition("hello", time.Minute, handler))
//	handle, err := engine.Start(ctx, "hello", input)
//
// This is a thin wrapper around [workflow.Runner] with an in-memory
// store; use the workflow package directly for persistent backends.
package stepflow

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/workflow"
)

// Engine bundles a registry, a store, and a runner.
type Engine struct {
	registry *workflow.Registry
	runner   *workflow.Runner
}

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	store   workflow.Store
	emitter workflow.RunEmitter
	logger  *zap.Logger
}

// WithStore sets the checkpoint store. Defaults to an in-memory store.
func WithStore(store workflow.Store) Option {
	return func(o *options) { o.store = store }
}

// WithEmitter sets the run event emitter (metrics hook).
func WithEmitter(emitter workflow.RunEmitter) Option {
	return func(o *options) { o.emitter = emitter }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a workflow engine.
func New(opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = workflow.NewMemoryStore()
	}

	registry := workflow.NewRegistry()
	return &Engine{
		registry: registry,
		runner:   workflow.NewRunner(registry, o.store, o.emitter, o.logger),
	}
}

// Register adds a workflow definition.
func (e *Engine) Register(def *workflow.Definition) {
	e.registry.Register(def)
}

// Start begins a new run of the named workflow.
func (e *Engine) Start(ctx context.Context, name string, input json.RawMessage) (*workflow.Handle, error) {
	return e.runner.Start(ctx, name, input)
}

// Runner exposes the underlying runner for cancel/resume operations.
func (e *Engine) Runner() *workflow.Runner { return e.runner }

// Registry exposes the workflow registry.
func (e *Engine) Registry() *workflow.Registry { return e.registry }
