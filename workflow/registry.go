package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Validator checks a JSON document against a workflow's declared schema.
type Validator func(data json.RawMessage) error

// SchemaOf returns a Validator that requires the document to decode
// strictly into T (unknown fields rejected).
func SchemaOf[T any]() Validator {
	return func(data json.RawMessage) error {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		var v T
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil
	}
}

// HandlerFunc is the raw workflow handler signature: a sequence of
// Step/StepResult/MapStep calls that turns input into output.
type HandlerFunc func(wf *Workflow, input json.RawMessage) (json.RawMessage, error)

// Definition declares a runnable workflow: its name, input/output
// contracts, handler, and wall-clock timeout.
type Definition struct {
	Name           string
	Timeout        time.Duration
	ValidateInput  Validator
	ValidateOutput Validator
	Handler        HandlerFunc
}

// NewDefinition builds a typed workflow definition. Input is strictly
// decoded into T before the handler runs; the handler's R return value
// is marshaled as the run output.
func NewDefinition[T, R any](name string, timeout time.Duration, handler func(wf *Workflow, input T) (R, error)) *Definition {
	return &Definition{
		Name:           name,
		Timeout:        timeout,
		ValidateInput:  SchemaOf[T](),
		ValidateOutput: SchemaOf[R](),
		Handler: func(wf *Workflow, input json.RawMessage) (json.RawMessage, error) {
			var in T
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			out, err := handler(wf, in)
			if err != nil {
				return nil, err
			}
			encoded, encErr := json.Marshal(out)
			if encErr != nil {
				return nil, fmt.Errorf("encode output: %w", encErr)
			}
			return encoded, nil
		},
	}
}

// Registry holds registered workflow definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. A later registration with the same name
// replaces the earlier one.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered workflow names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
