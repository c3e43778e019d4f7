package job

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw input
// blob and returns the execution result. Returning a non-nil error is
// equivalent to returning Failed(err.Error()).
type HandlerFunc func(ctx context.Context, input []byte) (Result, error)

// Factory builds a handler for one execution, pulling any services the
// handler needs from the resolver. Registration is explicit at startup;
// there is no runtime type scanning.
type Factory func(r Resolver) (HandlerFunc, error)

// Registry maps symbolic job type names to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register binds a factory to a job type name, replacing any previous
// binding.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory for the given job type name.
// Returns false if none is registered.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns all registered job type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Definition is a typed job definition. T is the input type, decoded
// from the stored blob by the definition's codec before the handler runs.
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler processes the decoded input. Used when Build is nil.
	Handler func(ctx context.Context, input T) (Result, error)

	// Build constructs the handler per execution with access to the
	// resolver, for jobs that need injected services. Takes precedence
	// over Handler.
	Build func(r Resolver) (func(ctx context.Context, input T) (Result, error), error)

	// Codec decodes the input blob. Nil means DefaultCodec.
	Codec Codec
}

// NewDefinition creates a typed job definition around a plain handler.
func NewDefinition[T any](name string, handler func(ctx context.Context, input T) (Result, error)) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a factory that decodes the input blob into T
// before calling it.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	codec := def.Codec
	if codec == nil {
		codec = DefaultCodec
	}

	factory := func(res Resolver) (HandlerFunc, error) {
		handler := def.Handler
		if def.Build != nil {
			built, err := def.Build(res)
			if err != nil {
				return nil, fmt.Errorf("build job %q: %w", def.Name, err)
			}
			handler = built
		}
		if handler == nil {
			return nil, fmt.Errorf("job %q has no handler", def.Name)
		}

		return func(ctx context.Context, input []byte) (Result, error) {
			var t T
			if len(input) > 0 {
				if err := codec.Unmarshal(input, &t); err != nil {
					return Result{}, fmt.Errorf("decode input for job %q: %w", def.Name, err)
				}
			}
			return handler(ctx, t)
		}, nil
	}

	r.Register(def.Name, factory)
}

// RegisterFunc registers an untyped job: a handler that takes no input.
func RegisterFunc(r *Registry, name string, fn func(ctx context.Context) (Result, error)) {
	r.Register(name, func(Resolver) (HandlerFunc, error) {
		return func(ctx context.Context, _ []byte) (Result, error) {
			return fn(ctx)
		}, nil
	})
}
