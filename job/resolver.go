package job

import "sync"

// Resolver constructs collaborator objects for job factories. It is the
// seam between the engine and the application's dependency container: a
// factory asks the resolver for the services its handler needs. Must be
// safe to call from any execution goroutine.
type Resolver interface {
	// Resolve returns the object registered under name, or false.
	Resolve(name string) (any, bool)
}

// StaticResolver is a map-backed Resolver. Safe for concurrent use after
// all Provide calls have completed; typical usage provides everything at
// startup.
type StaticResolver struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewStaticResolver creates an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{services: make(map[string]any)}
}

// Provide registers a service under the given name.
func (r *StaticResolver) Provide(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

// Resolve returns the service registered under name.
func (r *StaticResolver) Resolve(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}
