package benefitdispatch

import (
	"fmt"
	"sync"
)

// Registry maps benefit_type to its Handler. Handlers self-register during
// startup wiring.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for benefitType. Registering the same type twice
// panics: a duplicate registration is a boot-time wiring bug, not a runtime
// condition to recover from.
func (r *Registry) Register(benefitType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[benefitType]; exists {
		panic(fmt.Sprintf("benefit handler already registered: %s", benefitType))
	}
	r.handlers[benefitType] = h
}

// Lookup returns the handler for benefitType, or false if none is
// registered.
func (r *Registry) Lookup(benefitType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[benefitType]
	return h, ok
}
