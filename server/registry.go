package server

import (
	"fmt"
	"sync"

	"rpcx/message"
)

// Handler decodes its typed argument from payload (under kind), invokes
// user logic, and encodes its typed reply under the same kind. Registered
// under "servicePath.serviceMethod" — spec.md §4.5.
type Handler func(payload []byte, kind message.SerializeKind) ([]byte, error)

// registry is the process-wide mapping from "path.method" to Handler.
// RW-locked: registrations happen at startup, lookups happen on every
// request (spec.md §5).
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func routeKey(servicePath, serviceMethod string) string {
	return servicePath + "." + serviceMethod
}

func (r *registry) register(servicePath, serviceMethod string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[routeKey(servicePath, serviceMethod)] = h
}

func (r *registry) lookup(servicePath, serviceMethod string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[routeKey(servicePath, serviceMethod)]
	return h, ok
}

// notFoundError is the human-readable message placed under
// message.ErrorMetaKey when a request names an unregistered
// (servicePath, serviceMethod) pair.
func notFoundError(servicePath, serviceMethod string) error {
	return fmt.Errorf("service %s.%s not found", servicePath, serviceMethod)
}
