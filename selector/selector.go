// Package selector implements the endpoint-picking strategies consumed by
// xclient: Random, RoundRobin, WeightedSmooth, and ConsistentHash.
//
// It replaces the teacher's loadbalance.Balancer (which picked a
// registry.ServiceInstance out of a []ServiceInstance passed in on every
// call) with a Selector that owns its own endpoint set, updated by a
// discovery.Discovery push rather than re-fetched on every pick — closer
// to how the teacher's client actually used a Balancer (cached instance
// list, refreshed by a background watch) than to the Balancer interface's
// own signature.
package selector

import "sync"

// Endpoint is one routable server: its dial key ("tcp@host:port") and
// arbitrary metadata (e.g. "weight=5") pushed by Discovery.
type Endpoint struct {
	Key  string
	Meta map[string]string
}

// Selector picks one endpoint key for a call, or reports none available.
// Pick and Update must be safe for concurrent use (spec.md §4.6).
type Selector interface {
	// Pick selects an endpoint key for the given call. arg is the
	// JSON-encoded request argument, used only by ConsistentHash.
	Pick(servicePath, serviceMethod string, arg []byte) (key string, ok bool)

	// Update replaces the known endpoint set.
	Update(endpoints map[string]map[string]string)

	Name() string
}

// snapshot converts a raw endpoints map into a stable, sorted Endpoint
// slice so every Selector implementation indexes the same set the same
// way between calls.
func snapshot(endpoints map[string]map[string]string) []Endpoint {
	out := make([]Endpoint, 0, len(endpoints))
	for k, meta := range endpoints {
		out = append(out, Endpoint{Key: k, Meta: meta})
	}
	sortEndpoints(out)
	return out
}

func sortEndpoints(eps []Endpoint) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j].Key < eps[j-1].Key; j-- {
			eps[j], eps[j-1] = eps[j-1], eps[j]
		}
	}
}

// endpointSet is the sync.RWMutex-guarded state shared by every Selector
// implementation here, mirroring the teacher's atomic-counter/RW-lock
// split in loadbalance/roundrobin.go and consistent_hash.go.
type endpointSet struct {
	mu  sync.RWMutex
	eps []Endpoint
}

func (s *endpointSet) update(endpoints map[string]map[string]string) {
	eps := snapshot(endpoints)
	s.mu.Lock()
	s.eps = eps
	s.mu.Unlock()
}

func (s *endpointSet) get() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eps
}
