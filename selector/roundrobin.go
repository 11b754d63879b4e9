package selector

import "sync/atomic"

// RoundRobinSelector cycles through the known endpoints in order, using an
// atomic counter for lock-free selection — unchanged in spirit from the
// teacher's loadbalance.RoundRobinBalancer.
type RoundRobinSelector struct {
	endpointSet
	counter atomic.Int64
}

func NewRoundRobin() *RoundRobinSelector { return &RoundRobinSelector{} }

func (s *RoundRobinSelector) Update(endpoints map[string]map[string]string) {
	s.endpointSet.update(endpoints)
}

func (s *RoundRobinSelector) Pick(servicePath, serviceMethod string, arg []byte) (string, bool) {
	eps := s.get()
	if len(eps) == 0 {
		return "", false
	}
	idx := s.counter.Add(1) % int64(len(eps))
	return eps[idx].Key, true
}

func (s *RoundRobinSelector) Name() string { return "RoundRobin" }
