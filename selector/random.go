package selector

import "math/rand"

// RandomSelector picks uniformly among known endpoints, adapted from the
// teacher's WeightedRandomBalancer stripped of the weight term — spec.md
// §4.6 "Random" has no weighting, unlike "Weighted smooth".
type RandomSelector struct {
	endpointSet
}

func NewRandom() *RandomSelector { return &RandomSelector{} }

func (s *RandomSelector) Update(endpoints map[string]map[string]string) {
	s.endpointSet.update(endpoints)
}

func (s *RandomSelector) Pick(servicePath, serviceMethod string, arg []byte) (string, bool) {
	eps := s.get()
	if len(eps) == 0 {
		return "", false
	}
	return eps[rand.Intn(len(eps))].Key, true
}

func (s *RandomSelector) Name() string { return "Random" }
