package selector

import (
	"strconv"
	"sync"
)

// weightedEntry tracks the smooth-weighted-round-robin bookkeeping for one
// endpoint: its configured weight and the running "current weight" the
// algorithm adjusts on every Pick.
type weightedEntry struct {
	key             string
	currentWeight   int
	effectiveWeight int
}

// WeightedSelector implements smooth weighted round robin: spec.md §4.6
// requires this in place of the teacher's WeightedRandomBalancer, which
// picked probabilistically (a fresh rand.Intn draw per call, no memory
// between calls) and could burst-favor the heaviest endpoint several
// calls in a row. Smooth WRR instead spreads picks evenly in proportion
// to weight — the same algorithm nginx's upstream module uses.
//
// Each endpoint's metadata key "weight" sets its weight (default 1,
// parse failures fall back to 1 rather than erroring — a bad weight
// string shouldn't take an endpoint out of rotation).
type WeightedSelector struct {
	mu      sync.Mutex
	entries []*weightedEntry
	eps     endpointSet
}

func NewWeighted() *WeightedSelector { return &WeightedSelector{} }

func parseWeight(meta map[string]string) int {
	if meta == nil {
		return 1
	}
	s, ok := meta["weight"]
	if !ok {
		return 1
	}
	w, err := strconv.Atoi(s)
	if err != nil || w <= 0 {
		return 1
	}
	return w
}

func (s *WeightedSelector) Update(endpoints map[string]map[string]string) {
	s.eps.update(endpoints)
	eps := s.eps.get()

	entries := make([]*weightedEntry, 0, len(eps))
	for _, ep := range eps {
		w := parseWeight(ep.Meta)
		entries = append(entries, &weightedEntry{key: ep.Key, effectiveWeight: w})
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Pick runs one step of smooth weighted round robin: add each entry's
// effective weight to its current weight, pick the entry with the highest
// current weight, then subtract the total weight from the winner's
// current weight. Over time this visits each endpoint in proportion to
// its weight while never letting one endpoint run twice in a row unless
// it dominates the total weight.
func (s *WeightedSelector) Pick(servicePath, serviceMethod string, arg []byte) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return "", false
	}

	total := 0
	var best *weightedEntry
	for _, e := range s.entries {
		e.currentWeight += e.effectiveWeight
		total += e.effectiveWeight
		if best == nil || e.currentWeight > best.currentWeight {
			best = e
		}
	}
	best.currentWeight -= total
	return best.key, true
}

func (s *WeightedSelector) Name() string { return "WeightedSmooth" }
