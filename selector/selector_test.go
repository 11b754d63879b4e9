package selector

import (
	"fmt"
	"testing"
)

var testEndpoints = map[string]map[string]string{
	"tcp@:8001": {"weight": "10"},
	"tcp@:8002": {"weight": "5"},
	"tcp@:8003": {"weight": "10"},
}

func TestRandomSelector(t *testing.T) {
	s := NewRandom()
	s.Update(testEndpoints)

	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		key, ok := s.Pick("Arith", "Add", nil)
		if !ok {
			t.Fatal("expect a pick")
		}
		counts[key]++
	}
	if len(counts) != 3 {
		t.Fatalf("expect all 3 endpoints hit over 3000 picks, got %d", len(counts))
	}
	for k, c := range counts {
		if c < 500 {
			t.Fatalf("endpoint %s picked only %d/3000 times, too skewed for uniform random", k, c)
		}
	}
}

func TestRandomSelectorEmpty(t *testing.T) {
	s := NewRandom()
	if _, ok := s.Pick("Arith", "Add", nil); ok {
		t.Fatal("expect no pick with no endpoints")
	}
}

func TestRoundRobinSelector(t *testing.T) {
	s := NewRoundRobin()
	s.Update(testEndpoints)

	seen := make([]string, 3)
	for i := range seen {
		key, ok := s.Pick("Arith", "Add", nil)
		if !ok {
			t.Fatal("expect a pick")
		}
		seen[i] = key
	}

	// cycle repeats
	key, _ := s.Pick("Arith", "Add", nil)
	if key != seen[0] {
		t.Fatalf("expect cycle back to %s, got %s", seen[0], key)
	}
}

func TestWeightedSelector(t *testing.T) {
	s := NewWeighted()
	s.Update(testEndpoints)

	counts := map[string]int{}
	n := 2500
	for i := 0; i < n; i++ {
		key, ok := s.Pick("Arith", "Add", nil)
		if !ok {
			t.Fatal("expect a pick")
		}
		counts[key]++
	}

	// Weight ratio is 10:5:10 → :8001 and :8003 should each be ~2x :8002,
	// and smooth WRR should hit this ratio close to exactly (deterministic).
	ratio := float64(counts["tcp@:8001"]) / float64(counts["tcp@:8002"])
	if ratio < 1.8 || ratio > 2.2 {
		t.Fatalf("weight ratio tcp@:8001/tcp@:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedSelectorNoBackToBackStarvation(t *testing.T) {
	// With weights 10:5:10, the lightest endpoint should never go more
	// than a few picks without being selected (that's the "smooth" in
	// smooth weighted round robin, vs. probabilistic WRR's burst risk).
	s := NewWeighted()
	s.Update(testEndpoints)

	gap := 0
	maxGap := 0
	for i := 0; i < 500; i++ {
		key, _ := s.Pick("Arith", "Add", nil)
		if key == "tcp@:8002" {
			if gap > maxGap {
				maxGap = gap
			}
			gap = 0
		} else {
			gap++
		}
	}
	if maxGap > 6 {
		t.Fatalf("tcp@:8002 starved for %d consecutive picks, smooth WRR should bound this tightly", maxGap)
	}
}

func TestConsistentHashSelector(t *testing.T) {
	s := NewConsistentHash()
	s.Update(testEndpoints)

	key1, _ := s.Pick("Arith", "Add", []byte(`{"a":1}`))
	key2, _ := s.Pick("Arith", "Add", []byte(`{"a":1}`))
	if key1 != key2 {
		t.Fatalf("same arg mapped to different endpoints: %s vs %s", key1, key2)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		arg := []byte(fmt.Sprintf(`{"a":%d}`, i))
		key, _ := s.Pick("Arith", "Add", arg)
		seen[key] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints across 100 distinct args, got %d", len(seen))
	}
}

func TestConsistentHashSelectorEmpty(t *testing.T) {
	s := NewConsistentHash()
	if _, ok := s.Pick("Arith", "Add", nil); ok {
		t.Fatal("expect no pick with no endpoints")
	}
}
