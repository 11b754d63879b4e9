package selector

import "hash/fnv"

// ConsistentHashSelector routes by jump-consistent hash (Lamping & Veach)
// instead of the teacher's CRC32 hash ring with 100 virtual nodes per
// instance (loadbalance/consistent_hash.go). Jump hash needs no ring or
// virtual-node bookkeeping at all: given a 64-bit key and a bucket count,
// it deterministically returns a bucket in [0, count) with the same
// even-distribution and minimal-remapping properties a ring buys with
// much more state. spec.md §4.6 hashes
// "path || method || arg.into_bytes(JSON)".
type ConsistentHashSelector struct {
	endpointSet
}

func NewConsistentHash() *ConsistentHashSelector { return &ConsistentHashSelector{} }

func (s *ConsistentHashSelector) Update(endpoints map[string]map[string]string) {
	s.endpointSet.update(endpoints)
}

func (s *ConsistentHashSelector) Pick(servicePath, serviceMethod string, arg []byte) (string, bool) {
	eps := s.get()
	if len(eps) == 0 {
		return "", false
	}

	h := fnv.New64a()
	h.Write([]byte(servicePath))
	h.Write([]byte(serviceMethod))
	h.Write(arg)
	key := h.Sum64()

	idx := jumpHash(key, int32(len(eps)))
	return eps[idx].Key, true
}

func (s *ConsistentHashSelector) Name() string { return "ConsistentHash" }

// jumpHash is Google's jump consistent hash: maps key uniformly onto
// [0, buckets) such that, as buckets grows from k to k+1, only a 1/(k+1)
// fraction of keys remap — no ring, no virtual nodes, O(ln buckets) time.
func jumpHash(key uint64, buckets int32) int32 {
	var b, j int64 = -1, 0
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int32(b)
}
