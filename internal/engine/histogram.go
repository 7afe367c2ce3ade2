package engine

import (
	"sort"
	"sync/atomic"
)

// histogram is a fixed-bucket latency histogram in milliseconds.
// Bucket bounds are inclusive upper bounds; one implicit overflow
// bucket catches everything above the last bound. Memory is
// O(bucket count) regardless of how many values are recorded, and
// recording is a single atomic increment.
type histogram struct {
	bounds []int64
	counts []atomic.Int64 // len(bounds)+1, last is overflow
}

// DefaultBucketBoundsMs returns the default logarithmic bucket bounds,
// covering 1ms to 60s.
func DefaultBucketBoundsMs() []int64 {
	return []int64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}
}

func newHistogram(bounds []int64) *histogram {
	owned := make([]int64, len(bounds))
	copy(owned, bounds)
	return &histogram{
		bounds: owned,
		counts: make([]atomic.Int64, len(owned)+1),
	}
}

// validBucketBounds reports whether bounds are strictly ascending and positive
func validBucketBounds(bounds []int64) bool {
	if len(bounds) == 0 {
		return false
	}
	prev := int64(0)
	for _, b := range bounds {
		if b <= prev {
			return false
		}
		prev = b
	}
	return true
}

// record adds one observation. v must be non-negative.
func (h *histogram) record(v int64) {
	i := sort.Search(len(h.bounds), func(i int) bool { return h.bounds[i] >= v })
	h.counts[i].Add(1)
}

// snapshotCounts copies the current bucket counts
func (h *histogram) snapshotCounts() []int64 {
	out := make([]int64, len(h.counts))
	for i := range h.counts {
		out[i] = h.counts[i].Load()
	}
	return out
}

// percentileFromCounts estimates the q-quantile (0 < q < 1) from a
// bucket count snapshot, interpolating linearly inside the selected
// bucket. The overflow bucket is approximated by maxSeen. Returns 0
// when the snapshot is empty.
func percentileFromCounts(bounds []int64, counts []int64, q float64, maxSeen int64) float64 {
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}

	target := q * float64(total)
	if target < 1 {
		target = 1
	}

	var cum int64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if float64(cum+c) < target {
			cum += c
			continue
		}

		lower := int64(0)
		if i > 0 {
			lower = bounds[i-1]
		}
		upper := maxSeen
		if i < len(bounds) {
			upper = bounds[i]
		}
		if upper < lower {
			upper = lower
		}

		frac := (target - float64(cum)) / float64(c)
		return float64(lower) + frac*float64(upper-lower)
	}

	// Unreachable with a consistent snapshot; fall back to the max.
	return float64(maxSeen)
}
