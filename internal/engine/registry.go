package engine

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/stagewatch/stagewatch/internal/domain"
)

// registryShards is the number of independently locked shards the live
// trace map is split across. Arrival recording and timeout sweeps for
// different traces mostly proceed without contending on one lock.
const registryShards = 32

// Registry owns the in-memory lifecycle of every in-flight trace.
// Finalization happens exactly once per trace id: the finalize point is
// the deletion from the live map under the shard lock, after which the
// id is tombstoned so late arrivals cannot reopen it.
type Registry struct {
	stageCount           int
	tombstoneRetentionMs int64
	inFlight             atomic.Int64
	shards               [registryShards]registryShard
}

type registryShard struct {
	mu         sync.Mutex
	live       map[string]*traceState
	tombstones map[string]int64 // trace id -> finalized-at engine ms
}

// traceState is the mutable per-trace record. Only touched under its
// shard lock.
type traceState struct {
	arrivals    []int64 // arrival ms per stage index, -1 when absent
	arrived     int
	maxIndex    int
	outOfOrder  bool
	duplicates  uint32
	firstSeenMs int64
	lastSeenMs  int64
}

// Finalized is the immutable snapshot of a trace at the moment it left
// the live registry. Ownership passes to the caller.
type Finalized struct {
	TraceID       string
	Status        domain.TraceStatus
	Arrivals      []int64 // per stage index, -1 when absent
	ArrivedCount  int
	OutOfOrder    bool
	Duplicates    uint32
	FirstSeenMs   int64
	FinalizedAtMs int64
}

// ArrivalOutcome is what recording one arrival did. Finalized is
// non-nil only when Result is RecordResultFinalized. Reentry marks an
// arrival for an already-finalized trace; the result is then
// DuplicateArrival and nothing was mutated.
type ArrivalOutcome struct {
	Result    domain.RecordResult
	Reentry   bool
	Finalized *Finalized
}

// NewRegistry creates a registry for a pipeline with stageCount stages.
// Tombstones for finalized trace ids are kept for tombstoneRetentionMs
// of engine time and pruned during sweeps.
func NewRegistry(stageCount int, tombstoneRetentionMs int64) *Registry {
	r := &Registry{
		stageCount:           stageCount,
		tombstoneRetentionMs: tombstoneRetentionMs,
	}
	for i := range r.shards {
		r.shards[i].live = make(map[string]*traceState, 64)
		r.shards[i].tombstones = make(map[string]int64, 64)
	}
	return r
}

func (r *Registry) shardFor(traceID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(traceID))
	return &r.shards[h.Sum32()%registryShards]
}

// RecordArrival folds one stage arrival into the trace's state.
// stageIdx must be a valid pipeline index and tsMs non-negative; the
// recorder validates both. nowMs is engine time, used for staleness
// tracking and tombstoning.
//
// A duplicate stage keeps the first timestamp. An arrival whose stage
// position precedes the highest position already recorded marks the
// trace out of order but is still recorded. The arrival completing the
// full stage set finalizes the trace and removes it from the live set.
func (r *Registry) RecordArrival(traceID string, stageIdx int, tsMs, nowMs int64) ArrivalOutcome {
	sh := r.shardFor(traceID)

	sh.mu.Lock()

	if _, gone := sh.tombstones[traceID]; gone {
		sh.mu.Unlock()
		return ArrivalOutcome{Result: domain.RecordResultDuplicateArrival, Reentry: true}
	}

	st, ok := sh.live[traceID]
	created := false
	if !ok {
		st = newTraceState(r.stageCount, nowMs)
		sh.live[traceID] = st
		r.inFlight.Add(1)
		created = true
	}

	if st.arrivals[stageIdx] >= 0 {
		st.duplicates++
		sh.mu.Unlock()
		return ArrivalOutcome{Result: domain.RecordResultDuplicateArrival}
	}

	st.arrivals[stageIdx] = tsMs
	st.arrived++
	st.lastSeenMs = nowMs

	inverted := false
	if stageIdx < st.maxIndex {
		st.outOfOrder = true
		inverted = true
	} else {
		st.maxIndex = stageIdx
	}

	if st.arrived == r.stageCount {
		status := domain.TraceStatusCompleted
		if st.outOfOrder {
			status = domain.TraceStatusOutOfOrder
		}
		fin := st.snapshot(traceID, status, nowMs)
		delete(sh.live, traceID)
		sh.tombstones[traceID] = nowMs
		r.inFlight.Add(-1)
		sh.mu.Unlock()
		return ArrivalOutcome{Result: domain.RecordResultFinalized, Finalized: fin}
	}

	sh.mu.Unlock()

	switch {
	case inverted:
		return ArrivalOutcome{Result: domain.RecordResultOutOfOrderRecorded}
	case created:
		return ArrivalOutcome{Result: domain.RecordResultCreated}
	default:
		return ArrivalOutcome{Result: domain.RecordResultUpdated}
	}
}

// SweepTimeouts finalizes every in-flight trace whose time since its
// most recent arrival exceeds deadlineMs, and returns the finalized
// snapshots. A negative deadline sweeps everything, which is how a
// stopping run drains. Expired tombstones are pruned on the way.
//
// Safe to call concurrently with RecordArrival: each trace is decided
// under its shard lock, so a trace is finalized by a sweep or by an
// arrival, never both.
func (r *Registry) SweepTimeouts(nowMs, deadlineMs int64) []*Finalized {
	var out []*Finalized

	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()

		for id, st := range sh.live {
			if nowMs-st.lastSeenMs <= deadlineMs {
				continue
			}
			fin := st.snapshot(id, domain.TraceStatusTimedOut, nowMs)
			delete(sh.live, id)
			sh.tombstones[id] = nowMs
			r.inFlight.Add(-1)
			out = append(out, fin)
		}

		for id, finalizedAt := range sh.tombstones {
			if nowMs-finalizedAt > r.tombstoneRetentionMs {
				delete(sh.tombstones, id)
			}
		}

		sh.mu.Unlock()
	}

	return out
}

// InFlightCount returns the number of live traces. O(1), maintained as
// an atomic counter for health and backpressure checks.
func (r *Registry) InFlightCount() int64 {
	return r.inFlight.Load()
}

func newTraceState(stageCount int, nowMs int64) *traceState {
	arrivals := make([]int64, stageCount)
	for i := range arrivals {
		arrivals[i] = -1
	}
	return &traceState{
		arrivals:    arrivals,
		maxIndex:    -1,
		firstSeenMs: nowMs,
		lastSeenMs:  nowMs,
	}
}

// snapshot builds the immutable finalized view of the state. Caller
// holds the shard lock; the returned struct shares nothing with it.
func (st *traceState) snapshot(traceID string, status domain.TraceStatus, nowMs int64) *Finalized {
	arrivals := make([]int64, len(st.arrivals))
	copy(arrivals, st.arrivals)
	return &Finalized{
		TraceID:       traceID,
		Status:        status,
		Arrivals:      arrivals,
		ArrivedCount:  st.arrived,
		OutOfOrder:    st.outOfOrder,
		Duplicates:    st.duplicates,
		FirstSeenMs:   st.firstSeenMs,
		FinalizedAtMs: nowMs,
	}
}
