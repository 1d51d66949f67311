// Package deconflict implements the post-ingest reconciliation pass (C6):
// clustering same-observation records reported by different nodes with
// skewed clocks, electing a master-clock node, and rewriting cluster
// timestamps to a single canonical value. It is ported directly from the
// original C++ implementation's algorithm (see DESIGN.md), not reconstructed
// from the distilled spec's prose alone.
package deconflict

import (
	"sync"

	"github.com/afit-csce689/dronerepl/internal/plot"
)

// clusterTimestampSlop is the maximum |Δtimestamp| within which two
// observations of the same drone at the same coordinates, from different
// nodes, are judged to be the same real-world event.
const clusterTimestampSlop = 11

// refAdvanceThreshold and refStep drive the monotone "overall_ref" ratchet
// that keeps successive clusters' canonical timestamps from drifting too far
// apart within one pass.
const (
	refAdvanceThreshold = 13
	refStep             = 6
	refDefaultStep      = 5
)

// pairKey identifies an unordered pair of node IDs for the pairwise offset
// tracker (SPEC_FULL.md §3.2).
type pairKey struct {
	a, b uint32
}

func makePairKey(x, y uint32) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

// Engine holds the state the deconfliction algorithm carries across calls:
// the elected master clock and the supplemental pairwise offset tracker.
// These are node-scoped fields, not process-scoped globals, so a test
// harness can run several Engines in one process (SPEC_FULL.md §9). mu
// guards every field below it so the control surface (C8) can read
// MasterClockState/Offsets from its own request goroutines while Run
// mutates them from the replication core's goroutine (SPEC_FULL.md §5).
type Engine struct {
	mu sync.RWMutex

	masterStartTime int32
	masterClockNode uint32
	startTimeWasSet bool

	offsets map[pairKey]int32
}

// NewEngine returns an Engine with no master clock elected yet.
func NewEngine() *Engine {
	return &Engine{offsets: make(map[pairKey]int32)}
}

// MasterClockState reports the engine's current election outcome.
func (e *Engine) MasterClockState() (node uint32, startTime int32, set bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.masterClockNode, e.masterStartTime, e.startTimeWasSet
}

// Offsets returns a copy of the pairwise clock-skew magnitudes observed so
// far, keyed by the two node IDs in ascending order. Supplemental
// observability only; never consulted by Run (SPEC_FULL.md §3.2).
func (e *Engine) Offsets() map[[2]uint32]int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[[2]uint32]int32, len(e.offsets))
	for k, v := range e.offsets {
		out[[2]uint32{k.a, k.b}] = v
	}
	return out
}

// floorToEpoch reduces t into the half-open interval (3, 8], the simulator's
// 5-second-cadence epoch window. Defined only for t >= 0; negative input is
// a caller contract violation (SPEC_FULL.md §4.6, §9).
func floorToEpoch(t int32) int32 {
	for t > 8 {
		t -= 5
	}
	return t
}

// Result summarizes one Run call for logging (SPEC_FULL.md §10.1).
type Result struct {
	ClustersFound   int
	MasterNode      uint32
	MasterStartTime int32
}

// Run performs one deconfliction pass over store: clustering, master-clock
// election, and timestamp rewriting. It is idempotent over an unchanged
// store (SPEC_FULL.md §8).
func (e *Engine) Run(store *plot.Store) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	store.SortByTimestamp()

	result := Result{}
	candidate := make(map[uint32]bool)
	isCandidate := func(node uint32) bool {
		v, ok := candidate[node]
		if !ok {
			return true
		}
		return v
	}

	overallRef := int32(0)
	refSet := false
	if e.startTimeWasSet {
		overallRef = e.masterStartTime
		refSet = true
	}

	store.WithLock(func(plots []plot.DronePlot) []plot.DronePlot {
		for i := range plots {
			plots[i].SetChecked(false)
		}

		for i := range plots {
			r := &plots[i]
			if r.IsNew() || r.Checked() {
				continue
			}
			r.SetChecked(true)

			cluster := []int{i}
			for j := i + 1; j < len(plots); j++ {
				r2 := &plots[j]
				if r2.IsNew() || r2.Checked() {
					continue
				}
				if !r.SameObservation(*r2) {
					continue
				}
				diff := r.Timestamp - r2.Timestamp
				if diff < 0 {
					diff = -diff
				}
				if diff < clusterTimestampSlop {
					r2.SetChecked(true)
					cluster = append(cluster, j)
				}
			}

			result.ClustersFound++

			L := plots[cluster[0]].Timestamp
			for _, idx := range cluster {
				if plots[idx].Timestamp > L {
					L = plots[idx].Timestamp
				}
			}

			for _, idx := range cluster {
				if plots[idx].Timestamp < L {
					candidate[plots[idx].NodeID] = false
				}
			}

			var clusterMasterNode uint32
			haveClusterMaster := false
			for _, idx := range cluster {
				if plots[idx].Timestamp == L && !haveClusterMaster {
					clusterMasterNode = plots[idx].NodeID
					haveClusterMaster = true
				}
			}

			for _, idx := range cluster {
				if !isCandidate(plots[idx].NodeID) {
					continue
				}
				s := floorToEpoch(L)
				if s > e.masterStartTime {
					e.masterStartTime = s
					e.masterClockNode = plots[idx].NodeID
					e.startTimeWasSet = true
				}
			}

			if haveClusterMaster {
				for _, idx := range cluster {
					node := plots[idx].NodeID
					if node == clusterMasterNode {
						continue
					}
					offset := L - plots[idx].Timestamp
					key := makePairKey(clusterMasterNode, node)
					if offset > e.offsets[key] {
						e.offsets[key] = offset
					}
				}
			}

			if refSet {
				if L > overallRef+refAdvanceThreshold {
					overallRef += refStep
				} else if L != overallRef {
					L = overallRef
				}
			}

			for _, idx := range cluster {
				plots[idx].Timestamp = L
			}
			overallRef += refDefaultStep
		}

		for i := range plots {
			plots[i].SetChecked(false)
		}
		return plots
	})

	result.MasterNode = e.masterClockNode
	result.MasterStartTime = e.masterStartTime
	return result
}
