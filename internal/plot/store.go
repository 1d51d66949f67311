package plot

import (
	"sort"
	"sync"
)

// Store is the in-process, single-writer plot database. It is the "plain
// database container" external collaborator made concrete: a sortable,
// iterable sequence of records with flags. It is safe for concurrent use
// from the control surface (read-only summaries) but the replication core
// is the sole writer.
type Store struct {
	mu    sync.RWMutex
	plots []DronePlot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends a new record, as the external simulator would.
func (s *Store) Add(p DronePlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plots = append(s.plots, p)
}

// AddReplicated inserts a record without FlagNew, as C5 does when installing
// plots received from a peer.
func (s *Store) AddReplicated(p DronePlot) {
	p.ClearNew()
	s.Add(p)
}

// Len reports the number of records in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plots)
}

// SortByTimestamp sorts the store ascending by Timestamp, matching the
// ordering the deconfliction engine requires before it clusters records.
func (s *Store) SortByTimestamp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.SliceStable(s.plots, func(i, j int) bool {
		return s.plots[i].Timestamp < s.plots[j].Timestamp
	})
}

// WithLock runs fn with the store's write lock held, giving the
// deconfliction engine (and pruning passes) exclusive access to mutate
// records and the slice in place during a single pass.
func (s *Store) WithLock(fn func(plots []DronePlot) []DronePlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plots = fn(s.plots)
}

// Snapshot returns a copy of the current records, safe for the caller to
// range over without holding the store's lock.
func (s *Store) Snapshot() []DronePlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DronePlot, len(s.plots))
	copy(out, s.plots)
	return out
}

// PruneSkewed removes non-NEW records that share (drone_id, latitude,
// longitude) with an earlier kept record and whose timestamp differs from
// it by less than tolerance seconds, identical timestamps included; node_id
// is not compared. It keeps the first occurrence of each group and drops
// the rest. Supplemental cleanup, not part of the deconfliction algorithm
// proper (see SPEC_FULL.md §3.1).
func (s *Store) PruneSkewed(tolerance int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := make([]DronePlot, 0, len(s.plots))
	dropped := make([]bool, len(s.plots))

	for i := range s.plots {
		if dropped[i] {
			continue
		}
		a := s.plots[i]
		if a.IsNew() {
			continue
		}
		for j := i + 1; j < len(s.plots); j++ {
			if dropped[j] {
				continue
			}
			b := s.plots[j]
			if b.IsNew() {
				continue
			}
			if a.DroneID != b.DroneID || a.Latitude != b.Latitude || a.Longitude != b.Longitude {
				continue
			}
			diff := a.Timestamp - b.Timestamp
			if diff < 0 {
				diff = -diff
			}
			if diff < tolerance {
				dropped[j] = true
				removed++
			}
		}
	}
	for i, p := range s.plots {
		if !dropped[i] {
			kept = append(kept, p)
		}
	}
	s.plots = kept
	return removed
}

// PruneExact removes records that are bit-identical in
// (drone_id, node_id, latitude, longitude, timestamp) beyond the first
// occurrence. Intended to run once at shutdown (see SPEC_FULL.md §3.1).
func (s *Store) PruneExact() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[dedupKey]struct{}, len(s.plots))
	kept := make([]DronePlot, 0, len(s.plots))
	removed := 0
	for _, p := range s.plots {
		key := dedupKey{p.DroneID, p.NodeID, p.Timestamp, p.Latitude, p.Longitude}
		if _, ok := seen[key]; ok {
			removed++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, p)
	}
	s.plots = kept
	return removed
}

type dedupKey struct {
	droneID   uint32
	nodeID    uint32
	timestamp int32
	lat       float64
	lon       float64
}
