package deconflict

import (
	"testing"

	"github.com/afit-csce689/dronerepl/internal/plot"
	"github.com/afit-csce689/dronerepl/internal/testutil/testlog"
)

func TestFloorToEpoch(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		in   int32
		want int32
	}{
		{0, 0},
		{3, 3},
		{8, 8},
		{9, 4},
		{13, 8},
		{1005, 5},
		{1003, 8},
		{1007, 7},
	}
	for _, tc := range tests {
		if got := floorToEpoch(tc.in); got != tc.want {
			t.Fatalf("floorToEpoch(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestThreeNodeClockSkewConverges(t *testing.T) {
	testlog.Start(t)
	store := plot.NewStore()
	store.AddReplicated(plot.NewDronePlot(42, 1, 1005, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(42, 2, 1003, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(42, 3, 1007, 10.0, 20.0))

	e := NewEngine()
	result := e.Run(store)

	if result.ClustersFound != 1 {
		t.Fatalf("expected 1 cluster, got %d", result.ClustersFound)
	}

	node, startTime, set := e.MasterClockState()
	if !set {
		t.Fatalf("expected master clock to be set")
	}
	if node != 3 {
		t.Fatalf("expected master clock node 3, got %d", node)
	}
	if startTime != 7 {
		t.Fatalf("expected master_start_time 7, got %d", startTime)
	}

	for _, p := range store.Snapshot() {
		if p.Timestamp != 1007 {
			t.Fatalf("expected all timestamps pulled to 1007, got %d for node %d", p.Timestamp, p.NodeID)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	testlog.Start(t)
	store := plot.NewStore()
	store.AddReplicated(plot.NewDronePlot(42, 1, 1005, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(42, 2, 1003, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(1, 9, 50, 1.0, 2.0))

	e := NewEngine()
	e.Run(store)
	first := store.Snapshot()

	e.Run(store)
	second := store.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("store length changed across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("record %d changed on second run: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestNewRecordsAreNeverClustered(t *testing.T) {
	testlog.Start(t)
	store := plot.NewStore()
	store.Add(plot.NewDronePlot(42, 1, 1005, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(42, 2, 1003, 10.0, 20.0))

	e := NewEngine()
	result := e.Run(store)

	// The replicated record forms a singleton cluster; the NEW record joins
	// no cluster.
	if result.ClustersFound != 1 {
		t.Fatalf("expected only the replicated record's singleton cluster, got %d", result.ClustersFound)
	}
	for _, p := range store.Snapshot() {
		if p.NodeID == 1 && p.Timestamp != 1005 {
			t.Fatalf("NEW record's timestamp should be untouched, got %d", p.Timestamp)
		}
	}
}

func TestDifferentCoordinatesDoNotCluster(t *testing.T) {
	testlog.Start(t)
	store := plot.NewStore()
	store.AddReplicated(plot.NewDronePlot(42, 1, 1005, 10.0, 20.0))
	store.AddReplicated(plot.NewDronePlot(42, 2, 1003, 11.0, 21.0))

	e := NewEngine()
	result := e.Run(store)

	if result.ClustersFound != 2 {
		t.Fatalf("expected 2 singleton clusters, got %d", result.ClustersFound)
	}
}

func TestOffsetsAreAdvisoryAndDoNotAffectElection(t *testing.T) {
	testlog.Start(t)
	store := plot.NewStore()
	store.AddReplicated(plot.NewDronePlot(7, 1, 100, 5.0, 6.0))
	store.AddReplicated(plot.NewDronePlot(7, 2, 95, 5.0, 6.0))

	e := NewEngine()
	e.Run(store)

	offsets := e.Offsets()
	if len(offsets) == 0 {
		t.Fatalf("expected at least one recorded pairwise offset")
	}
	node, _, set := e.MasterClockState()
	if !set || node != 1 {
		t.Fatalf("expected node 1 elected master regardless of offsets, got node=%d set=%v", node, set)
	}
}
