// Package replnode implements the replication driver (C5) and the node
// supervisor (C7): the loop that ties the local store, the queue manager,
// and the deconfliction engine together, and the process-level wiring that
// owns their startup and shutdown. Grounded on the teacher's
// internal/ghost/command_loop.go reconcile-loop shape.
package replnode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afit-csce689/dronerepl/internal/deconflict"
	"github.com/afit-csce689/dronerepl/internal/observability"
	"github.com/afit-csce689/dronerepl/internal/plot"
	"github.com/afit-csce689/dronerepl/internal/queue"
)

// SecsBetweenRepl is the minimum adjusted-time gap between replication
// rounds (SPEC_FULL.md §4.5).
const SecsBetweenRepl = 20

// skewedPruneEveryCycles paces the supplemental skewed-duplicate prune
// (SPEC_FULL.md §3.1) so it does not run on every single HandleOnce tick.
const skewedPruneEveryCycles = 50

// skewedPruneTolerance is the timestamp-skew tolerance (< 7 seconds, per
// SPEC_FULL.md §3.1) under which two not-yet-bit-identical records are
// treated as duplicates.
const skewedPruneTolerance = 7

// loopSleep is the pause between HandleOnce cycles (SPEC_FULL.md §4.4).
const loopSleep = time.Millisecond

// Driver runs the core replication loop for one node.
type Driver struct {
	nodeID string
	store  *plot.Store
	queue  *queue.Manager
	engine *deconflict.Engine
	log    zerolog.Logger

	timeMult   float64
	startWall  time.Time
	lastReplAt int32
	cycleCount int
}

// NewDriver constructs a Driver for nodeID over store, dispatching through
// queue and reconciling with engine.
func NewDriver(nodeID string, store *plot.Store, q *queue.Manager, engine *deconflict.Engine, timeMult float64, log zerolog.Logger) *Driver {
	return &Driver{
		nodeID:    nodeID,
		store:     store,
		queue:     q,
		engine:    engine,
		log:       log,
		timeMult:  timeMult,
		startWall: time.Now(),
	}
}

// GetAdjustedTime returns the accelerated simulation clock: wall time
// elapsed since the driver started, scaled by the configured multiplier.
func (d *Driver) GetAdjustedTime() int32 {
	return int32(time.Since(d.startWall).Seconds() * d.timeMult)
}

// QueueNewPlots scans the store for NEW records, marshals them into one
// batch, clears NEW on each, and hands the batch to the queue manager. It
// returns the count of records queued.
func (d *Driver) QueueNewPlots() int {
	var fresh []plot.DronePlot
	d.store.WithLock(func(plots []plot.DronePlot) []plot.DronePlot {
		for i := range plots {
			if plots[i].IsNew() {
				fresh = append(fresh, plots[i])
				plots[i].ClearNew()
			}
		}
		return plots
	})
	if len(fresh) == 0 {
		return 0
	}
	d.queue.SendToAll(plot.MarshalBatch(fresh))
	observability.RecordPlotsQueued(d.nodeID, len(fresh))
	d.log.Info().Str("node", d.nodeID).Int("count", len(fresh)).Msg("queued new plots")
	return len(fresh)
}

// InstallReplPlots unmarshals a batch received from a peer and installs
// every record into the local store without the NEW flag.
func (d *Driver) InstallReplPlots(payload []byte) error {
	plots, err := plot.UnmarshalBatch(payload)
	if err != nil {
		return fmt.Errorf("replnode: install repl plots: %w", err)
	}
	for _, p := range plots {
		d.store.AddReplicated(p)
	}
	observability.RecordPlotsInstalled(d.nodeID, len(plots))
	d.log.Info().Str("node", d.nodeID).Int("count", len(plots)).Msg("installed replicated plots")
	return nil
}

// RunOnce runs a single pass of the replication loop body: HandleOnce,
// maybe QueueNewPlots, drain+install inbound payloads, deconfliction, and a
// periodic skewed-duplicate prune.
func (d *Driver) RunOnce() {
	d.queue.HandleOnce()
	observability.RecordReplicationCycle(d.nodeID)

	if now := d.GetAdjustedTime(); now-d.lastReplAt >= SecsBetweenRepl {
		d.QueueNewPlots()
		d.lastReplAt = now
	}

	for {
		peerID, payload, ok := d.queue.Pop()
		if !ok {
			break
		}
		if err := d.InstallReplPlots(payload); err != nil {
			d.log.Warn().Str("node", d.nodeID).Str("peer", peerID).Err(err).Msg("dropping malformed replication payload")
		}
	}

	result := d.engine.Run(d.store)
	if result.ClustersFound > 0 {
		observability.RecordDeconflictionClusters(d.nodeID, result.ClustersFound)
		d.log.Info().
			Str("node", d.nodeID).
			Int("clusters", result.ClustersFound).
			Uint32("master_node", result.MasterNode).
			Int32("master_start_time", result.MasterStartTime).
			Msg("deconfliction pass")
	}

	d.cycleCount++
	if d.cycleCount%skewedPruneEveryCycles == 0 {
		if removed := d.store.PruneSkewed(skewedPruneTolerance); removed > 0 {
			d.log.Info().Str("node", d.nodeID).Int("removed", removed).Msg("pruned skewed duplicates")
		}
	}
}

// Run executes RunOnce in a loop until ctx is cancelled, then performs one
// final deconfliction pass and exact-duplicate prune before returning
// (SPEC_FULL.md §5).
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.engine.Run(d.store)
			if removed := d.store.PruneExact(); removed > 0 {
				d.log.Info().Str("node", d.nodeID).Int("removed", removed).Msg("final exact-duplicate prune")
			}
			return
		default:
		}
		d.RunOnce()
		time.Sleep(loopSleep)
	}
}

// MasterClockState exposes the deconfliction engine's election outcome, for
// the control surface's /status endpoint.
func (d *Driver) MasterClockState() (node uint32, startTime int32, set bool) {
	return d.engine.MasterClockState()
}
