package replnode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/afit-csce689/dronerepl/internal/config"
	"github.com/afit-csce689/dronerepl/internal/control"
	"github.com/afit-csce689/dronerepl/internal/cryptobox"
	"github.com/afit-csce689/dronerepl/internal/deconflict"
	"github.com/afit-csce689/dronerepl/internal/plot"
	"github.com/afit-csce689/dronerepl/internal/queue"
)

// Node wires configuration, the local store, the queue manager, the
// replication driver, and the control surface into one running process
// (C7). It owns startup and shutdown; SPEC_FULL.md §5 makes it the boundary
// between the single-goroutine replication core and everything else.
type Node struct {
	cfg    config.NodeConfig
	store  *plot.Store
	queue  *queue.Manager
	engine *deconflict.Engine
	driver *Driver
	log    zerolog.Logger
}

// NewNode builds a Node from validated configuration and the loaded shared
// key. It does not bind any socket; call Run to start the node.
func NewNode(cfg config.NodeConfig, key []byte, log zerolog.Logger) (*Node, error) {
	box, err := cryptobox.New(key)
	if err != nil {
		return nil, fmt.Errorf("replnode: %w", err)
	}

	peers := make([]queue.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, queue.Peer{ID: p.ID, Addr: p.Addr})
	}

	store := plot.NewStore()
	qm := queue.New(cfg.NodeID, box, peers, log)
	engine := deconflict.NewEngine()
	driver := NewDriver(cfg.NodeID, store, qm, engine, cfg.TimeMult, log)

	return &Node{
		cfg:    cfg,
		store:  store,
		queue:  qm,
		engine: engine,
		driver: driver,
		log:    log,
	}, nil
}

// Store exposes the node's plot store, for seeding by an external simulator
// or for tests.
func (n *Node) Store() *plot.Store {
	return n.store
}

// NodeID implements control.StatusSource.
func (n *Node) NodeID() string { return n.cfg.NodeID }

// PeerCount implements control.StatusSource.
func (n *Node) PeerCount() int { return len(n.cfg.Peers) }

// ActiveConnections implements control.StatusSource.
func (n *Node) ActiveConnections() int { return n.queue.ActiveConnections() }

// StoreSize implements control.StatusSource.
func (n *Node) StoreSize() int { return n.store.Len() }

// MasterClockState implements control.StatusSource.
func (n *Node) MasterClockState() (uint32, int32, bool) {
	return n.driver.MasterClockState()
}

// Run binds the replication listener and the control surface, runs the
// replication core in a background goroutine, and blocks until ctx is
// cancelled, at which point it shuts both down cleanly.
func (n *Node) Run(ctx context.Context) error {
	if err := n.queue.BindAndListen(n.cfg.BindAddr); err != nil {
		return err
	}
	defer n.queue.Close()

	controlServer := control.NewServer(n, n.cfg.CorsOrigins, n.log)
	httpServer := &http.Server{
		Addr:    n.cfg.ControlAddr,
		Handler: controlServer.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		n.log.Info().Str("node", n.cfg.NodeID).Str("addr", n.cfg.ControlAddr).Msg("control surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	driverDone := make(chan struct{})
	go func() {
		n.driver.Run(ctx)
		close(driverDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			n.log.Error().Str("node", n.cfg.NodeID).Err(err).Msg("control surface failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		n.log.Warn().Str("node", n.cfg.NodeID).Err(err).Msg("control surface shutdown error")
	}

	<-driverDone

	node, startTime, set := n.driver.MasterClockState()
	n.log.Info().
		Str("node", n.cfg.NodeID).
		Uint32("master_node", node).
		Int32("master_start_time", startTime).
		Bool("master_clock_set", set).
		Interface("pairwise_offsets", n.engine.Offsets()).
		Msg("node shut down")

	return nil
}
