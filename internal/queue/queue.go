// Package queue implements the queue manager (C4): it owns the listening
// socket, the pool of active connections, and the inbound payload queue,
// and drives every connection's FSM one step per HandleOnce cycle. Grounded
// on the teacher's internal/ghost/server.go accept loop and
// internal/mirage's dial-and-retry idiom for outbound connections.
package queue

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/afit-csce689/dronerepl/internal/conn"
	"github.com/afit-csce689/dronerepl/internal/cryptobox"
	"github.com/afit-csce689/dronerepl/internal/observability"
	"github.com/rs/zerolog"
)

// Peer names one static peer in the replication mesh.
type Peer struct {
	ID   string
	Addr string
}

type inboundItem struct {
	peerID  string
	payload []byte
}

// Manager owns the listening socket and the set of active connections for
// one node. The replication driver (C5) calls HandleOnce/SendToAll/Pop from a
// single goroutine, matching the cooperative single-threaded core
// (SPEC_FULL.md §5); activeMu guards active so the control surface (C8),
// reading ActiveConnections from its own request goroutines, never races
// with that loop (SPEC_FULL.md §5's "read under a mutex" requirement).
type Manager struct {
	ownID string
	box   *cryptobox.Box
	log   zerolog.Logger

	listener *net.TCPListener
	peers    []Peer

	activeMu sync.RWMutex
	active   []*conn.Connection

	inbound []inboundItem
}

// New constructs a Manager for ownID, authenticating every connection with
// box, against the given static peer table.
func New(ownID string, box *cryptobox.Box, peers []Peer, log zerolog.Logger) *Manager {
	return &Manager{
		ownID: ownID,
		box:   box,
		peers: peers,
		log:   log,
	}
}

// BindAndListen opens the listening socket for inbound connections.
func (m *Manager) BindAndListen(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("queue: resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("queue: listen %s: %w", addr, err)
	}
	m.listener = ln
	m.log.Info().Str("node", m.ownID).Str("addr", addr).Msg("listener bound")
	return nil
}

// Addr reports the bound listening address, useful when BindAndListen was
// given a ":0" wildcard port.
func (m *Manager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Close releases the listening socket and every active connection.
func (m *Manager) Close() error {
	m.activeMu.Lock()
	for _, c := range m.active {
		c.Close()
	}
	m.active = nil
	m.activeMu.Unlock()

	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// HandleOnce runs one cycle of the event loop: accept any pending inbound
// connection, step every active connection's FSM, collect completed
// inbound payloads, and drop terminated connections.
func (m *Manager) HandleOnce() {
	m.acceptPending()

	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	stillActive := make([]*conn.Connection, 0, len(m.active))
	for _, c := range m.active {
		c.Step()

		switch c.State() {
		case conn.StateHasData:
			m.inbound = append(m.inbound, inboundItem{peerID: c.PeerID, payload: c.InboundPayload})
			observability.RecordConnection(m.ownID, roleLabel(c.Role), "data")
			m.log.Info().Str("node", m.ownID).Str("peer", c.PeerID).Msg("connection reached has_data")
			c.Close()
		case conn.StateDisconnected:
			outcome := "disconnect"
			if c.Err() != nil {
				outcome = "error"
				m.log.Warn().Str("node", m.ownID).Str("peer", c.PeerID).Err(c.Err()).Msg("connection failed")
			}
			observability.RecordConnection(m.ownID, roleLabel(c.Role), outcome)
			c.Close()
		default:
			stillActive = append(stillActive, c)
		}
	}
	m.active = stillActive
}

func (m *Manager) acceptPending() {
	if m.listener == nil {
		return
	}
	if err := m.listener.SetDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return
	}
	c, err := m.listener.Accept()
	if err != nil {
		return
	}
	accepted := conn.NewAcceptor(c, m.ownID, m.box)

	m.activeMu.Lock()
	m.active = append(m.active, accepted)
	m.activeMu.Unlock()

	m.log.Info().Str("node", m.ownID).Msg("connection accepted")
}

// SendToAll dials every known peer not currently connected outbound and
// seeds the resulting connection with payload, to be sent once the
// handshake completes. A dial failure is logged and skipped; the next call
// retries.
func (m *Manager) SendToAll(payload []byte) {
	for _, peer := range m.peers {
		if m.hasActiveOutbound(peer.ID) {
			continue
		}
		c, err := net.DialTimeout("tcp", peer.Addr, 2*time.Second)
		if err != nil {
			m.log.Warn().Str("node", m.ownID).Str("peer", peer.ID).Err(err).Msg("dial failed, will retry next cycle")
			continue
		}
		initiator := conn.NewInitiator(c, m.ownID, peer.ID, m.box, payload)

		m.activeMu.Lock()
		m.active = append(m.active, initiator)
		m.activeMu.Unlock()

		m.log.Info().Str("node", m.ownID).Str("peer", peer.ID).Msg("connection dialled")
	}
}

func (m *Manager) hasActiveOutbound(peerID string) bool {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	for _, c := range m.active {
		if c.Role == conn.RoleInitiator && c.PeerID == peerID {
			return true
		}
	}
	return false
}

// Pop removes and returns one inbound payload, if any.
func (m *Manager) Pop() (peerID string, payload []byte, ok bool) {
	if len(m.inbound) == 0 {
		return "", nil, false
	}
	item := m.inbound[0]
	m.inbound = m.inbound[1:]
	return item.peerID, item.payload, true
}

// ActiveConnections reports how many connections are currently live, for the
// control surface's /status endpoint. Safe to call concurrently with
// HandleOnce from the control surface's request goroutines.
func (m *Manager) ActiveConnections() int {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	return len(m.active)
}

func roleLabel(r conn.Role) string {
	if r == conn.RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}
