// Package conn implements the per-connection authentication/replication
// finite-state machine (C3): one state set shared by both the dialling
// initiator and the accepting acceptor, advanced one state per Step call
// the way the teacher's session client advances one blocking operation at a
// time — except here each Step call is itself non-blocking, returning
// promptly whether or not the socket had data ready, so the queue manager
// can drive many connections from one goroutine without blocking on any of
// them (SPEC_FULL.md §4.3, §5).
package conn

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/afit-csce689/dronerepl/internal/auth"
	"github.com/afit-csce689/dronerepl/internal/cryptobox"
	"github.com/afit-csce689/dronerepl/internal/frame"
)

// State is one state of the connection FSM.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateServerSendChallenge
	StateClientWaitChallenge
	StateServerWaitResponse
	StateServerSendEcho
	StateClientWaitFinal
	StateClientSendData
	StateServerWaitData
	StateClientWaitAck
	StateHasData
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateServerSendChallenge:
		return "server_send_challenge"
	case StateClientWaitChallenge:
		return "client_wait_challenge"
	case StateServerWaitResponse:
		return "server_wait_response"
	case StateServerSendEcho:
		return "server_send_echo"
	case StateClientWaitFinal:
		return "client_wait_final"
	case StateClientSendData:
		return "client_send_data"
	case StateServerWaitData:
		return "server_wait_data"
	case StateClientWaitAck:
		return "client_wait_ack"
	case StateHasData:
		return "has_data"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Role is fixed at connection creation and never changes.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

// ChallengeSize is the fixed length of every challenge in the handshake.
// The source drew these from a coarse 0-29 PRNG; this implementation draws
// them from crypto/rand (SPEC_FULL.md §9).
const ChallengeSize = 12

// readDeadline is the per-Step non-blocking read budget. It stands in for
// the socket readiness reporter the specification treats as an external
// collaborator (SPEC_FULL.md §1, §4.3): a read that would block instead
// returns promptly so HandleOnce never stalls on one connection.
const readDeadline = 1 * time.Millisecond

// Errors matching the taxonomy in SPEC_FULL.md §7. None of these propagate
// past the connection that raised them.
var (
	ErrSocket       = errors.New("conn: socket error")
	ErrFormat       = errors.New("conn: format error")
	ErrCrypto       = errors.New("conn: crypto error")
	ErrAuthMismatch = errors.New("conn: auth mismatch")
)

// Connection drives one TCP connection through the handshake and
// replication states. It owns no goroutine of its own; the queue manager
// calls Step on it from its single event loop.
type Connection struct {
	PeerID string
	Role   Role
	state  State

	conn    net.Conn
	box     *cryptobox.Box
	ownID   string
	rx      bytes.Buffer
	lastErr error

	// challenge is the 12-byte value this endpoint generated and expects
	// echoed back: Cs for the acceptor, Ci for the initiator.
	challenge []byte

	// outboundPayload is the payload an initiator sends once it reaches
	// ClientSendData, seeded at dial time by the queue manager.
	outboundPayload []byte

	// InboundPayload holds the decrypted <REP> payload once the acceptor
	// reaches HasData, ready for the queue manager to collect.
	InboundPayload []byte
}

// NewInitiator creates a connection in the Connecting state, over an
// already-dialled net.Conn, seeded with the payload to send once the
// handshake completes.
func NewInitiator(c net.Conn, ownID, peerID string, box *cryptobox.Box, payload []byte) *Connection {
	return &Connection{
		PeerID:          peerID,
		Role:            RoleInitiator,
		state:           StateConnecting,
		conn:            c,
		box:             box,
		ownID:           ownID,
		outboundPayload: payload,
	}
}

// NewAcceptor creates a connection in the Connected state, over a
// freshly-accepted net.Conn.
func NewAcceptor(c net.Conn, ownID string, box *cryptobox.Box) *Connection {
	return &Connection{
		Role:  RoleAcceptor,
		state: StateConnected,
		conn:  c,
		box:   box,
		ownID: ownID,
	}
}

// State reports the connection's current FSM state.
func (c *Connection) State() State {
	return c.state
}

// Err reports the error that caused a terminal Disconnected state, if any.
func (c *Connection) Err() error {
	return c.lastErr
}

// Close releases the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Step advances the connection by at most one state transition and returns
// promptly whether or not the socket had data ready this cycle.
func (c *Connection) Step() {
	switch c.state {
	case StateConnecting:
		c.doConnecting()
	case StateConnected:
		c.doConnected()
	case StateServerSendChallenge:
		c.doServerSendChallenge()
	case StateClientWaitChallenge:
		c.doClientWaitChallenge()
	case StateServerWaitResponse:
		c.doServerWaitResponse()
	case StateServerSendEcho:
		c.doServerSendEcho()
	case StateClientWaitFinal:
		c.doClientWaitFinal()
	case StateClientSendData:
		c.doClientSendData()
	case StateServerWaitData:
		c.doServerWaitData()
	case StateClientWaitAck:
		c.doClientWaitAck()
	case StateHasData, StateDisconnected:
		// terminal; nothing to do.
	}
}

func (c *Connection) fail(sentinel error, detail string) {
	c.lastErr = fmt.Errorf("%w: %s", sentinel, detail)
	c.state = StateDisconnected
}

// readAvailable appends whatever is currently waiting on the socket to c.rx
// without blocking past readDeadline. A timeout is not an error: it means
// "no data ready this cycle," matching the non-blocking readiness contract
// this FSM is written against.
func (c *Connection) readAvailable() error {
	buf := make([]byte, 4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return fmt.Errorf("%w: set read deadline: %v", ErrSocket, err)
	}
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.rx.Write(buf[:n])
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSocket, err)
	}
	return nil
}

func (c *Connection) write(p []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", ErrSocket, err)
	}
	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrSocket, err)
	}
	return nil
}

func generateChallenge() ([]byte, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: generate challenge: %v", ErrSocket, err)
	}
	return buf, nil
}

// authSegmentSize returns the wire length of an encrypted <AUT>challenge</AUT>
// envelope: one IV plus one CFB ciphertext block the same length as the
// plaintext tag+challenge+tag, sized by construction rather than hardcoded
// (SPEC_FULL.md §6).
func authSegmentSize() int {
	return cryptobox.IVSize + len(frame.TagAUT) + ChallengeSize + len(frame.TagAUTEnd)
}

// clearAuthSize returns the wire length of a clear (unencrypted)
// <AUT>challenge</AUT> segment.
func clearAuthSize() int {
	return len(frame.TagAUT) + ChallengeSize + len(frame.TagAUTEnd)
}

// --- Initiator states ---

func (c *Connection) doConnecting() {
	sid := frame.Wrap([]byte(c.ownID), frame.TagSID, frame.TagSIDEnd)
	if err := c.write(sid); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateClientWaitChallenge
}

func (c *Connection) doClientWaitChallenge() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	if !frame.Find(c.rx.Bytes(), frame.TagAUTEnd) {
		return
	}
	cs, err := frame.Extract(c.rx.Bytes(), frame.TagAUT, frame.TagAUTEnd)
	if err != nil {
		c.fail(ErrFormat, err.Error())
		return
	}
	c.rx.Reset()

	clearCs := frame.Wrap(cs, frame.TagAUT, frame.TagAUTEnd)
	encryptedEcho, err := c.box.Encrypt(clearCs)
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}

	ci, err := generateChallenge()
	if err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.challenge = ci
	clearCi := frame.Wrap(ci, frame.TagAUT, frame.TagAUTEnd)

	out := append(append([]byte{}, encryptedEcho...), clearCi...)
	if err := c.write(out); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateClientWaitFinal
}

func (c *Connection) doClientWaitFinal() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	if c.rx.Len() < cryptobox.IVSize {
		return
	}
	plaintext, err := c.box.Decrypt(c.rx.Bytes())
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	echoed, err := frame.Extract(plaintext, frame.TagAUT, frame.TagAUTEnd)
	if err != nil {
		// The whole envelope is sent as one write (SPEC_FULL.md §4.3); once
		// any of it has arrived, a failed extraction is a genuine format
		// error, not a sign more bytes are still coming.
		c.fail(ErrFormat, err.Error())
		return
	}
	c.rx.Reset()

	if !auth.ChallengeEqual(c.challenge, echoed) {
		c.fail(ErrAuthMismatch, "challenge echo did not match")
		return
	}
	c.state = StateClientSendData
}

func (c *Connection) doClientSendData() {
	wrapped := frame.Wrap(c.outboundPayload, frame.TagREP, frame.TagREPEnd)
	envelope, err := c.box.Encrypt(wrapped)
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	if err := c.write(envelope); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateClientWaitAck
}

func (c *Connection) doClientWaitAck() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	if c.rx.Len() < cryptobox.IVSize {
		return
	}
	// Whether or not the ack actually decrypts to <ACK>, the connection is
	// done: this is a one-shot exchange (SPEC_FULL.md §4.3).
	c.state = StateDisconnected
}

// --- Acceptor states ---

func (c *Connection) doConnected() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	if !frame.Find(c.rx.Bytes(), frame.TagSIDEnd) {
		return
	}
	peerID, err := frame.Extract(c.rx.Bytes(), frame.TagSID, frame.TagSIDEnd)
	if err != nil {
		c.fail(ErrFormat, err.Error())
		return
	}
	c.rx.Reset()
	c.PeerID = string(peerID)
	c.state = StateServerSendChallenge
}

func (c *Connection) doServerSendChallenge() {
	cs, err := generateChallenge()
	if err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.challenge = cs
	if err := c.write(frame.Wrap(cs, frame.TagAUT, frame.TagAUTEnd)); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateServerWaitResponse
}

func (c *Connection) doServerWaitResponse() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	want := authSegmentSize() + clearAuthSize()
	if c.rx.Len() < want {
		return
	}
	buf := c.rx.Bytes()
	encryptedEcho := buf[:authSegmentSize()]
	clearCi := buf[authSegmentSize():want]

	plaintext, err := c.box.Decrypt(encryptedEcho)
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	echoed, err := frame.Extract(plaintext, frame.TagAUT, frame.TagAUTEnd)
	if err != nil {
		c.fail(ErrFormat, err.Error())
		return
	}
	if !auth.ChallengeEqual(c.challenge, echoed) {
		c.fail(ErrAuthMismatch, "challenge echo did not match")
		return
	}

	ci, err := frame.Extract(clearCi, frame.TagAUT, frame.TagAUTEnd)
	if err != nil {
		c.fail(ErrFormat, err.Error())
		return
	}
	c.rx.Next(want)
	c.challenge = ci
	c.state = StateServerSendEcho
}

func (c *Connection) doServerSendEcho() {
	clear := frame.Wrap(c.challenge, frame.TagAUT, frame.TagAUTEnd)
	envelope, err := c.box.Encrypt(clear)
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	if err := c.write(envelope); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateServerWaitData
}

func (c *Connection) doServerWaitData() {
	if err := c.readAvailable(); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	if c.rx.Len() < cryptobox.IVSize {
		return
	}
	plaintext, err := c.box.Decrypt(c.rx.Bytes())
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	payload, err := frame.Extract(plaintext, frame.TagREP, frame.TagREPEnd)
	if err != nil {
		c.fail(ErrFormat, err.Error())
		return
	}
	c.rx.Reset()
	c.InboundPayload = payload

	ack, err := c.box.Encrypt(frame.TagACK)
	if err != nil {
		c.fail(ErrCrypto, err.Error())
		return
	}
	if err := c.write(ack); err != nil {
		c.fail(ErrSocket, err.Error())
		return
	}
	c.state = StateHasData
}
