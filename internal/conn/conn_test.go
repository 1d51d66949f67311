package conn

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/afit-csce689/dronerepl/internal/cryptobox"
	"github.com/afit-csce689/dronerepl/internal/frame"
	"github.com/afit-csce689/dronerepl/internal/testutil/testlog"
)

func newBoxOrFatal(t *testing.T) *cryptobox.Box {
	t.Helper()
	testlog.Start(t)
	box, err := cryptobox.New([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return box
}

// driveToState steps both ends of the handshake in lockstep until the
// acceptor reaches one of the given terminal states or the deadline
// expires.
func driveUntil(t *testing.T, initiator, acceptor *Connection, deadline time.Time, want State) {
	t.Helper()
	for time.Now().Before(deadline) {
		initiator.Step()
		acceptor.Step()
		if acceptor.State() == want || acceptor.State() == StateDisconnected {
			return
		}
	}
	t.Fatalf("timed out waiting for acceptor state %v; got %v (initiator=%v, err=%v/%v)",
		want, acceptor.State(), initiator.State(), initiator.Err(), acceptor.Err())
}

// dialLoopback sets up a real TCP loopback pair. net.Pipe is unsuitable
// here because its Write calls block until a matching Read, which would
// deadlock a test that steps both ends from one goroutine.
func dialLoopback(t *testing.T) (clientSide, serverSide net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	clientSide, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case serverSide = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("accept timed out")
	}
	return clientSide, serverSide
}

func TestHandshakeAndDataTransferSucceeds(t *testing.T) {
	clientSide, serverSide := dialLoopback(t)
	defer clientSide.Close()
	defer serverSide.Close()

	box := newBoxOrFatal(t)
	payload := []byte("hello from node-a")

	initiator := NewInitiator(clientSide, "node-a", "node-b", box, payload)
	acceptor := NewAcceptor(serverSide, "node-b", box)

	deadline := time.Now().Add(2 * time.Second)
	driveUntil(t, initiator, acceptor, deadline, StateHasData)

	if acceptor.State() != StateHasData {
		t.Fatalf("acceptor did not reach HasData: state=%v err=%v", acceptor.State(), acceptor.Err())
	}
	if acceptor.PeerID != "node-a" {
		t.Fatalf("acceptor learned wrong peer id: %q", acceptor.PeerID)
	}
	if string(acceptor.InboundPayload) != string(payload) {
		t.Fatalf("got payload %q, want %q", acceptor.InboundPayload, payload)
	}

	// Drain a few more cycles so the initiator sees its ack and disconnects.
	for i := 0; i < 50 && initiator.State() != StateDisconnected; i++ {
		initiator.Step()
		acceptor.Step()
	}
	if initiator.State() != StateDisconnected {
		t.Fatalf("initiator did not disconnect after ack: state=%v", initiator.State())
	}
	if initiator.Err() != nil {
		t.Fatalf("initiator finished with unexpected error: %v", initiator.Err())
	}
}

func TestMismatchedKeysFailAuthentication(t *testing.T) {
	testlog.Start(t)
	clientSide, serverSide := dialLoopback(t)
	defer clientSide.Close()
	defer serverSide.Close()

	clientBox, err := cryptobox.New([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	serverBox, err := cryptobox.New([]byte("fedcba9876543210"))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	initiator := NewInitiator(clientSide, "node-a", "node-b", clientBox, []byte("payload"))
	acceptor := NewAcceptor(serverSide, "node-b", serverBox)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		initiator.Step()
		acceptor.Step()
		if acceptor.State() == StateDisconnected || initiator.State() == StateDisconnected {
			break
		}
	}

	if acceptor.State() != StateDisconnected && initiator.State() != StateDisconnected {
		t.Fatalf("expected one side to disconnect on key mismatch; initiator=%v acceptor=%v",
			initiator.State(), acceptor.State())
	}
}

func TestGarbledChallengeResponseDisconnectsWithoutReachingDataStates(t *testing.T) {
	clientSide, serverSide := dialLoopback(t)
	defer clientSide.Close()
	defer serverSide.Close()

	box := newBoxOrFatal(t)
	acceptor := NewAcceptor(serverSide, "node-b", box)

	// Drive the acceptor to ServerWaitResponse, then feed it a random byte
	// in place of the expected encrypted <AUT>Cs</AUT> echo.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && acceptor.State() != StateServerWaitResponse {
		acceptor.Step()
		if acceptor.State() == StateConnected {
			if _, err := clientSide.Write([]byte("<SID>node-a</SID>")); err != nil {
				t.Fatalf("write sid: %v", err)
			}
		}
	}
	if acceptor.State() != StateServerWaitResponse {
		t.Fatalf("acceptor never reached ServerWaitResponse: %v", acceptor.State())
	}

	// Respond with garbage in place of the challenge echo; the challenge the
	// acceptor sent is left unread on the client side.
	garbage := make([]byte, authSegmentSize()+clearAuthSize())
	for i := range garbage {
		garbage[i] = 0x42
	}
	if _, err := clientSide.Write(garbage); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	for time.Now().Before(deadline) && acceptor.State() != StateDisconnected {
		acceptor.Step()
		if acceptor.State() == StateHasData || acceptor.State() == StateServerWaitData {
			t.Fatalf("acceptor must not reach %v on a garbled challenge response", acceptor.State())
		}
	}
	if acceptor.State() != StateDisconnected {
		t.Fatalf("expected acceptor to disconnect on garbled response, got %v", acceptor.State())
	}
	if acceptor.Err() == nil {
		t.Fatalf("expected a recorded error on disconnect")
	}
}

// TestWellFormedButWrongChallengeEchoFailsWithAuthMismatch drives the
// spec's end-to-end scenario 3: a peer that frames and encrypts its
// response correctly but echoes back a challenge value that deliberately
// differs from the one the acceptor issued. Unlike the garbled-bytes test
// above, this response decrypts and extracts cleanly, so it must trip the
// literal ErrAuthMismatch comparison, not ErrFormat/ErrCrypto.
func TestWellFormedButWrongChallengeEchoFailsWithAuthMismatch(t *testing.T) {
	clientSide, serverSide := dialLoopback(t)
	defer clientSide.Close()
	defer serverSide.Close()

	box := newBoxOrFatal(t)
	acceptor := NewAcceptor(serverSide, "node-b", box)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && acceptor.State() != StateServerWaitResponse {
		acceptor.Step()
		if acceptor.State() == StateConnected {
			if _, err := clientSide.Write([]byte("<SID>node-a</SID>")); err != nil {
				t.Fatalf("write sid: %v", err)
			}
		}
	}
	if acceptor.State() != StateServerWaitResponse {
		t.Fatalf("acceptor never reached ServerWaitResponse: %v", acceptor.State())
	}

	// Echo back a value that is guaranteed to differ from the challenge
	// the acceptor just issued, correctly framed and encrypted.
	wrongEcho := make([]byte, ChallengeSize)
	copy(wrongEcho, acceptor.challenge)
	wrongEcho[0] ^= 0xFF

	encryptedEcho, err := box.Encrypt(frame.Wrap(wrongEcho, frame.TagAUT, frame.TagAUTEnd))
	if err != nil {
		t.Fatalf("encrypt echo: %v", err)
	}
	ci := make([]byte, ChallengeSize)
	for i := range ci {
		ci[i] = byte(i)
	}
	clearCi := frame.Wrap(ci, frame.TagAUT, frame.TagAUTEnd)

	if _, err := clientSide.Write(append(encryptedEcho, clearCi...)); err != nil {
		t.Fatalf("write response: %v", err)
	}

	for time.Now().Before(deadline) && acceptor.State() != StateDisconnected {
		acceptor.Step()
		if acceptor.State() == StateServerSendEcho || acceptor.State() == StateServerWaitData || acceptor.State() == StateHasData {
			t.Fatalf("acceptor must not advance past auth on a mismatched challenge echo, got %v", acceptor.State())
		}
	}
	if acceptor.State() != StateDisconnected {
		t.Fatalf("expected acceptor to disconnect on mismatched challenge echo, got %v", acceptor.State())
	}
	if !errors.Is(acceptor.Err(), ErrAuthMismatch) {
		t.Fatalf("expected ErrAuthMismatch, got %v", acceptor.Err())
	}
}

func TestStepOnTerminalStateIsNoop(t *testing.T) {
	clientSide, serverSide := dialLoopback(t)
	defer clientSide.Close()
	defer serverSide.Close()

	box := newBoxOrFatal(t)
	c := NewAcceptor(serverSide, "node-b", box)
	_ = clientSide
	c.state = StateHasData
	c.Step()
	if c.State() != StateHasData {
		t.Fatalf("expected state to remain HasData, got %v", c.State())
	}
}
