package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/afit-csce689/dronerepl/internal/testutil/testlog"
)

func TestWrapExtractRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := []byte("node-1")
	wrapped := Wrap(payload, TagSID, TagSIDEnd)

	got, err := Extract(wrapped, TagSID, TagSIDEnd)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestExtractMissingOpenTag(t *testing.T) {
	testlog.Start(t)
	_, err := Extract([]byte("no tags here"), TagAUT, TagAUTEnd)
	if !errors.Is(err, ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound, got %v", err)
	}
}

func TestExtractMissingCloseTag(t *testing.T) {
	testlog.Start(t)
	buf := append([]byte{}, TagAUT...)
	buf = append(buf, []byte("challenge")...)
	_, err := Extract(buf, TagAUT, TagAUTEnd)
	if !errors.Is(err, ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound, got %v", err)
	}
}

func TestExtractIsBinarySafe(t *testing.T) {
	testlog.Start(t)
	payload := []byte{0x00, 0xFF, 0x01, 0x02, 0x00}
	wrapped := Wrap(payload, TagREP, TagREPEnd)
	got, err := Extract(wrapped, TagREP, TagREPEnd)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

func TestFind(t *testing.T) {
	testlog.Start(t)
	buf := Wrap([]byte("x"), TagACK, nil)
	if !Find(buf, TagACK) {
		t.Fatalf("expected to find TagACK")
	}
	if Find(buf, TagREP) {
		t.Fatalf("did not expect to find TagREP")
	}
}
