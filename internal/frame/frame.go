// Package frame implements the tag-delimited wire framing used by the
// replication protocol's handshake and data segments: fixed ASCII byte
// sequences mark the start and end of a payload, the way the teacher
// codebase's internal/protocol/frame package marks a length-prefixed binary
// header — here the delimiter is the tag itself rather than a length field,
// because the wire format this node speaks is tag-delimited by contract.
package frame

import (
	"bytes"
	"errors"
)

// Tag pairs used by the connection FSM (C3). ACK has no closing tag.
var (
	TagSID    = []byte("<SID>")
	TagSIDEnd = []byte("</SID>")
	TagAUT    = []byte("<AUT>")
	TagAUTEnd = []byte("</AUT>")
	TagREP    = []byte("<REP>")
	TagREPEnd = []byte("</REP>")
	TagACK    = []byte("<ACK>")
)

// ErrTagNotFound is returned by Extract when either the opening or the
// closing tag is absent from buf.
var ErrTagNotFound = errors.New("frame: tag not found")

// Wrap returns open ++ buf ++ closeTag as a freshly allocated slice.
func Wrap(buf, open, closeTag []byte) []byte {
	out := make([]byte, 0, len(open)+len(buf)+len(closeTag))
	out = append(out, open...)
	out = append(out, buf...)
	out = append(out, closeTag...)
	return out
}

// Extract locates the first occurrence of open and the first occurrence of
// closeTag that follows it in buf, and returns the bytes strictly between
// them. It fails if open is absent or if no closeTag follows it; a closeTag
// that occurs only before open counts as absent.
func Extract(buf, open, closeTag []byte) ([]byte, error) {
	start := bytes.Index(buf, open)
	if start < 0 {
		return nil, ErrTagNotFound
	}
	contentStart := start + len(open)
	end := bytes.Index(buf[contentStart:], closeTag)
	if end < 0 {
		return nil, ErrTagNotFound
	}
	contentEnd := contentStart + end
	out := make([]byte, contentEnd-contentStart)
	copy(out, buf[contentStart:contentEnd])
	return out, nil
}

// Find reports whether tag occurs anywhere in buf.
func Find(buf, tag []byte) bool {
	return bytes.Contains(buf, tag)
}
