package plot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// RecordSize is the fixed on-wire width of one serialized DronePlot:
// drone_id(4) + node_id(4) + timestamp(4) + latitude(8) + longitude(8) + flags(1).
const RecordSize = 4 + 4 + 4 + 8 + 8 + 1

// ErrShortRecord is returned by Deserialize when fewer than RecordSize bytes
// are available.
var ErrShortRecord = errors.New("plot: short record")

// Serialize appends the little-endian fixed-width encoding of p to buf and
// returns the extended slice.
func (p DronePlot) Serialize(buf []byte) []byte {
	var rec [RecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], p.DroneID)
	binary.LittleEndian.PutUint32(rec[4:8], p.NodeID)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(p.Timestamp))
	binary.LittleEndian.PutUint64(rec[12:20], math.Float64bits(p.Latitude))
	binary.LittleEndian.PutUint64(rec[20:28], math.Float64bits(p.Longitude))
	rec[28] = byte(p.flags)
	return append(buf, rec[:]...)
}

// Deserialize decodes one fixed-width record from the front of data.
func Deserialize(data []byte) (DronePlot, error) {
	if len(data) < RecordSize {
		return DronePlot{}, fmt.Errorf("%w: have %d want %d", ErrShortRecord, len(data), RecordSize)
	}
	return DronePlot{
		DroneID:   binary.LittleEndian.Uint32(data[0:4]),
		NodeID:    binary.LittleEndian.Uint32(data[4:8]),
		Timestamp: int32(binary.LittleEndian.Uint32(data[8:12])),
		Latitude:  math.Float64frombits(binary.LittleEndian.Uint64(data[12:20])),
		Longitude: math.Float64frombits(binary.LittleEndian.Uint64(data[20:28])),
		flags:     Flag(data[28]),
	}, nil
}

// MarshalBatch encodes a u32 little-endian count followed by each plot's
// fixed-width record, matching the wire shape C5 hands to the queue manager.
func MarshalBatch(plots []DronePlot) []byte {
	out := make([]byte, 4, 4+len(plots)*RecordSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(plots)))
	for _, p := range plots {
		out = p.Serialize(out)
	}
	return out
}

// ErrFormatMismatch is returned by UnmarshalBatch when the payload length
// does not agree with the declared record count.
var ErrFormatMismatch = errors.New("plot: payload length does not match record count")

// UnmarshalBatch decodes a batch produced by MarshalBatch.
func UnmarshalBatch(data []byte) ([]DronePlot, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated count", ErrFormatMismatch)
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	rest := data[4:]
	if len(rest) != int(count)*RecordSize {
		return nil, fmt.Errorf("%w: have %d bytes for %d records", ErrFormatMismatch, len(rest), count)
	}
	plots := make([]DronePlot, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := Deserialize(rest[i*RecordSize:])
		if err != nil {
			return nil, err
		}
		plots = append(plots, p)
	}
	return plots, nil
}
