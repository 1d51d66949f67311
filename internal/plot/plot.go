// Package plot holds the DronePlot record and the in-memory store the
// replication core reads from and writes to. The store is intentionally
// minimal: a sortable, iterable sequence of records with flags, exactly the
// contract the replication core requires and nothing more.
package plot

// Flag is a small bitset carried on every DronePlot.
type Flag uint8

const (
	// FlagNew marks a record as locally produced and not yet replicated
	// outbound. Cleared by the replication driver once the record has been
	// marshalled into an outgoing payload.
	FlagNew Flag = 1 << 0
)

// DronePlot is a single observation of one drone by one node.
type DronePlot struct {
	DroneID   uint32
	NodeID    uint32
	Timestamp int32
	Latitude  float64
	Longitude float64
	flags     Flag

	// checked is a transient marker used by the deconfliction engine
	// within a single pass. It is never serialized and never persisted.
	checked bool
}

// NewDronePlot constructs a record with FlagNew set, as the external
// simulator would produce it.
func NewDronePlot(droneID, nodeID uint32, timestamp int32, lat, lon float64) DronePlot {
	return DronePlot{
		DroneID:   droneID,
		NodeID:    nodeID,
		Timestamp: timestamp,
		Latitude:  lat,
		Longitude: lon,
		flags:     FlagNew,
	}
}

// IsNew reports whether FlagNew is set.
func (p *DronePlot) IsNew() bool {
	return p.flags&FlagNew != 0
}

// ClearNew clears FlagNew.
func (p *DronePlot) ClearNew() {
	p.flags &^= FlagNew
}

// Checked reports the transient C6 marker.
func (p *DronePlot) Checked() bool {
	return p.checked
}

// SetChecked sets or clears the transient C6 marker.
func (p *DronePlot) SetChecked(v bool) {
	p.checked = v
}

// SameObservation reports whether p and other describe the same drone at the
// same position as seen by two different nodes. Position is compared by
// exact equality per the upstream simulator's contract (see DESIGN.md).
func (p DronePlot) SameObservation(other DronePlot) bool {
	return p.DroneID == other.DroneID &&
		p.NodeID != other.NodeID &&
		p.Latitude == other.Latitude &&
		p.Longitude == other.Longitude
}
