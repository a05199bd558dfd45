package clientset

import "time"

// SlotReport is one client's reading for a single categorical slot:
// a label, a confidence in [0,1], and a distance in world units.
type SlotReport struct {
	Label      string
	Confidence float64
	Distance   float64
}

// CategoricalObservation maps slot-name to the client's reading for that
// slot. A slot absent from the map means the client reported nothing for
// it this cycle.
type CategoricalObservation map[string]SlotReport

// QRDetection is a single parking QR read: either a plate string or the
// sentinel text "EMPTY" marking a vacancy report, at a measured position
// and distance.
type QRDetection struct {
	Text     string
	X, Y     float64
	Distance float64
}

// EmptyText is the sentinel QRDetection.Text marking a vacancy report.
const EmptyText = "EMPTY"

// ParkingObservation is the ordered list of QR detections a client
// reported this cycle.
type ParkingObservation []QRDetection

// Observation is a client's most recent report, stamped with the broker's
// receipt time. Exactly one of Categorical or Parking is populated,
// depending on the active variant. Immutable once stored; a new arrival
// overwrites it wholesale rather than merging into it.
type Observation struct {
	RecordedAt  time.Time
	Categorical CategoricalObservation
	Parking     ParkingObservation
}

// fresh reports whether this observation is still within the staleness
// window as of now.
func (o *Observation) fresh(now time.Time, staleness time.Duration) bool {
	if o == nil {
		return false
	}
	return now.Sub(o.RecordedAt) <= staleness
}
