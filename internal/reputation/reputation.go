// Package reputation implements the per-cycle reputation delta and
// clamp logic for both fusion variants. Grounded on main_broker.py's
// Client.noteOutcome/clamp (categorical: signed per-slot agreement,
// summed and scaled by reputation_increment) and parking_broker.py's
// noteOutcome (hit-ratio accuracy history; the "wrong decision count"
// expression flagged in spec.md §9 as undefined is intentionally not
// ported — hit-ratio drives both the accuracy history and the reputation
// delta here).
package reputation

import (
	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

// Params holds the settings the updater needs: reputation bounds and the
// per-direction scale factors.
type Params struct {
	Increment     float64
	Decrement     float64
	MinReputation float64
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// ShouldUpdate reports whether reputation updates should run this cycle.
// With fewer than two registered clients there is no peer signal to
// compare against, so updates are skipped and verdicts are still
// published unaffected (spec §4.6).
func ShouldUpdate(registeredClientCount int) bool {
	return registeredClientCount >= 2
}

// CategoricalResult is returned per client after applying a categorical
// reputation update.
type CategoricalResult struct {
	NewReputation float64
	Disagreements int
}

// ApplyCategorical updates one client's reputation given the published
// verdict. Only meaningful for clients with a fresh observation this
// cycle; callers should skip clients whose Observation is nil.
func ApplyCategorical(view clientset.ClientView, verdict contrib.Verdict, p Params) CategoricalResult {
	var sum float64
	disagreements := 0

	for slot, chosen := range verdict {
		if chosen == "None" {
			continue
		}
		clientLabel := "None"
		if report, ok := view.Observation.Categorical[slot]; ok {
			clientLabel = report.Label
		}
		if clientLabel == chosen {
			sum += 1
		} else {
			sum -= 1
			disagreements++
		}
	}

	newRep := clamp(view.Reputation+sum*p.Increment, p.MinReputation, 1.0)
	return CategoricalResult{NewReputation: newRep, Disagreements: disagreements}
}

// ParkingResult is returned per client after applying a parking
// reputation update.
type ParkingResult struct {
	NewReputation float64
	HitRatio      float64
}

// ApplyParking updates one client's reputation and accuracy ratio given
// the published verdict and the scene's anchor lists. Only meaningful for
// clients with a fresh observation this cycle.
func ApplyParking(view clientset.ClientView, verdict contrib.Verdict, scene sceneconfig.Document, p Params) ParkingResult {
	detections := view.Observation.Parking
	if len(verdict) == 0 || len(detections) == 0 {
		return ParkingResult{NewReputation: view.Reputation, HitRatio: 0}
	}

	hits := 0
	for _, qr := range detections {
		if qr.Text == clientset.EmptyText {
			if len(scene.EmptyParkingSpotLocations) == 0 {
				continue
			}
			idx := closestIndex(scene.EmptyParkingSpotLocations, qr.X, qr.Y)
			if verdict[indexKey(idx)] == clientset.EmptyText {
				hits++
			}
			continue
		}
		if len(scene.OccupiedParkingSpotLocations) == 0 {
			continue
		}
		idx := closestIndex(scene.OccupiedParkingSpotLocations, qr.X, qr.Y)
		if verdict[indexKey(idx)] == qr.Text {
			hits++
		}
	}

	ratio := float64(hits) / float64(len(verdict))

	scale := p.Increment
	if ratio < 0.5 {
		scale = p.Decrement
	}
	delta := (ratio - 0.5) * 2 * scale
	newRep := clamp(view.Reputation+delta, p.MinReputation, 1.0)

	return ParkingResult{NewReputation: newRep, HitRatio: ratio}
}
