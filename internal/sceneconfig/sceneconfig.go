// Package sceneconfig loads the static scene configuration document
// (client_config.json for the categorical variant, parking_config.json
// for the parking variant) and retains its raw bytes alongside the parsed
// structure, so it can be republished byte-for-byte on request_config and
// on a new client's join — mirroring the original broker's
// client_config_str / client_config_data split.
package sceneconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Position is a world (x, y) coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Document is the parsed scene configuration. Categorical fields are
// populated for the categorical variant; parking fields for the parking
// variant. A field irrelevant to the active variant is left at its zero
// value.
type Document struct {
	// ObjectLocations maps slot-name to world position (categorical variant).
	ObjectLocations map[string]Position `json:"object_locations,omitempty"`

	// VehicleLocations is carried through verbatim; the broker does not
	// interpret it (present in both variants' source documents, consumed
	// only by clients).
	VehicleLocations json.RawMessage `json:"vehicle_locations,omitempty"`

	// EmptyParkingSpotLocations and OccupiedParkingSpotLocations are the
	// ordered anchor lists for the parking variant's spatial assignment.
	EmptyParkingSpotLocations    []Position `json:"empty_parking_spot_locations,omitempty"`
	OccupiedParkingSpotLocations []Position `json:"occupied_parking_spot_locations,omitempty"`

	// TrueParkingOccupants is the ground-truth occupant list, parallel to
	// OccupiedParkingSpotLocations, used only for evaluation (run
	// controller accuracy accounting), never for fusion itself.
	TrueParkingOccupants []string `json:"true_parking_occupants,omitempty"`

	// MaxDecisionHistory is parsed and republished with the document, but
	// the broker does not read it: the run controller's experiment length
	// and decision-history ring come from the broker settings'
	// max_decision_history.
	MaxDecisionHistory int `json:"max_decision_history,omitempty"`
}

// Scene holds both the parsed Document and the exact bytes it was parsed
// from, so the broker can republish the document verbatim rather than
// re-marshaling it (which could reorder keys or reformat numbers
// differently than the document clients originally received).
type Scene struct {
	Doc Document
	Raw []byte
}

// Load reads and parses the scene configuration document at path.
func Load(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sceneconfig.Load: read %q: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("sceneconfig.Load: parse %q: %w", path, err)
	}

	return &Scene{Doc: doc, Raw: raw}, nil
}

// SlotNames returns the configured categorical slot names.
func (s *Scene) SlotNames() []string {
	names := make([]string, 0, len(s.Doc.ObjectLocations))
	for name := range s.Doc.ObjectLocations {
		names = append(names, name)
	}
	return names
}
