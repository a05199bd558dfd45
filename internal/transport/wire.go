package transport

import (
	"encoding/json"
	"fmt"
)

// clientLifecycleWire is the wire shape of new_client / end_client
// messages: {"source": "<client name>"}.
type clientLifecycleWire struct {
	Source string `json:"source"`
}

// categoricalTriple is one slot's reading, wire-encoded as the JSON array
// [label, confidence, distance] or JSON null if the client reported
// nothing for that slot.
type categoricalTriple struct {
	Label      string
	Confidence float64
	Distance   float64
	Present    bool
}

func (t *categoricalTriple) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = categoricalTriple{}
		return nil
	}
	var arr [3]interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("categorical triple: %w", err)
	}
	label, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("categorical triple: element 0 not a string")
	}
	confidence, ok := arr[1].(float64)
	if !ok {
		return fmt.Errorf("categorical triple: element 1 not a number")
	}
	distance, ok := arr[2].(float64)
	if !ok {
		return fmt.Errorf("categorical triple: element 2 not a number")
	}
	*t = categoricalTriple{Label: label, Confidence: confidence, Distance: distance, Present: true}
	return nil
}

// categoricalWire is the wire shape of a categorical data_V2B message:
// {"source": "...", "object_list": {"slot": [label, conf, dist], ...}}.
type categoricalWire struct {
	Source     string                       `json:"source"`
	ObjectList map[string]categoricalTriple `json:"object_list"`
}

// qrWire is one QR detection, wire-encoded as
// {"text": "...", "position": {"x":..,"y":..}, "distance": ...}.
type qrWire struct {
	Text     string  `json:"text"`
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
	Distance float64 `json:"distance"`
}

// parkingWire is the wire shape of a parking data_V2B message:
// {"source": "...", "object_list": [{"text":...}, ...]}.
type parkingWire struct {
	Source     string   `json:"source"`
	ObjectList []qrWire `json:"object_list"`
}
