// Package provenance computes a canonical sha256 digest over a published
// verdict's inputs, so that a verdict can later be reproduced and checked
// against its ledger entry. Grounded on a trimmed reading of
// internal/governance/constitutional.go's DecisionHash/ParentHash concept
// (sha256 over canonical decision inputs, chained to the previous
// decision's hash) — only the hashing and chaining idea survives; that
// package's axiom/violation/Ed25519 machinery is specific to its
// host-security domain and is not ported here.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
)

// canonicalInput is the JSON-marshaled shape a verdict's hash is computed
// over. Field order is fixed by the struct; map keys are sorted before
// marshaling so the same verdict always hashes identically regardless of
// map iteration order.
type canonicalInput struct {
	SceneDigest string         `json:"scene_digest"`
	Verdict     []kv           `json:"verdict"`
	Clients     []clientDigest `json:"clients"`
	ParentHash  string         `json:"parent_hash"`
}

type kv struct {
	Slot  string `json:"slot"`
	Label string `json:"label"`
}

type clientDigest struct {
	Name              string  `json:"name"`
	Reputation        float64 `json:"reputation"`
	ObservationDigest string  `json:"observation_digest"`
}

type categoricalSlotReport struct {
	Slot       string  `json:"slot"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

type parkingDetection struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Distance float64 `json:"distance"`
}

// observationDigest hashes a client's observation canonically: categorical
// slot reports sorted by slot name, parking detections in report order
// (position in the list is meaningful for parking, unlike categorical
// slots keyed by name). nil/empty observation hashes to a fixed sentinel
// so an unobserved client still digests deterministically.
func observationDigest(obs *clientset.Observation) string {
	if obs == nil {
		return "absent"
	}

	var payload struct {
		Categorical []categoricalSlotReport `json:"categorical,omitempty"`
		Parking     []parkingDetection      `json:"parking,omitempty"`
	}

	slots := make([]string, 0, len(obs.Categorical))
	for slot := range obs.Categorical {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		r := obs.Categorical[slot]
		payload.Categorical = append(payload.Categorical, categoricalSlotReport{
			Slot:       slot,
			Label:      r.Label,
			Confidence: r.Confidence,
			Distance:   r.Distance,
		})
	}

	for _, d := range obs.Parking {
		payload.Parking = append(payload.Parking, parkingDetection{
			Text:     d.Text,
			X:        d.X,
			Y:        d.Y,
			Distance: d.Distance,
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		panic("provenance: observation marshal failed: " + err.Error())
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// SceneDigest hashes raw scene-configuration bytes, giving every verdict a
// stable reference to the scene document it was computed against.
func SceneDigest(sceneRaw []byte) string {
	sum := sha256.Sum256(sceneRaw)
	return hex.EncodeToString(sum[:])
}

// Hash computes the chained provenance hash for one verdict cycle.
// parentHash is the previous cycle's Hash result, or "" when there is none
// (the broker starts from the ledger's last hash when a non-empty ledger
// is open) — this gives the ledger a Merkle-style chain so a tampered or
// reordered entry breaks the chain detectably.
func Hash(verdict map[string]string, clients []clientset.ClientView, sceneDigest, parentHash string) string {
	input := canonicalInput{
		SceneDigest: sceneDigest,
		ParentHash:  parentHash,
	}

	slots := make([]string, 0, len(verdict))
	for slot := range verdict {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		input.Verdict = append(input.Verdict, kv{Slot: slot, Label: verdict[slot]})
	}

	names := make([]string, 0, len(clients))
	byName := make(map[string]clientset.ClientView, len(clients))
	for _, c := range clients {
		names = append(names, c.Name)
		byName[c.Name] = c
	}
	sort.Strings(names)
	for _, name := range names {
		input.Clients = append(input.Clients, clientDigest{
			Name:              name,
			Reputation:        byName[name].Reputation,
			ObservationDigest: observationDigest(byName[name].Observation),
		})
	}

	// json.Marshal on a struct with fixed field order and pre-sorted
	// slices is deterministic across runs.
	encoded, err := json.Marshal(input)
	if err != nil {
		// Struct contains no types that can fail to marshal.
		panic("provenance: canonical marshal failed: " + err.Error())
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
