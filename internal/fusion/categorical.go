// Package fusion implements the two verdict algorithms: the categorical
// reputation-weighted slot vote and the parking spatial QR-to-spot
// assignment. Both register themselves with the contrib.Fuser registry
// at init() time and are selected by the broker at startup from the
// configured variant.
package fusion

import (
	"math"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
)

// noneLabel is the sentinel reported for a slot no client voted on.
const noneLabel = "None"

// noneSentinelConfidence/Distance are the stand-in reading used when a
// live client has no report for a given slot, matching the original
// broker's NoneObject = ["None", 0.1, 0.0]. Distance 0 makes
// log(distance) non-positive, so the numeric guard always skips this
// term's contribution — the sentinel never actually casts a vote, it
// only keeps the per-slot loop uniform.
const (
	noneSentinelConfidence = 0.1
	noneSentinelDistance   = 0.0
)

func init() {
	contrib.RegisterFuser(&Categorical{})
}

// Categorical is the categorical-variant Fuser: per slot, tallies
// label → confidence × reputation × (1/log(distance)) across fresh
// client observations, guarding against non-positive log(distance).
type Categorical struct{}

// Name implements contrib.Fuser.
func (c *Categorical) Name() string { return "categorical" }

// Fuse implements contrib.Fuser.
func (c *Categorical) Fuse(snapshot contrib.FusionSnapshot) (contrib.Verdict, error) {
	verdict := make(contrib.Verdict, len(snapshot.Scene.ObjectLocations))

	for slot := range snapshot.Scene.ObjectLocations {
		tally := make(map[string]float64)
		order := make([]string, 0, 4)

		for _, client := range snapshot.Clients {
			if client.Observation == nil {
				continue
			}
			report, ok := client.Observation.Categorical[slot]
			if !ok {
				report.Label = noneLabel
				report.Confidence = noneSentinelConfidence
				report.Distance = noneSentinelDistance
			}

			logDist := math.Log(report.Distance)
			if logDist <= 0 {
				// Numeric guard (spec §4.4): distance ≤ 1 yields a
				// non-positive or infinite weight. Skip the term rather
				// than let it corrupt the tally.
				continue
			}

			weight := report.Confidence * client.Reputation * (1 / logDist)
			if _, seen := tally[report.Label]; !seen {
				order = append(order, report.Label)
			}
			tally[report.Label] += weight
		}

		if len(tally) == 0 {
			verdict[slot] = noneLabel
			continue
		}

		winner := order[0]
		best := tally[winner]
		for _, label := range order[1:] {
			if tally[label] > best {
				best = tally[label]
				winner = label
			}
		}
		verdict[slot] = winner
	}

	return verdict, nil
}
