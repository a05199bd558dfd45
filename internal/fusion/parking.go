package fusion

import (
	"strconv"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
)

func init() {
	contrib.RegisterFuser(&Parking{})
}

// plateSighting is one plate's mean observed position across every fresh
// client this cycle, seeded onto the assignment work stack.
type plateSighting struct {
	plate string
	x, y  float64
}

// ParkingOutcome is the parking variant's full fusion result: the
// published verdict plus the diagnostics the original broker printed to
// the console each cycle (vacancy tally, displacement count), exposed for
// observability rather than discarded.
type ParkingOutcome struct {
	Verdict contrib.Verdict

	// VacancyCounts is informational only (spec §4.5 step 4 note): a
	// decrement per EMPTY detection nearest to each empty-anchor index.
	// It does not influence the verdict, which is derived entirely from
	// the occupied-side assignment below.
	VacancyCounts map[int]int

	// Displacements counts how many times a plate bumped another plate
	// out of an already-assigned spot during step 3.
	Displacements int
}

// Parking is the parking-variant Fuser: nearest-anchor vacancy tally
// (informational), plate-mean aggregation, and stack-based greedy
// displacement assignment of plates to occupied anchors.
type Parking struct{}

// Name implements contrib.Fuser.
func (p *Parking) Name() string { return "parking" }

// Fuse implements contrib.Fuser.
func (p *Parking) Fuse(snapshot contrib.FusionSnapshot) (contrib.Verdict, error) {
	outcome := ComputeParkingOutcome(snapshot)
	return outcome.Verdict, nil
}

// ComputeParkingOutcome runs the full parking fusion algorithm and
// returns both the verdict and the diagnostics the broker logs/exports as
// metrics. Exported so the broker can obtain the vacancy/displacement
// diagnostics, which Fuse does not return; the broker calls it as a
// second pass over the same snapshot.
func ComputeParkingOutcome(snapshot contrib.FusionSnapshot) ParkingOutcome {
	empty := snapshot.Scene.EmptyParkingSpotLocations
	occupied := snapshot.Scene.OccupiedParkingSpotLocations

	vacancyCounts := make(map[int]int)
	positionTally := make(map[string]*struct {
		x, y  float64
		count int
	})
	var plateOrder []string

	for _, client := range snapshot.Clients {
		if client.Observation == nil {
			continue
		}
		for _, qr := range client.Observation.Parking {
			if qr.Text == clientset.EmptyText {
				if len(empty) == 0 {
					continue
				}
				idx := closestAnchor(empty, qr.X, qr.Y)
				vacancyCounts[idx]--
				continue
			}
			acc, seen := positionTally[qr.Text]
			if !seen {
				acc = &struct {
					x, y  float64
					count int
				}{}
				positionTally[qr.Text] = acc
				plateOrder = append(plateOrder, qr.Text)
			}
			acc.x += qr.X
			acc.y += qr.Y
			acc.count++
		}
	}

	// Seed the work stack so plates are popped in first-seen order: the
	// first-seen plate is pushed last and so sits on top.
	stack := make([]plateSighting, 0, len(plateOrder))
	for i := len(plateOrder) - 1; i >= 0; i-- {
		plate := plateOrder[i]
		acc := positionTally[plate]
		stack = append(stack, plateSighting{
			plate: plate,
			x:     acc.x / float64(acc.count),
			y:     acc.y / float64(acc.count),
		})
	}

	taken := make([]*plateSighting, len(occupied))
	displacements := 0

	for len(stack) > 0 {
		this := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		bestIdx := -1
		var bestDist float64

		for i, anchor := range occupied {
			d := euclidean(anchor, this.x, this.y)
			eligible := taken[i] == nil
			if !eligible {
				curD := euclidean(anchor, taken[i].x, taken[i].y)
				eligible = d < curD
			}
			if eligible && (bestIdx == -1 || d < bestDist) {
				bestDist = d
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			// No occupied anchors configured; nothing to assign to.
			continue
		}

		if taken[bestIdx] != nil {
			stack = append(stack, *taken[bestIdx])
			displacements++
		}
		placed := this
		taken[bestIdx] = &placed
	}

	verdict := make(contrib.Verdict, len(occupied))
	for i := range occupied {
		if taken[i] != nil {
			verdict[indexKey(i)] = taken[i].plate
		} else {
			verdict[indexKey(i)] = clientset.EmptyText
		}
	}

	return ParkingOutcome{
		Verdict:       verdict,
		VacancyCounts: vacancyCounts,
		Displacements: displacements,
	}
}

func indexKey(i int) string {
	return strconv.Itoa(i)
}
