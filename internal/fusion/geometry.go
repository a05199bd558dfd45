package fusion

import (
	"math"

	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

func euclidean(a sceneconfig.Position, x, y float64) float64 {
	dx := a.X - x
	dy := a.Y - y
	return math.Sqrt(dx*dx + dy*dy)
}

// closestAnchor returns the index of the anchor in anchors nearest to
// (x, y). anchors must be non-empty.
func closestAnchor(anchors []sceneconfig.Position, x, y float64) int {
	best := 0
	bestDist := euclidean(anchors[0], x, y)
	for i := 1; i < len(anchors); i++ {
		d := euclidean(anchors[i], x, y)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
