package reputation

import (
	"math"
	"strconv"

	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

func closestIndex(anchors []sceneconfig.Position, x, y float64) int {
	best := 0
	bestDist := math.Hypot(anchors[0].X-x, anchors[0].Y-y)
	for i := 1; i < len(anchors); i++ {
		d := math.Hypot(anchors[i].X-x, anchors[i].Y-y)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func indexKey(i int) string {
	return strconv.Itoa(i)
}
