// Package main — bench/cmd/verdictlatency/main.go
//
// Verdict-cycle latency measurement tool.
//
// Measures the wall-clock cost of one categorical fusion pass
// (Categorical.Fuse) across a configurable client/slot population, using
// time.Now() immediately before and after the call — no scheduler or bus
// is involved, this isolates the fusion algorithm's own cost.
//
// It does NOT include:
//   - Scheduler gating (golang.org/x/time/rate.Limiter overhead)
//   - Transport decode/publish cost
//   - Reputation update cost
//
// Output CSV columns:
//   iteration, clients, slots, latency_us
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/fusion"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

func main() {
	iterations := flag.Int("iterations", 2000, "Number of fusion calls to measure")
	clientCounts := flag.String("client-counts", "1,4,16,64", "Comma-separated client population sizes to benchmark")
	slotCount := flag.Int("slots", 6, "Number of categorical slots in the scene")
	outputFile := flag.String("output", "verdict_latency_raw.csv", "Output CSV file path")
	flag.Parse()

	sizes, err := parseIntList(*clientCounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -client-counts: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "clients", "slots", "latency_us"})

	c := &fusion.Categorical{}
	scene := syntheticScene(*slotCount)

	fmt.Printf("Verdict Cycle Latency Results (%d iterations per population size)\n", *iterations)

	for _, n := range sizes {
		clients := syntheticClients(n, *slotCount)
		snapshot := contrib.FusionSnapshot{Scene: scene, Clients: clients}

		var p50Bucket [100001]int // microsecond histogram, up to 100ms

		for i := 0; i < *iterations; i++ {
			snapshot.Now = time.Now()
			start := time.Now()
			if _, err := c.Fuse(snapshot); err != nil {
				fmt.Fprintf(os.Stderr, "fuse failed at clients=%d iter=%d: %v\n", n, i, err)
				os.Exit(1)
			}
			latencyUs := int(time.Since(start).Microseconds())
			if latencyUs < len(p50Bucket) {
				p50Bucket[latencyUs]++
			}

			_ = w.Write([]string{
				strconv.Itoa(i),
				strconv.Itoa(n),
				strconv.Itoa(*slotCount),
				strconv.Itoa(latencyUs),
			})
		}

		p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)
		fmt.Printf("  clients=%-4d p50=%5dus p95=%5dus p99=%5dus\n", n, p50, p95, p99)
	}

	fmt.Printf("  Output: %s\n", *outputFile)
}

func syntheticScene(slots int) sceneconfig.Document {
	locs := make(map[string]sceneconfig.Position, slots)
	for i := 0; i < slots; i++ {
		locs[fmt.Sprintf("slot_%d", i)] = sceneconfig.Position{X: float64(i), Y: 0}
	}
	return sceneconfig.Document{ObjectLocations: locs}
}

func syntheticClients(n, slots int) []clientset.ClientView {
	views := make([]clientset.ClientView, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		obs := clientset.CategoricalObservation{}
		for s := 0; s < slots; s++ {
			obs[fmt.Sprintf("slot_%d", s)] = clientset.SlotReport{
				Label:      "car",
				Confidence: 0.8,
				Distance:   5.0,
			}
		}
		views[i] = clientset.ClientView{
			Name:       fmt.Sprintf("bench-client-%d", i),
			Reputation: 0.5,
			Observation: &clientset.Observation{
				RecordedAt:  now,
				Categorical: obs,
			},
		}
	}
	return views
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}

func parseIntList(s string) ([]int, error) {
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				v, err := strconv.Atoi(s[start:i])
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out, nil
}
