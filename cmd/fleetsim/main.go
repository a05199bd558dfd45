// Package main — cmd/fleetsim/main.go
//
// Synthetic fleet simulator.
//
// Purpose: drive the categorical fusion + reputation pipeline with a
// configurable population of simulated sensing clients — some honest,
// some noisy — without a live MQTT bus or broker process, and report
// whether reputations stay within [min_reputation, 1.0] (P1) across a
// multi-client run. No other property is checked here.
//
// Model: each honest client reports the scene's true label per slot with
// fixed confidence; each noisy client, a configurable fraction of the
// time, reports a label drawn uniformly from the label set (which may be
// the true label). Distances are fixed so the
// numeric guard never triggers. Verdicts are computed every step at a
// fixed synthetic time delta, bypassing the scheduler's real-clock gate.
//
// Output: per-step CSV to stdout (step, verdict_accuracy, reputation_mean,
// reputation_min, reputation_max). Summary to stderr.
//
// Usage:
//   fleetsim [flags]
//   fleetsim -clients 8 -noisy 3 -steps 500 -seed 42
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	_ "github.com/EverettRichards/edge-vehicle-server/internal/fusion"
	"github.com/EverettRichards/edge-vehicle-server/internal/reputation"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

var slotLabels = []string{"car", "truck", "bike", "pedestrian"}

func main() {
	clientCount := flag.Int("clients", 8, "Total simulated clients")
	noisyCount := flag.Int("noisy", 3, "Number of noisy (unreliable) clients, <= clients")
	steps := flag.Int("steps", 500, "Number of simulated verdict cycles")
	noiseRate := flag.Float64("noise-rate", 0.6, "Probability a noisy client reports the wrong label")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *noisyCount > *clientCount {
		fmt.Fprintln(os.Stderr, "ERROR: -noisy cannot exceed -clients")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	fuser, err := contrib.GetFuser("categorical")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	scene := sceneconfig.Document{
		ObjectLocations: map[string]sceneconfig.Position{
			"slot_0": {X: 0, Y: 0},
			"slot_1": {X: 10, Y: 0},
		},
	}
	truth := map[string]string{"slot_0": "car", "slot_1": "truck"}

	registry := clientset.NewRegistry()
	for i := 0; i < *clientCount; i++ {
		name := fmt.Sprintf("sim-client-%02d", i)
		if err := registry.Register(name); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: register %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	params := reputation.Params{Increment: 0.005, Decrement: 0.010, MinReputation: 0.35}

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"step", "verdict_accuracy", "reputation_mean", "reputation_min", "reputation_max"})

	now := time.Now()
	for step := 0; step < *steps; step++ {
		now = now.Add(time.Second)
		for i := 0; i < *clientCount; i++ {
			name := fmt.Sprintf("sim-client-%02d", i)
			noisy := i < *noisyCount
			obs := clientset.CategoricalObservation{}
			for slot, label := range truth {
				reported := label
				if noisy && rng.Float64() < *noiseRate {
					reported = slotLabels[rng.Intn(len(slotLabels))]
				}
				obs[slot] = clientset.SlotReport{Label: reported, Confidence: 0.9, Distance: 5.0}
			}
			if err := registry.RecordObservation(name, clientset.Observation{Categorical: obs}, now); err != nil {
				fmt.Fprintf(os.Stderr, "FATAL: record observation for %s: %v\n", name, err)
				os.Exit(1)
			}
		}

		views := registry.Snapshot(now, time.Hour)
		verdict, err := fuser.Fuse(contrib.FusionSnapshot{Now: now, Clients: views, Scene: scene})
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: fusion failed at step %d: %v\n", step, err)
			os.Exit(1)
		}

		correct := 0
		for slot, want := range truth {
			if verdict[slot] == want {
				correct++
			}
		}
		accuracy := float64(correct) / float64(len(truth))

		if reputation.ShouldUpdate(len(views)) {
			for _, v := range views {
				res := reputation.ApplyCategorical(v, verdict, params)
				_ = registry.SetReputation(v.Name, res.NewReputation)
			}
		}

		min, max, sum := 1.0, 0.0, 0.0
		for _, v := range registry.Snapshot(now, time.Hour) {
			if v.Reputation < min {
				min = v.Reputation
			}
			if v.Reputation > max {
				max = v.Reputation
			}
			sum += v.Reputation
		}
		mean := sum / float64(*clientCount)

		_ = w.Write([]string{
			strconv.Itoa(step),
			strconv.FormatFloat(accuracy, 'f', 4, 64),
			strconv.FormatFloat(mean, 'f', 6, 64),
			strconv.FormatFloat(min, 'f', 6, 64),
			strconv.FormatFloat(max, 'f', 6, 64),
		})
	}
	w.Flush()

	final := registry.Snapshot(now, time.Hour)
	var finalMin, finalMax float64 = 1.0, 0.0
	boundsHeld := true
	for _, v := range final {
		if v.Reputation < params.MinReputation-1e-9 || v.Reputation > 1.0+1e-9 {
			boundsHeld = false
		}
		if v.Reputation < finalMin {
			finalMin = v.Reputation
		}
		if v.Reputation > finalMax {
			finalMax = v.Reputation
		}
	}

	fmt.Fprintf(os.Stderr, "\n=== FLEET SIMULATION SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "Clients: %d (noisy: %d, noise rate: %.2f)\n", *clientCount, *noisyCount, *noiseRate)
	fmt.Fprintf(os.Stderr, "Steps: %d\n", *steps)
	fmt.Fprintf(os.Stderr, "Final reputation range: [%.4f, %.4f]\n", finalMin, finalMax)
	fmt.Fprintf(os.Stderr, "Reputation bounds held (P1): %v\n", boundsHeld)

	if !boundsHeld {
		fmt.Fprintln(os.Stderr, "RESULT: FAIL — reputation left [min_reputation, 1.0]")
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, "RESULT: PASS")
}
