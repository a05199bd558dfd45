package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

func TestApplyCategoricalMixedAgreementNetsZero(t *testing.T) {
	view := clientset.ClientView{
		Reputation: 0.5,
		Observation: &clientset.Observation{
			Categorical: clientset.CategoricalObservation{
				"A": {Label: "X"},
				"B": {Label: "Y"},
			},
		},
	}
	verdict := contrib.Verdict{"A": "X", "B": "Z"}
	p := Params{Increment: 0.005, Decrement: 0.010, MinReputation: 0.35}

	result := ApplyCategorical(view, verdict, p)
	require.Equal(t, 1, result.Disagreements)
	require.InDelta(t, 0.5, result.NewReputation, 1e-9) // +1 agree, -1 disagree: sum 0
}

func TestApplyCategoricalNoneVerdictContributesNothing(t *testing.T) {
	view := clientset.ClientView{
		Reputation: 0.5,
		Observation: &clientset.Observation{
			Categorical: clientset.CategoricalObservation{},
		},
	}
	verdict := contrib.Verdict{"A": "None"}
	p := Params{Increment: 0.005, Decrement: 0.010, MinReputation: 0.35}

	result := ApplyCategorical(view, verdict, p)
	require.Equal(t, 0, result.Disagreements)
	require.Equal(t, 0.5, result.NewReputation)
}

func TestApplyCategoricalClampsToFloor(t *testing.T) {
	view := clientset.ClientView{
		Reputation: 0.36,
		Observation: &clientset.Observation{
			Categorical: clientset.CategoricalObservation{"A": {Label: "wrong"}},
		},
	}
	verdict := contrib.Verdict{"A": "right"}
	p := Params{Increment: 0.5, Decrement: 0.5, MinReputation: 0.35}

	result := ApplyCategorical(view, verdict, p)
	require.Equal(t, 0.35, result.NewReputation)
}

func TestApplyParkingHitRatio(t *testing.T) {
	scene := sceneconfig.Document{
		OccupiedParkingSpotLocations: []sceneconfig.Position{{X: 0, Y: 0}, {X: 10, Y: 0}},
	}
	view := clientset.ClientView{
		Reputation: 0.5,
		Observation: &clientset.Observation{
			Parking: clientset.ParkingObservation{
				{Text: "ABC", X: 0.1, Y: 0},
				{Text: "XYZ", X: 9.9, Y: 0},
			},
		},
	}
	verdict := contrib.Verdict{"0": "ABC", "1": "XYZ"}
	p := Params{Increment: 0.005, Decrement: 0.010, MinReputation: 0.35}

	result := ApplyParking(view, verdict, scene, p)
	require.InDelta(t, 1.0, result.HitRatio, 1e-9)
	require.Greater(t, result.NewReputation, view.Reputation)
}

func TestShouldUpdateRequiresTwoClients(t *testing.T) {
	require.False(t, ShouldUpdate(0))
	require.False(t, ShouldUpdate(1))
	require.True(t, ShouldUpdate(2))
}
