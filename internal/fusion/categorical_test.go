package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

func scene(slots ...string) sceneconfig.Document {
	locs := make(map[string]sceneconfig.Position, len(slots))
	for _, s := range slots {
		locs[s] = sceneconfig.Position{}
	}
	return sceneconfig.Document{ObjectLocations: locs}
}

func TestCategoricalSingleClient(t *testing.T) {
	now := time.Now()
	snap := contrib.FusionSnapshot{
		Now:   now,
		Scene: scene("A", "B"),
		Clients: []clientset.ClientView{
			{
				Name:       "c1",
				Reputation: 0.5,
				Observation: &clientset.Observation{
					RecordedAt: now,
					Categorical: clientset.CategoricalObservation{
						"A": {Label: "X", Confidence: 0.9, Distance: 5.0},
						"B": {Label: "Y", Confidence: 0.8, Distance: 3.0},
					},
				},
			},
		},
	}

	c := &Categorical{}
	verdict, err := c.Fuse(snap)
	require.NoError(t, err)
	require.Equal(t, "X", verdict["A"])
	require.Equal(t, "Y", verdict["B"])
}

func TestCategoricalReputationPullsWinner(t *testing.T) {
	now := time.Now()
	snap := contrib.FusionSnapshot{
		Now:   now,
		Scene: scene("A"),
		Clients: []clientset.ClientView{
			{
				Name:       "c1",
				Reputation: 0.9,
				Observation: &clientset.Observation{
					RecordedAt:  now,
					Categorical: clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.5, Distance: 10}},
				},
			},
			{
				Name:       "c2",
				Reputation: 0.5,
				Observation: &clientset.Observation{
					RecordedAt:  now,
					Categorical: clientset.CategoricalObservation{"A": {Label: "Y", Confidence: 0.9, Distance: 10}},
				},
			},
		},
	}

	c := &Categorical{}
	verdict, err := c.Fuse(snap)
	require.NoError(t, err)
	// Weight X = 0.5*0.9/log(10) == Weight Y = 0.9*0.5/log(10): tie, first-seen (c1 -> X) wins.
	require.Equal(t, "X", verdict["A"])

	snap.Clients[1].Observation.Categorical["A"] = clientset.SlotReport{Label: "Y", Confidence: 0.8, Distance: 10}
	verdict, err = c.Fuse(snap)
	require.NoError(t, err)
	require.Equal(t, "X", verdict["A"])
}

func TestCategoricalAllStaleYieldsNone(t *testing.T) {
	now := time.Now()
	snap := contrib.FusionSnapshot{
		Now:   now,
		Scene: scene("A"),
		Clients: []clientset.ClientView{
			{Name: "c1", Reputation: 0.5, Observation: nil},
		},
	}

	c := &Categorical{}
	verdict, err := c.Fuse(snap)
	require.NoError(t, err)
	require.Equal(t, "None", verdict["A"])
}

func TestCategoricalNumericGuardSkipsNonPositiveLog(t *testing.T) {
	now := time.Now()
	snap := contrib.FusionSnapshot{
		Now:   now,
		Scene: scene("A"),
		Clients: []clientset.ClientView{
			{
				Name:       "c1",
				Reputation: 0.5,
				Observation: &clientset.Observation{
					RecordedAt:  now,
					Categorical: clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 1.0}},
				},
			},
		},
	}

	c := &Categorical{}
	verdict, err := c.Fuse(snap)
	require.NoError(t, err)
	require.Equal(t, "None", verdict["A"])
}

func TestCategoricalDeterministic(t *testing.T) {
	now := time.Now()
	snap := contrib.FusionSnapshot{
		Now:   now,
		Scene: scene("A", "B"),
		Clients: []clientset.ClientView{
			{
				Name:       "c1",
				Reputation: 0.7,
				Observation: &clientset.Observation{
					RecordedAt: now,
					Categorical: clientset.CategoricalObservation{
						"A": {Label: "X", Confidence: 0.9, Distance: 5.0},
						"B": {Label: "Y", Confidence: 0.8, Distance: 3.0},
					},
				},
			},
		},
	}

	c := &Categorical{}
	v1, err := c.Fuse(snap)
	require.NoError(t, err)
	v2, err := c.Fuse(snap)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}
