package provenance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
)

func views() []clientset.ClientView {
	return []clientset.ClientView{
		{Name: "alice", Reputation: 0.6},
		{Name: "bob", Reputation: 0.4},
	}
}

func TestHashDeterministic(t *testing.T) {
	verdict := map[string]string{"slot_1": "car", "slot_0": "truck"}
	h1 := Hash(verdict, views(), "scene-digest", "")
	h2 := Hash(verdict, views(), "scene-digest", "")
	require.Equal(t, h1, h2)
}

func TestHashChangesWithParent(t *testing.T) {
	verdict := map[string]string{"slot_0": "truck"}
	h1 := Hash(verdict, views(), "scene-digest", "")
	h2 := Hash(verdict, views(), "scene-digest", h1)
	require.NotEqual(t, h1, h2)
}

func TestHashInsensitiveToClientOrder(t *testing.T) {
	verdict := map[string]string{"slot_0": "truck"}
	reversed := []clientset.ClientView{views()[1], views()[0]}
	require.Equal(t,
		Hash(verdict, views(), "scene-digest", ""),
		Hash(verdict, reversed, "scene-digest", ""),
	)
}

func TestHashChangesWithObservation(t *testing.T) {
	verdict := map[string]string{"slot_0": "truck"}
	base := clientset.ClientView{
		Name:       "alice",
		Reputation: 0.6,
		Observation: &clientset.Observation{
			Categorical: clientset.CategoricalObservation{
				"slot_0": {Label: "truck", Confidence: 0.9, Distance: 5},
			},
		},
	}
	changed := base
	changed.Observation = &clientset.Observation{
		Categorical: clientset.CategoricalObservation{
			"slot_0": {Label: "car", Confidence: 0.9, Distance: 5},
		},
	}

	h1 := Hash(verdict, []clientset.ClientView{base}, "scene-digest", "")
	h2 := Hash(verdict, []clientset.ClientView{changed}, "scene-digest", "")
	require.NotEqual(t, h1, h2)
}

func TestSceneDigestStable(t *testing.T) {
	a := SceneDigest([]byte(`{"foo":"bar"}`))
	b := SceneDigest([]byte(`{"foo":"bar"}`))
	require.Equal(t, a, b)
	require.NotEqual(t, a, SceneDigest([]byte(`{"foo":"baz"}`)))
}
