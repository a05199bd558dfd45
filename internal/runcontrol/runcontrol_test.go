package runcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControllerTransitionsAtThreshold(t *testing.T) {
	c := New(5) // threshold = 15
	require.Equal(t, 15, c.Threshold())

	for i := 0; i < 15; i++ {
		state := c.RecordVerdict(1.0)
		require.Equal(t, StateRunning, state)
	}

	state := c.RecordVerdict(1.0)
	require.Equal(t, StateFinishing, state)
	require.True(t, state.IsTerminal() == false)

	c.MarkDone()
	require.Equal(t, StateDone, c.State())
	require.True(t, c.State().IsTerminal())
}

func TestControllerHistoryBounded(t *testing.T) {
	c := New(3)
	for i := 0; i < 5; i++ {
		c.RecordVerdict(float64(i))
	}
	require.Equal(t, []float64{2, 3, 4}, c.AccuracyHistory())
}

func TestControllerMeanAccuracy(t *testing.T) {
	c := New(10)
	c.RecordVerdict(1.0)
	c.RecordVerdict(0.0)
	require.InDelta(t, 0.5, c.MeanAccuracy(), 1e-9)
}
