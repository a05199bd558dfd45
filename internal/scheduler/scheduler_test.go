package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaybeVerdictGatesByInterval(t *testing.T) {
	s := New(500 * time.Millisecond)
	base := time.Unix(1000, 0)

	require.True(t, s.MaybeVerdict(base))
	require.False(t, s.MaybeVerdict(base.Add(100*time.Millisecond)))
	require.False(t, s.MaybeVerdict(base.Add(499*time.Millisecond)))
	require.True(t, s.MaybeVerdict(base.Add(500*time.Millisecond)))
}

func TestMaybeVerdictSpacingHolds(t *testing.T) {
	s := New(200 * time.Millisecond)
	base := time.Unix(2000, 0)

	var fired []time.Time
	for i := 0; i < 2000; i++ {
		now := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if s.MaybeVerdict(now) {
			fired = append(fired, now)
		}
	}

	for i := 1; i < len(fired); i++ {
		require.GreaterOrEqual(t, fired[i].Sub(fired[i-1]), 200*time.Millisecond)
	}
}
