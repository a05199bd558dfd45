package display

import (
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestAccuracyReportNoHistory(t *testing.T) {
	require.Equal(t, "No decisions made yet.", AccuracyReport(0, 0))
}

func TestAccuracyReportWithHistory(t *testing.T) {
	out := AccuracyReport(12, 83.333)
	require.Contains(t, out, "Accuracy of last 12 votes")
	require.Contains(t, out, "83.333%")
}

func TestDecisionSummaryFormatsAccuracy(t *testing.T) {
	out := DecisionSummary(40, 91.5)
	require.Contains(t, out, "Mean accuracy in last 40 verdicts")
	require.Contains(t, out, "91.5%")
}

func TestProgressReportZeroElapsed(t *testing.T) {
	out := ProgressReport(5, 20, 0)
	require.True(t, strings.Contains(out, "Progress: 5/20"))
	require.True(t, strings.Contains(out, "ETA:"))
}

func TestProgressReportAtCompletion(t *testing.T) {
	out := ProgressReport(20, 20, 10*time.Second)
	require.Contains(t, out, "Progress: 20/20 (100%)")
}
