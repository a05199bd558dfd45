// Package display renders the broker's verbose console output: colorized
// lifecycle lines and, for the parking variant, a bounded-run progress
// report. Grounded on colors.py's prCyan/prRed/prGreen/prYellow/prPurple
// helpers from main_broker.py/parking_broker.py, reimplemented with
// github.com/fatih/color's SprintFunc pattern (see
// estuary-flow/go/flowctl/cmd-test.go), and on parking_broker.py's
// print_decision_report progress bar, reimplemented with
// github.com/pterm/pterm.
//
// The broker calls the lifecycle, skip and progress helpers only when
// show_verbose_output is set; the failure lines (ClientAddFailed,
// ClientRemoveFailed, ConfigRequestFailed) are printed regardless of it.
package display

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	purple = color.New(color.FgMagenta).SprintFunc()
)

// ClientAdded reports a successful registration.
func ClientAdded(name string) {
	fmt.Println(cyan("Added client: " + name))
}

// ClientAddFailed reports a duplicate-registration attempt.
func ClientAddFailed(name string) {
	fmt.Println(red("Failed to add client. Client already exists: " + name))
}

// ClientRemoved reports a successful unregistration.
func ClientRemoved(name string) {
	fmt.Println(cyan("Removed client: " + name))
}

// ClientRemoveFailed reports an unregister attempt against an unknown client.
func ClientRemoveFailed(name string) {
	fmt.Println(red("Failed to remove client. Client not found: " + name))
}

// SingleClientSkip reports that reputation updates were skipped because
// fewer than two clients are registered.
func SingleClientSkip() {
	fmt.Println(purple("Only one client, no reputation changes to be made."))
}

// BusConnected reports a successful bus connection.
func BusConnected() {
	fmt.Println(cyan("Connected to bus"))
}

// ConfigRequestFailed reports a malformed or rejected configuration request.
func ConfigRequestFailed(reason string) {
	fmt.Println(red("Failed to satisfy config request: " + reason))
}

// AccuracyReport formats a client's rolling accuracy history the way
// getAccuracyReport does, or a placeholder if the client has no history.
func AccuracyReport(sampleCount int, meanAccuracyPct float64) string {
	if sampleCount == 0 {
		return "No decisions made yet."
	}
	return fmt.Sprintf("Accuracy of last %s votes: %s%%",
		yellow(sampleCount), green(round3(meanAccuracyPct)))
}

// DecisionSummary formats the mean-accuracy line of the decision report.
func DecisionSummary(sampleCount int, meanAccuracyPct float64) string {
	return fmt.Sprintf("Mean accuracy in last %s verdicts: %s%%",
		yellow(sampleCount), green(round3(meanAccuracyPct)))
}

// ProgressReport renders a bounded-run progress bar via pterm (in place of
// print_decision_report's hand-rolled '#'/'.' bar) and returns the
// accompanying progress/ETA summary line.
func ProgressReport(verdictsPastWarmup, maxDecisionHistory int, elapsed time.Duration) string {
	if maxDecisionHistory <= 0 {
		maxDecisionHistory = 1
	}
	pct := float64(verdictsPastWarmup) / float64(maxDecisionHistory) * 100

	avgPerVerdict := 1.0
	if verdictsPastWarmup > 0 {
		avgPerVerdict = elapsed.Seconds() / float64(verdictsPastWarmup)
		if avgPerVerdict < 0.1 || avgPerVerdict > 2 {
			avgPerVerdict = 1
		}
	}
	remaining := maxDecisionHistory - verdictsPastWarmup
	if remaining < 0 {
		remaining = 0
	}
	eta := round3(float64(remaining) * avgPerVerdict)

	bar, _ := pterm.DefaultProgressbar.
		WithTotal(maxDecisionHistory).
		WithTitle("verdicts").
		Start()
	bar.Add(verdictsPastWarmup)
	_, _ = bar.Stop()

	return fmt.Sprintf("Progress: %s/%d (%s%%). ETA: %ss",
		yellow(verdictsPastWarmup), maxDecisionHistory,
		green(round3(pct)), yellow(eta))
}

func round3(v float64) float64 {
	const scale = 1000.0
	return float64(int(v*scale+0.5)) / scale
}
