// Package scheduler implements the Verdict Scheduler: a minimum-refresh-
// interval gate invoked unconditionally on every inbound observation. No
// timer or run-controller tick invokes it; without inbound observations no
// verdict cycle runs, in either variant. Grounded in
// shape on internal/budget/token_bucket.go (a mutex-protected rate
// primitive with a constructor validating its parameters) but realized
// with golang.org/x/time/rate.Limiter rather than a hand-rolled token
// bucket: spec §4.7's gate is a single "has enough time elapsed"
// check, not a cost-weighted budget, and rate.Limiter's Allow() is an
// exact semantic fit.
package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler gates verdict computation by a minimum refresh interval.
// Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	last    time.Time
	hasRun  bool
}

// New returns a Scheduler that allows at most one verdict per
// minRefresh, with an initial burst of 1 so the very first call always
// proceeds.
func New(minRefresh time.Duration) *Scheduler {
	every := rate.Every(minRefresh)
	return &Scheduler{limiter: rate.NewLimiter(every, 1)}
}

// MaybeVerdict reports whether a verdict cycle should run at now. If it
// returns true, the caller must run the fusion + reputation pipeline; the
// gate itself has no other side effect. Safe to call unconditionally from
// any event (spec §4.7).
func (s *Scheduler) MaybeVerdict(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limiter.AllowN(now, 1) {
		return false
	}
	s.last = now
	s.hasRun = true
	return true
}

// LastVerdictTime returns the wall-clock time of the most recent verdict
// this scheduler allowed, or the zero time if none has run yet.
func (s *Scheduler) LastVerdictTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRun {
		return time.Time{}
	}
	return s.last
}
