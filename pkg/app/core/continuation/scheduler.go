// Package continuation tracks pairs whose matching round ran out of steps
// and arranges a single delayed follow-up call to resume them.
//
// The armed flag is set when a dispatch is requested and cleared only by
// the continuation call itself once nothing is outstanding, so at most
// one continuation is ever in flight.
package continuation

import (
	"time"

	"github.com/uhyunpark/hyperdex/pkg/app/core/global"
)

// Dispatch describes a continuation call to deliver later.
type Dispatch struct {
	MaxSteps int       `json:"max_steps"`
	Due      time.Time `json:"due"`
}

type Scheduler struct {
	Delay    time.Duration
	MaxSteps int
}

func New(delay time.Duration, maxSteps int) *Scheduler {
	return &Scheduler{Delay: delay, MaxSteps: maxSteps}
}

// Track records the outcome of a round for pairID. It returns true when
// the caller must dispatch a continuation.
func (s *Scheduler) Track(g *global.State, pairID uint64, paused bool) bool {
	if !paused {
		g.RemoveOutstanding(pairID)
		return false
	}
	g.AddOutstanding(pairID)
	if g.Armed {
		return false
	}
	g.SetArmed(true)
	return true
}

// Settle is called at the end of a continuation call. It clears the armed
// flag when no work is left, otherwise keeps it set and asks for the next
// dispatch. While matching is inactive the flag stays set but nothing is
// dispatched; Resume picks the work up after a restart.
func (s *Scheduler) Settle(g *global.State, active bool) bool {
	if len(g.Outstanding) == 0 {
		g.SetArmed(false)
		return false
	}
	g.SetArmed(true)
	return active
}

// Resume reports whether a restarted process must re-dispatch the
// continuation that was in flight when it stopped.
func (s *Scheduler) Resume(g *global.State) bool {
	return g.Armed
}

// Next builds the dispatch for a continuation requested at now.
func (s *Scheduler) Next(now time.Time) Dispatch {
	return Dispatch{MaxSteps: s.MaxSteps, Due: now.Add(s.Delay)}
}
