package session

import "github.com/go-tether/tether/pkg/agent"

// BreakpointObserver receives notifications about breakpoint state
// changes. Observers run synchronously on the session loop and must not
// block.
type BreakpointObserver interface {
	// BreakpointMatched runs after a breakpoint's resolved locations or
	// settings change. newlyBound is true when automatic rebinding (a
	// module load or process attach) bound addresses the breakpoint did
	// not have before; it is false otherwise, including every change the
	// user initiated.
	BreakpointMatched(bp *Breakpoint, newlyBound bool)

	// BreakpointUpdateFailed runs when the agent reported an error for a
	// breakpoint install or removal, or the request could not be sent.
	// The breakpoint's local state is unchanged; a later settings change
	// retries the sync.
	BreakpointUpdateFailed(bp *Breakpoint, err error)

	// BreakpointHit runs when the agent reports that bp triggered, after
	// the hit statistics have been updated. One-shot breakpoints are
	// still alive when this runs and are deleted right after.
	BreakpointHit(bp *Breakpoint, hit agent.BreakpointHitNotify)
}

func (s *Session) notifyMatched(bp *Breakpoint, newlyBound bool) {
	for _, o := range s.observers {
		o.BreakpointMatched(bp, newlyBound)
	}
}

func (s *Session) notifyUpdateFailed(bp *Breakpoint, err error) {
	for _, o := range s.observers {
		o.BreakpointUpdateFailed(bp, err)
	}
}

func (s *Session) notifyHit(bp *Breakpoint, hit agent.BreakpointHitNotify) {
	for _, o := range s.observers {
		o.BreakpointHit(bp, hit)
	}
}
