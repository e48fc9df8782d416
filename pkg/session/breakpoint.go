package session

import (
	"fmt"
	"sort"

	"github.com/go-tether/tether/pkg/agent"
	"github.com/go-tether/tether/pkg/locspec"
	"github.com/go-tether/tether/pkg/symbol"
)

// BreakpointScope says which executions a breakpoint applies to.
type BreakpointScope uint8

const (
	// ScopeSystem applies the breakpoint to every process.
	ScopeSystem BreakpointScope = iota

	// ScopeTarget applies the breakpoint to one target's process.
	ScopeTarget

	// ScopeThread restricts the breakpoint to a single thread.
	ScopeThread
)

func (s BreakpointScope) String() string {
	switch s {
	case ScopeSystem:
		return "system"
	case ScopeTarget:
		return "target"
	case ScopeThread:
		return "thread"
	}
	return fmt.Sprintf("BreakpointScope(%d)", uint8(s))
}

// BreakpointSettings is the user-controlled state of a breakpoint. The
// whole struct is read and written as a unit.
type BreakpointSettings struct {
	// Enabled gates all resolved locations. A disabled breakpoint keeps
	// its locations but installs nothing.
	Enabled bool

	// Scope selects which executions the breakpoint applies to. Target
	// must be set for ScopeTarget and Thread for ScopeThread.
	Scope  BreakpointScope
	Target *Target
	Thread *Thread

	// Locations are the places to break, resolved against every
	// applicable process.
	Locations []locspec.InputLocation

	Type     agent.BreakpointType
	StopMode agent.StopMode
	OneShot  bool

	// Size is the watched byte range for watchpoint types.
	Size uint32
}

func copySettings(st BreakpointSettings) BreakpointSettings {
	st.Locations = append([]locspec.InputLocation(nil), st.Locations...)
	return st
}

// InvalidSettingsError means breakpoint settings failed validation.
type InvalidSettingsError struct {
	Reason string
}

func (e InvalidSettingsError) Error() string {
	return "invalid breakpoint settings: " + e.Reason
}

func validateSettings(st BreakpointSettings) error {
	if len(st.Locations) == 0 {
		return InvalidSettingsError{Reason: "no locations"}
	}
	for _, in := range st.Locations {
		if in == nil {
			return InvalidSettingsError{Reason: "empty location"}
		}
	}
	switch st.Scope {
	case ScopeSystem:
	case ScopeTarget:
		if st.Target == nil {
			return InvalidSettingsError{Reason: "target scope needs a target"}
		}
	case ScopeThread:
		if st.Thread == nil {
			return InvalidSettingsError{Reason: "thread scope needs a thread"}
		}
	default:
		return InvalidSettingsError{Reason: fmt.Sprintf("unknown scope %d", st.Scope)}
	}
	if st.Type.Sized() && st.Size == 0 {
		return InvalidSettingsError{Reason: st.Type.String() + " breakpoints need a size"}
	}
	if !st.Type.Sized() && st.Size != 0 {
		return InvalidSettingsError{Reason: st.Type.String() + " breakpoints take no size"}
	}
	return nil
}

// BreakpointLocation is one resolved address of a breakpoint in one
// process.
type BreakpointLocation struct {
	Process *Process
	Address uint64

	// Enabled can turn off this one address while the breakpoint stays
	// enabled. It survives rebinding to the same address.
	Enabled bool

	// Location is the symbolized form the address resolved to.
	Location symbol.Location
}

// HitStats accumulates hit reports from the agent.
type HitStats struct {
	// HitCount is the cumulative count the agent last reported.
	HitCount uint64

	// LastHitThread is the thread id of the most recent hit, 0 before
	// the first hit.
	LastHitThread uint64
}

type procRecord struct {
	locs map[uint64]*BreakpointLocation
}

// Breakpoint is one logical breakpoint: user settings plus the set of
// addresses they resolve to in each applicable process. Breakpoints are
// created and mutated only on the session loop.
type Breakpoint struct {
	session *Session
	id      uint32

	settings BreakpointSettings
	procs    map[*Process]*procRecord
	stats    HitStats

	// backendInstalled tracks whether an install request has been issued
	// and not followed by a removal. It flips when a request is sent, not
	// when it completes.
	backendInstalled bool
	lastSent         agent.BreakpointSettings
}

// ID returns the breakpoint id. Ids are assigned once and never reused,
// even after the breakpoint is deleted.
func (bp *Breakpoint) ID() uint32 { return bp.id }

// Settings returns a copy of the current settings.
func (bp *Breakpoint) Settings() BreakpointSettings {
	return copySettings(bp.settings)
}

// Stats returns the accumulated hit statistics.
func (bp *Breakpoint) Stats() HitStats { return bp.stats }

// SetSettings replaces the breakpoint's settings, re-resolves its
// locations in every applicable process and syncs the agent.
func (bp *Breakpoint) SetSettings(st BreakpointSettings) error {
	if err := validateSettings(st); err != nil {
		return err
	}
	bp.settings = copySettings(st)
	for _, p := range bp.session.processes() {
		bp.updateProcess(p)
	}
	bp.syncBackend()
	bp.session.notifyMatched(bp, false)
	return nil
}

// Locations returns every resolved location, enabled or not, ordered by
// process id then address.
func (bp *Breakpoint) Locations() []BreakpointLocation {
	var out []BreakpointLocation
	for _, p := range bp.sortedProcs() {
		rec := bp.procs[p]
		for _, addr := range sortedAddrs(rec) {
			out = append(out, *rec.locs[addr])
		}
	}
	return out
}

// SetLocationEnabled toggles a single resolved address. It returns
// false when the breakpoint has no such location.
func (bp *Breakpoint) SetLocationEnabled(p *Process, addr uint64, enabled bool) bool {
	rec := bp.procs[p]
	if rec == nil {
		return false
	}
	loc := rec.locs[addr]
	if loc == nil {
		return false
	}
	if loc.Enabled != enabled {
		loc.Enabled = enabled
		bp.syncBackend()
		bp.session.notifyMatched(bp, false)
	}
	return true
}

func (bp *Breakpoint) appliesTo(p *Process) bool {
	switch bp.settings.Scope {
	case ScopeSystem:
		return true
	case ScopeTarget:
		return bp.settings.Target == p.target
	case ScopeThread:
		return bp.settings.Thread != nil && bp.settings.Thread.process == p
	}
	return false
}

func (bp *Breakpoint) resolveOptions() symbol.ResolveOptions {
	if locspec.AllAddresses(bp.settings.Locations) {
		return symbol.ResolveOptions{}
	}
	return symbol.ResolveOptions{Symbolize: true, SkipPrologue: true}
}

// updateProcess recomputes the breakpoint's locations in p from scratch
// and reports how many addresses appeared and disappeared. Recomputing
// rather than accumulating means addresses inside an unloaded module
// drop out on the next module list change.
func (bp *Breakpoint) updateProcess(p *Process) (added, removed int) {
	old := bp.procs[p]
	if !bp.appliesTo(p) {
		delete(bp.procs, p)
		if old != nil {
			removed = len(old.locs)
		}
		return 0, removed
	}
	rec := &procRecord{locs: make(map[uint64]*BreakpointLocation)}
	opts := bp.resolveOptions()
	for _, input := range bp.settings.Locations {
		for _, candidate := range symbol.ExpandInputLocation(p.symbols, 0, input) {
			for _, loc := range p.symbols.ResolveInputLocation(candidate, opts) {
				if !loc.HasAddress() {
					continue
				}
				if _, ok := rec.locs[loc.Address]; ok {
					continue
				}
				enabled := true
				if old != nil {
					if prev, ok := old.locs[loc.Address]; ok {
						enabled = prev.Enabled
					}
				}
				rec.locs[loc.Address] = &BreakpointLocation{
					Process:  p,
					Address:  loc.Address,
					Enabled:  enabled,
					Location: loc,
				}
			}
		}
	}
	for addr := range rec.locs {
		if old == nil {
			added++
		} else if _, ok := old.locs[addr]; !ok {
			added++
		}
	}
	if old != nil {
		for addr := range old.locs {
			if _, ok := rec.locs[addr]; !ok {
				removed++
			}
		}
	}
	bp.procs[p] = rec
	return added, removed
}

// removeProcess drops p's locations. When every configured location is
// an address, the addresses die with the process, so the breakpoint is
// disabled rather than left waiting for a match that can never happen.
func (bp *Breakpoint) removeProcess(p *Process) {
	rec := bp.procs[p]
	if rec == nil {
		return
	}
	delete(bp.procs, p)
	disabled := false
	if bp.settings.Enabled && locspec.AllAddresses(bp.settings.Locations) {
		bp.settings.Enabled = false
		disabled = true
	}
	if len(rec.locs) > 0 || disabled {
		bp.syncBackend()
	}
	if disabled {
		bp.session.notifyMatched(bp, false)
	}
}

func (bp *Breakpoint) hasEnabledLocation() bool {
	if !bp.settings.Enabled {
		return false
	}
	for _, rec := range bp.procs {
		for _, loc := range rec.locs {
			if loc.Enabled {
				return true
			}
		}
	}
	return false
}

func (bp *Breakpoint) sortedProcs() []*Process {
	procs := make([]*Process, 0, len(bp.procs))
	for p := range bp.procs {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].id < procs[j].id })
	return procs
}

func sortedAddrs(rec *procRecord) []uint64 {
	addrs := make([]uint64, 0, len(rec.locs))
	for addr := range rec.locs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// threadFilter returns the thread id the agent should restrict p's
// locations to, 0 for all threads.
func (bp *Breakpoint) threadFilter(p *Process) uint64 {
	if bp.settings.Scope == ScopeThread && bp.settings.Thread.process == p {
		return bp.settings.Thread.id
	}
	return 0
}

func (bp *Breakpoint) wireSettings() agent.BreakpointSettings {
	ws := agent.BreakpointSettings{
		ID:       bp.id,
		Type:     bp.settings.Type,
		StopMode: bp.settings.StopMode,
		OneShot:  bp.settings.OneShot,
	}
	for _, p := range bp.sortedProcs() {
		rec := bp.procs[p]
		filter := bp.threadFilter(p)
		for _, addr := range sortedAddrs(rec) {
			if !rec.locs[addr].Enabled {
				continue
			}
			pbs := agent.ProcessBreakpointSettings{
				Process: p.id,
				Thread:  filter,
				Address: addr,
			}
			if bp.settings.Type.Sized() {
				pbs.Size = bp.settings.Size
			}
			ws.Locations = append(ws.Locations, pbs)
		}
	}
	return ws
}

func wireSettingsEqual(a, b agent.BreakpointSettings) bool {
	if a.ID != b.ID || a.Type != b.Type || a.StopMode != b.StopMode || a.OneShot != b.OneShot {
		return false
	}
	if len(a.Locations) != len(b.Locations) {
		return false
	}
	for i := range a.Locations {
		if a.Locations[i] != b.Locations[i] {
			return false
		}
	}
	return true
}

// syncBackend reconciles the agent with the breakpoint's current state.
// A breakpoint with no enabled locations that was never installed
// produces no traffic at all. Requests are fire-and-forget: the
// installed flag flips when the request is issued, and completions only
// report failures.
func (bp *Breakpoint) syncBackend() {
	s := bp.session
	if !bp.hasEnabledLocation() {
		if !bp.backendInstalled {
			return
		}
		bp.backendInstalled = false
		bp.lastSent = agent.BreakpointSettings{}
		id := bp.id
		s.log.Debugf("removing breakpoint %d from agent", id)
		s.client.RemoveBreakpoint(agent.RemoveBreakpointRequest{BreakpointID: id}, func(reply agent.RemoveBreakpointReply, err error) {
			s.Post(func() {
				s.syncCompleted(id, fmt.Sprintf("remove breakpoint %d", id), reply.Status, err)
			})
		})
		return
	}
	desired := bp.wireSettings()
	if bp.backendInstalled && wireSettingsEqual(desired, bp.lastSent) {
		return
	}
	bp.backendInstalled = true
	bp.lastSent = desired
	id := bp.id
	s.log.Debugf("installing breakpoint %d with %d locations", id, len(desired.Locations))
	s.client.AddOrChangeBreakpoint(agent.AddOrChangeBreakpointRequest{Breakpoint: desired}, func(reply agent.AddOrChangeBreakpointReply, err error) {
		s.Post(func() {
			s.syncCompleted(id, fmt.Sprintf("install breakpoint %d", id), reply.Status, err)
		})
	})
}
