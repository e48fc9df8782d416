package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-tether/tether/pkg/agent"
	"github.com/go-tether/tether/pkg/session"
	"github.com/go-tether/tether/pkg/symbol"
)

// A symbolic breakpoint created before any process exists must stay
// silent, bind when the module providing its symbol loads, and announce
// the new binding.
func TestNameBreakpointBindsOnModuleLoad(t *testing.T) {
	s, client := newSession()
	obs := &recorder{}
	s.AddBreakpointObserver(obs)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Zero(t, client.Requests(), "unresolved breakpoint must not touch the agent")

	tgt := s.CreateTarget("app")
	p, err := s.ProcessCreated(tgt, 0x42, "app.elf")
	require.NoError(t, err)
	require.Zero(t, client.Requests(), "no symbols mapped yet")

	s.ModulesChanged(p, []symbol.ModuleInfo{
		{Name: "app.elf", BuildID: "buildapp", LoadAddress: 0x10000},
	})
	s.RunPending()

	locs := bp.Locations()
	require.Len(t, locs, 1)
	require.Equal(t, uint64(0x10400), locs[0].Address)
	require.True(t, locs[0].Enabled)
	require.Equal(t, symbol.LocationSymbolized, locs[0].Location.State)
	require.Equal(t, "main", locs[0].Location.Function)
	require.Equal(t, "app/main.cc", locs[0].Location.File)
	require.Equal(t, 10, locs[0].Location.Line)

	require.Len(t, client.AddRequests, 1)
	require.Empty(t, client.RemoveRequests)
	sent := client.AddRequests[0].Breakpoint
	require.Equal(t, bp.ID(), sent.ID)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x10400},
	}, sent.Locations)

	require.Equal(t, []string{
		"matched 1 bound=false",
		"matched 1 bound=true",
	}, obs.events)
}

// Function breakpoints land past the prologue when the line table marks
// one.
func TestNameBreakpointSkipsProloguePastEntry(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	_, err := s.CreateBreakpoint(enabledAt(t, "Widget::Paint"))
	require.NoError(t, err)

	require.Len(t, client.AddRequests, 1)
	require.Equal(t, uint64(0x10508), client.AddRequests[0].Breakpoint.Locations[0].Address)
}

// A breakpoint with no enabled resolved locations that was never
// installed must produce no agent traffic at all.
func TestSyncSuppression(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "NoSuchFunction"))
	require.NoError(t, err)
	require.Empty(t, bp.Locations())

	st := bp.Settings()
	st.Enabled = false
	require.NoError(t, bp.SetSettings(st))
	st.Enabled = true
	require.NoError(t, bp.SetSettings(st))
	s.DeleteBreakpoint(bp)
	s.RunPending()

	require.Zero(t, client.Requests())
}

// Address breakpoints need no symbols and bind as soon as a process in
// scope exists. Resolution must not symbolize or shift them.
func TestAddressBreakpointBindsWithoutSymbols(t *testing.T) {
	s, client := newSession()
	tgt := s.CreateTarget("app")
	_, err := s.ProcessCreated(tgt, 0x42, "app.elf")
	require.NoError(t, err)

	bp, err := s.CreateBreakpoint(enabledAt(t, "*0x9000"))
	require.NoError(t, err)

	locs := bp.Locations()
	require.Len(t, locs, 1)
	require.Equal(t, uint64(0x9000), locs[0].Address)
	require.Equal(t, symbol.LocationAddress, locs[0].Location.State)
	require.Empty(t, locs[0].Location.File)

	require.Len(t, client.AddRequests, 1)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x9000},
	}, client.AddRequests[0].Breakpoint.Locations)
}

// When its process dies, a purely address-configured breakpoint has
// nothing left to rebind and must disable itself.
func TestProcessExitDisablesAddressBreakpoint(t *testing.T) {
	s, client := newSession()
	obs := &recorder{}
	s.AddBreakpointObserver(obs)
	_, p := startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "*0x9000"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	s.ProcessDestroyed(p)
	s.RunPending()

	require.False(t, bp.Settings().Enabled)
	require.Empty(t, bp.Locations())
	require.Len(t, client.RemoveRequests, 1)
	require.Equal(t, bp.ID(), client.RemoveRequests[0].BreakpointID)
	require.Contains(t, obs.events, "matched 1 bound=false")
}

// A symbolic breakpoint survives its process: it keeps its settings,
// loses its locations, and rebinds against the next process.
func TestProcessExitKeepsSymbolicBreakpoint(t *testing.T) {
	s, client := newSession()
	_, p := startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	s.ProcessDestroyed(p)
	require.True(t, bp.Settings().Enabled)
	require.Empty(t, bp.Locations())
	require.Len(t, client.RemoveRequests, 1)

	startProcess(t, s, 0x55)
	s.RunPending()

	require.Len(t, client.AddRequests, 2)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x55, Address: 0x10400},
	}, client.AddRequests[1].Breakpoint.Locations)
}

// A breakpoint with both symbolic and address locations is not "all
// addresses" and must stay enabled across a process exit.
func TestProcessExitKeepsMixedBreakpoint(t *testing.T) {
	s, _ := newSession()
	_, p := startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main", "*0x9000"))
	require.NoError(t, err)
	require.Len(t, bp.Locations(), 2)

	s.ProcessDestroyed(p)
	require.True(t, bp.Settings().Enabled)
	require.Empty(t, bp.Locations())
}

// Destroying the thread a breakpoint is scoped to demotes it to a
// disabled breakpoint on the owning target.
func TestThreadDestroyedDemotesToTargetScope(t *testing.T) {
	s, client := newSession()
	tgt, p := startProcess(t, s, 0x42)
	th := s.ThreadCreated(p, 7)

	st := enabledAt(t, "main")
	st.Scope = session.ScopeThread
	st.Thread = th
	bp, err := s.CreateBreakpoint(st)
	require.NoError(t, err)

	require.Len(t, client.AddRequests, 1)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Thread: 7, Address: 0x10400},
	}, client.AddRequests[0].Breakpoint.Locations)

	s.ThreadDestroyed(th)
	s.RunPending()

	got := bp.Settings()
	require.False(t, got.Enabled)
	require.Equal(t, session.ScopeTarget, got.Scope)
	require.Same(t, tgt, got.Target)
	require.Nil(t, got.Thread)
	require.Len(t, client.RemoveRequests, 1)
}

// Destroying the target a breakpoint is scoped to demotes it to a
// disabled system-wide breakpoint.
func TestTargetDestroyedDemotesToSystemScope(t *testing.T) {
	s, client := newSession()
	tgt, _ := startProcess(t, s, 0x42)

	st := enabledAt(t, "main")
	st.Scope = session.ScopeTarget
	st.Target = tgt
	bp, err := s.CreateBreakpoint(st)
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	s.DestroyTarget(tgt)
	s.RunPending()

	got := bp.Settings()
	require.False(t, got.Enabled)
	require.Equal(t, session.ScopeSystem, got.Scope)
	require.Nil(t, got.Target)
	require.Nil(t, got.Thread)
	require.Len(t, client.RemoveRequests, 1)
	require.Empty(t, s.Targets())
}

// Unloading a module must drop the addresses that resolved inside it
// while keeping those from modules still mapped.
func TestModuleUnloadDropsItsAddresses(t *testing.T) {
	s, client := newSession()
	_, p := startProcess(t, s, 0x42)
	s.ModulesChanged(p, []symbol.ModuleInfo{
		{Name: "app.elf", BuildID: "buildapp", LoadAddress: 0x10000},
		{Name: "libnet.so", BuildID: "buildlib", LoadAddress: 0x20000},
	})

	bp, err := s.CreateBreakpoint(enabledAt(t, "main", "Connect"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x10400},
		{Process: 0x42, Address: 0x20100},
	}, client.AddRequests[0].Breakpoint.Locations)

	s.ModulesChanged(p, []symbol.ModuleInfo{
		{Name: "app.elf", BuildID: "buildapp", LoadAddress: 0x10000},
	})
	s.RunPending()

	locs := bp.Locations()
	require.Len(t, locs, 1)
	require.Equal(t, uint64(0x10400), locs[0].Address)

	require.Len(t, client.AddRequests, 2)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x10400},
	}, client.AddRequests[1].Breakpoint.Locations)
}

// Disabling removes the installed breakpoint, re-enabling reinstalls
// it, and a settings write that changes nothing sends nothing.
func TestResyncOnlyOnChange(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	same := bp.Settings()
	require.NoError(t, bp.SetSettings(same))
	require.Len(t, client.AddRequests, 1, "identical settings must not resend")

	changed := bp.Settings()
	changed.StopMode = agent.StopThread
	require.NoError(t, bp.SetSettings(changed))
	require.Len(t, client.AddRequests, 2)
	require.Equal(t, agent.StopThread, client.AddRequests[1].Breakpoint.StopMode)

	disabled := bp.Settings()
	disabled.Enabled = false
	require.NoError(t, bp.SetSettings(disabled))
	require.Len(t, client.RemoveRequests, 1)

	enabled := bp.Settings()
	enabled.Enabled = true
	require.NoError(t, bp.SetSettings(enabled))
	require.Len(t, client.AddRequests, 3)
	s.RunPending()
}

// Individual resolved addresses can be turned off without disabling the
// breakpoint.
func TestSetLocationEnabled(t *testing.T) {
	s, client := newSession()
	_, p := startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	require.False(t, bp.SetLocationEnabled(p, 0xdead, false))

	require.True(t, bp.SetLocationEnabled(p, 0x10400, false))
	require.Len(t, client.RemoveRequests, 1, "last enabled address gone, breakpoint uninstalls")
	require.True(t, bp.Settings().Enabled)

	require.True(t, bp.SetLocationEnabled(p, 0x10400, true))
	require.Len(t, client.AddRequests, 2)
	s.RunPending()
}

// Watchpoint settings must travel to the agent: type, stop policy and
// the watched size on every location.
func TestWatchpointWireSettings(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	st := enabledAt(t, "*0x9000")
	st.Type = agent.WriteWatch
	st.Size = 4
	st.StopMode = agent.StopProcess
	st.OneShot = true
	_, err := s.CreateBreakpoint(st)
	require.NoError(t, err)

	require.Len(t, client.AddRequests, 1)
	sent := client.AddRequests[0].Breakpoint
	require.Equal(t, agent.WriteWatch, sent.Type)
	require.Equal(t, agent.StopProcess, sent.StopMode)
	require.True(t, sent.OneShot)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x9000, Size: 4},
	}, sent.Locations)
}

// Deleting an installed breakpoint tears down the agent state, and the
// completion arriving after deletion is dropped quietly.
func TestDeleteInstalledBreakpoint(t *testing.T) {
	s, client := newSession()
	client.Manual = true
	obs := &recorder{}
	s.AddBreakpointObserver(obs)
	startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	s.DeleteBreakpoint(bp)
	require.Len(t, client.RemoveRequests, 1)
	require.Nil(t, s.BreakpointByID(bp.ID()))

	client.Flush()
	s.RunPending()
	require.Empty(t, obs.failed)
}

// An agent rejection reaches the failure observer, leaves the
// breakpoint alive, and a later settings change retries the install.
func TestAgentRejectionNotifiesObserver(t *testing.T) {
	s, client := newSession()
	client.AddStatus = agent.StatusNoResources
	obs := &recorder{}
	s.AddBreakpointObserver(obs)
	startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)
	s.RunPending()

	require.Len(t, obs.failed, 1)
	var statusErr *agent.StatusError
	require.ErrorAs(t, obs.failed[0], &statusErr)
	require.Equal(t, agent.StatusNoResources, statusErr.Status)
	require.Same(t, bp, s.BreakpointByID(bp.ID()))

	client.AddStatus = agent.StatusOK
	changed := bp.Settings()
	changed.StopMode = agent.StopThread
	require.NoError(t, bp.SetSettings(changed))
	s.RunPending()
	require.Len(t, client.AddRequests, 2)
	require.Len(t, obs.failed, 1)
}

// A transport failure is reported the same way.
func TestTransportFailureNotifiesObserver(t *testing.T) {
	s, client := newSession()
	client.Err = errTransport
	obs := &recorder{}
	s.AddBreakpointObserver(obs)
	startProcess(t, s, 0x42)

	_, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	s.RunPending()

	require.Len(t, obs.failed, 1)
	require.ErrorIs(t, obs.failed[0], errTransport)
}

// Hits accumulate on the breakpoint; hits for retired ids are dropped.
func TestHitStats(t *testing.T) {
	s, _ := newSession()
	startProcess(t, s, 0x42)

	bp, err := s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)

	s.HandleBreakpointHit(agent.BreakpointHitNotify{
		BreakpointID: bp.ID(), Process: 0x42, Thread: 7, HitCount: 1,
	})
	s.HandleBreakpointHit(agent.BreakpointHitNotify{
		BreakpointID: bp.ID(), Process: 0x42, Thread: 9, HitCount: 2,
	})
	require.Equal(t, uint64(2), bp.Stats().HitCount)
	require.Equal(t, uint64(9), bp.Stats().LastHitThread)

	s.DeleteBreakpoint(bp)
	s.HandleBreakpointHit(agent.BreakpointHitNotify{
		BreakpointID: bp.ID(), Process: 0x42, Thread: 7, HitCount: 3,
	})
	require.Equal(t, uint64(2), bp.Stats().HitCount)
	s.RunPending()
}

// A one-shot breakpoint deletes itself on its first hit. The agent
// already uninstalled it, so no removal request goes out.
func TestOneShotHitDeletesBreakpoint(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	st := enabledAt(t, "main")
	st.OneShot = true
	bp, err := s.CreateBreakpoint(st)
	require.NoError(t, err)
	require.Len(t, client.AddRequests, 1)

	s.HandleBreakpointHit(agent.BreakpointHitNotify{
		BreakpointID: bp.ID(), Process: 0x42, Thread: 7, HitCount: 1,
	})
	require.Nil(t, s.BreakpointByID(bp.ID()))
	require.Empty(t, client.RemoveRequests)
	s.RunPending()
}

// One breakpoint covering several processes sends every address, tagged
// with its process, in one request.
func TestSystemBreakpointSpansProcesses(t *testing.T) {
	s, client := newSession()
	startProcess(t, s, 0x42)

	tgt2 := s.CreateTarget("second")
	p2, err := s.ProcessCreated(tgt2, 0x55, "app.elf")
	require.NoError(t, err)
	s.ModulesChanged(p2, []symbol.ModuleInfo{
		{Name: "app.elf", BuildID: "buildapp", LoadAddress: 0x70000},
	})

	_, err = s.CreateBreakpoint(enabledAt(t, "main"))
	require.NoError(t, err)
	s.RunPending()

	require.Len(t, client.AddRequests, 1)
	require.Equal(t, []agent.ProcessBreakpointSettings{
		{Process: 0x42, Address: 0x10400},
		{Process: 0x55, Address: 0x70400},
	}, client.AddRequests[0].Breakpoint.Locations)
}
