package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-tether/tether/pkg/agent"
	"github.com/go-tether/tether/pkg/locspec"
	"github.com/go-tether/tether/pkg/logflags"
	"github.com/go-tether/tether/pkg/symbol"
)

// Session owns the targets, breakpoints and symbol index of one debug
// connection. All session, target and breakpoint state is confined to a
// single goroutine, the session loop: collaborators hand work to it
// with Post, and Run executes the queue. Session methods themselves are
// not safe for concurrent use; call them from the loop.
type Session struct {
	index  *symbol.Index
	client agent.Client
	log    logflags.Logger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	stop      sync.Once
	done      chan struct{}
	targets   []*Target
	observers []BreakpointObserver

	breakpoints         map[uint32]*Breakpoint
	breakpointIDCounter uint32
}

// New returns a session using the given symbol index and agent client.
func New(index *symbol.Index, client agent.Client) *Session {
	return &Session{
		index:       index,
		client:      client,
		log:         logflags.SessionLogger(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		breakpoints: make(map[uint32]*Breakpoint),
	}
}

// Index returns the session's shared symbol index.
func (s *Session) Index() *symbol.Index { return s.index }

// Post queues fn to run on the session loop. It is the only session
// method safe to call from other goroutines.
func (s *Session) Post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) takeQueue() []func() {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	return q
}

// RunPending executes queued tasks until the queue is empty, including
// tasks posted while draining.
func (s *Session) RunPending() {
	for {
		q := s.takeQueue()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

// Run executes posted tasks until Shutdown, then drains the queue one
// last time. The calling goroutine becomes the session loop.
func (s *Session) Run() {
	for {
		s.RunPending()
		select {
		case <-s.wake:
		case <-s.done:
			s.RunPending()
			return
		}
	}
}

// Shutdown makes Run return. Safe to call from any goroutine, more than
// once.
func (s *Session) Shutdown() {
	s.stop.Do(func() { close(s.done) })
}

// AddBreakpointObserver registers o for breakpoint notifications.
func (s *Session) AddBreakpointObserver(o BreakpointObserver) {
	s.observers = append(s.observers, o)
}

// RemoveBreakpointObserver unregisters o.
func (s *Session) RemoveBreakpointObserver(o BreakpointObserver) {
	for i := range s.observers {
		if s.observers[i] == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// CreateTarget adds an empty target to the session.
func (s *Session) CreateTarget(name string) *Target {
	t := &Target{
		session: s,
		name:    name,
		symbols: symbol.NewTargetSymbols(s.index),
	}
	s.targets = append(s.targets, t)
	s.log.Debugf("created target %q", name)
	return t
}

// Targets returns the session's targets in creation order.
func (s *Session) Targets() []*Target {
	return append([]*Target(nil), s.targets...)
}

// DestroyTarget removes t after demoting every breakpoint scoped to it
// to a disabled system-scoped breakpoint.
func (s *Session) DestroyTarget(t *Target) {
	if t.process != nil {
		s.ProcessDestroyed(t.process)
	}
	for _, bp := range s.sortedBreakpoints() {
		if bp.settings.Scope == ScopeTarget && bp.settings.Target == t {
			bp.settings.Enabled = false
			bp.settings.Scope = ScopeSystem
			bp.settings.Target = nil
			bp.settings.Thread = nil
			s.log.Debugf("breakpoint %d demoted to disabled system scope", bp.id)
			bp.syncBackend()
			s.notifyMatched(bp, false)
		}
	}
	for i := range s.targets {
		if s.targets[i] == t {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			break
		}
	}
	t.symbols.Release()
	s.log.Debugf("destroyed target %q", t.name)
}

// processes returns every live process ordered by id.
func (s *Session) processes() []*Process {
	var procs []*Process
	for _, t := range s.targets {
		if t.process != nil {
			procs = append(procs, t.process)
		}
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].id < procs[j].id })
	return procs
}

// ProcessCreated records a new process running under t and resolves
// every applicable breakpoint against it. Address breakpoints bind
// immediately; symbolic ones bind as modules load.
func (s *Session) ProcessCreated(t *Target, pid uint64, name string) (*Process, error) {
	if t.process != nil {
		return nil, &DuplicateProcessError{Target: t.name, Running: t.process.id, New: pid}
	}
	notify := &processNotify{s: s}
	p := &Process{
		target:  t,
		id:      pid,
		name:    name,
		threads: make(map[uint64]*Thread),
	}
	p.symbols = symbol.NewProcessSymbols(s.index, notify)
	notify.p = p
	t.process = p
	s.log.Infof("process %d (%s) created in target %q", pid, name, t.name)
	for _, bp := range s.sortedBreakpoints() {
		added, removed := bp.updateProcess(p)
		if added+removed > 0 {
			bp.syncBackend()
		}
		if added > 0 {
			s.notifyMatched(bp, true)
		}
	}
	return p, nil
}

// ProcessDestroyed drops p and every breakpoint location inside it.
// Thread-scoped breakpoints on p's threads demote to disabled target
// scope; breakpoints configured purely by address are disabled outright
// because their addresses cannot outlive the process.
func (s *Session) ProcessDestroyed(p *Process) {
	ids := make([]uint64, 0, len(p.threads))
	for id := range p.threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.ThreadDestroyed(p.threads[id])
	}
	for _, bp := range s.sortedBreakpoints() {
		bp.removeProcess(p)
	}
	p.symbols.Release()
	p.target.process = nil
	s.log.Infof("process %d (%s) destroyed", p.id, p.name)
}

// ThreadCreated records a new thread in p.
func (s *Session) ThreadCreated(p *Process, tid uint64) *Thread {
	th := &Thread{process: p, id: tid}
	p.threads[tid] = th
	s.log.Debugf("thread %d created in process %d", tid, p.id)
	return th
}

// ThreadDestroyed drops th. Breakpoints scoped to it demote to a
// disabled breakpoint on the owning target rather than dangle.
func (s *Session) ThreadDestroyed(th *Thread) {
	for _, bp := range s.sortedBreakpoints() {
		if bp.settings.Scope == ScopeThread && bp.settings.Thread == th {
			bp.settings.Enabled = false
			bp.settings.Scope = ScopeTarget
			bp.settings.Target = th.process.target
			bp.settings.Thread = nil
			s.log.Debugf("breakpoint %d demoted to disabled target scope", bp.id)
			bp.syncBackend()
			s.notifyMatched(bp, false)
		}
	}
	delete(th.process.threads, th.id)
	s.log.Debugf("thread %d destroyed in process %d", th.id, th.process.id)
}

// ModulesChanged replaces p's module list and rebinds breakpoints.
// Loads rebind incrementally as each module's symbols arrive; when the
// change unloaded modules, every applicable breakpoint's record for p
// is recomputed so stale addresses drop out.
func (s *Session) ModulesChanged(p *Process, mods []symbol.ModuleInfo) {
	p.modulesUnloaded = false
	p.symbols.SetModules(mods)
	if !p.modulesUnloaded {
		return
	}
	p.modulesUnloaded = false
	for _, bp := range s.sortedBreakpoints() {
		added, removed := bp.updateProcess(p)
		if added+removed > 0 {
			bp.syncBackend()
			s.notifyMatched(bp, added > 0)
		}
	}
}

// processNotify forwards module symbol events for one process onto the
// session.
type processNotify struct {
	s *Session
	p *Process
}

func (n *processNotify) DidLoadModuleSymbols(mod symbol.LoadedModule) {
	n.s.moduleLoaded(n.p, mod)
}

func (n *processNotify) WillUnloadModuleSymbols(mod symbol.LoadedModule) {
	n.p.modulesUnloaded = true
}

func (s *Session) moduleLoaded(p *Process, mod symbol.LoadedModule) {
	if mod.BuildID != "" {
		if err := p.target.symbols.AddModule(mod.BuildID); err != nil {
			s.log.Warnf("recording module %s for target %q: %v", mod.BuildID, p.target.name, err)
		}
	}
	for _, bp := range s.sortedBreakpoints() {
		if !bp.appliesTo(p) {
			continue
		}
		added, removed := bp.updateProcess(p)
		if added+removed > 0 {
			bp.syncBackend()
			s.notifyMatched(bp, added > 0)
		}
	}
}

// CreateBreakpoint makes a new breakpoint from settings, resolves it
// against every applicable process and installs it if anything bound.
func (s *Session) CreateBreakpoint(st BreakpointSettings) (*Breakpoint, error) {
	if err := validateSettings(st); err != nil {
		return nil, err
	}
	s.breakpointIDCounter++
	bp := &Breakpoint{
		session:  s,
		id:       s.breakpointIDCounter,
		settings: copySettings(st),
		procs:    make(map[*Process]*procRecord),
	}
	s.breakpoints[bp.id] = bp
	for _, p := range s.processes() {
		bp.updateProcess(p)
	}
	bp.syncBackend()
	s.log.Infof("created breakpoint %d at %s", bp.id, locationsString(st.Locations))
	s.notifyMatched(bp, false)
	return bp, nil
}

// DeleteBreakpoint removes bp, tearing down its installed agent state
// first. The id is retired with it.
func (s *Session) DeleteBreakpoint(bp *Breakpoint) {
	if s.breakpoints[bp.id] != bp {
		return
	}
	if bp.backendInstalled {
		bp.settings.Enabled = false
		bp.syncBackend()
	}
	delete(s.breakpoints, bp.id)
	s.log.Infof("deleted breakpoint %d", bp.id)
}

// BreakpointByID returns the live breakpoint with the given id, or nil
// for ids that were deleted or never assigned.
func (s *Session) BreakpointByID(id uint32) *Breakpoint {
	return s.breakpoints[id]
}

// Breakpoints returns the live breakpoints ordered by id.
func (s *Session) Breakpoints() []*Breakpoint {
	return s.sortedBreakpoints()
}

func (s *Session) sortedBreakpoints() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].id < bps[j].id })
	return bps
}

// HandleBreakpointHit records a hit reported by the agent. Hits for
// deleted breakpoint ids are dropped; the agent may race a removal.
func (s *Session) HandleBreakpointHit(hit agent.BreakpointHitNotify) {
	bp := s.breakpoints[hit.BreakpointID]
	if bp == nil {
		s.log.Debugf("hit for unknown breakpoint %d dropped", hit.BreakpointID)
		return
	}
	bp.stats.HitCount = hit.HitCount
	bp.stats.LastHitThread = hit.Thread
	s.log.Infof("breakpoint %d hit in process %d thread %d (count %d)", bp.id, hit.Process, hit.Thread, hit.HitCount)
	s.notifyHit(bp, hit)
	if bp.settings.OneShot {
		bp.backendInstalled = false
		bp.lastSent = agent.BreakpointSettings{}
		s.DeleteBreakpoint(bp)
	}
}

// syncCompleted runs on the loop when an install or removal request
// finishes. The breakpoint may have been deleted in the meantime, in
// which case the result only gets logged.
func (s *Session) syncCompleted(id uint32, op string, status agent.Status, transportErr error) {
	bp := s.breakpoints[id]
	if transportErr != nil {
		s.log.Warnf("%s: %v", op, transportErr)
		if bp != nil {
			s.notifyUpdateFailed(bp, transportErr)
		}
		return
	}
	if err := status.Check(op); err != nil {
		s.log.Warnf("agent rejected request: %v", err)
		if bp != nil {
			s.notifyUpdateFailed(bp, err)
		}
	}
}

func locationsString(inputs []locspec.InputLocation) string {
	out := ""
	for i, in := range inputs {
		if i > 0 {
			out += ", "
		}
		out += in.String()
	}
	return out
}

// DuplicateProcessError means a target already had a running process
// when another was reported for it.
type DuplicateProcessError struct {
	Target  string
	Running uint64
	New     uint64
}

func (e *DuplicateProcessError) Error() string {
	return fmt.Sprintf("target %q already runs process %d, cannot attach process %d", e.Target, e.Running, e.New)
}
