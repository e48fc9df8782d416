package session

import (
	"sort"

	"github.com/go-tether/tether/pkg/symbol"
)

// Target is a debuggable unit: something that can be launched or
// attached to, whether or not a process currently exists for it. Its
// symbol set survives across process instantiations so locations can be
// validated between runs.
type Target struct {
	session *Session
	name    string
	symbols *symbol.TargetSymbols
	process *Process
}

// Name returns the label the target was created with.
func (t *Target) Name() string { return t.name }

// Symbols returns the target-level symbol set.
func (t *Target) Symbols() *symbol.TargetSymbols { return t.symbols }

// Process returns the running process, or nil when the target is not
// running.
func (t *Target) Process() *Process { return t.process }

// Process is one running instantiation of a target.
type Process struct {
	target *Target
	id     uint64
	name   string

	symbols *symbol.ProcessSymbols
	threads map[uint64]*Thread

	// modulesUnloaded is set by the symbol registry while a module list
	// update removes modules, so breakpoint records can be recomputed
	// once the update is complete.
	modulesUnloaded bool
}

// ID returns the process identifier the agent reports hits with.
func (p *Process) ID() uint64 { return p.id }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Target returns the owning target.
func (p *Process) Target() *Target { return p.target }

// Symbols returns the process's module registry.
func (p *Process) Symbols() *symbol.ProcessSymbols { return p.symbols }

// Thread returns the live thread with the given id, or nil.
func (p *Process) Thread(id uint64) *Thread { return p.threads[id] }

// Threads returns the live threads ordered by id.
func (p *Process) Threads() []*Thread {
	ths := make([]*Thread, 0, len(p.threads))
	for _, th := range p.threads {
		ths = append(ths, th)
	}
	sort.Slice(ths, func(i, j int) bool { return ths[i].id < ths[j].id })
	return ths
}

// Thread is one thread of a running process.
type Thread struct {
	process *Process
	id      uint64
}

// ID returns the thread identifier.
func (th *Thread) ID() uint64 { return th.id }

// Process returns the owning process.
func (th *Thread) Process() *Process { return th.process }
