package symbol

import (
	"sort"

	"github.com/go-tether/tether/pkg/locspec"
	"github.com/go-tether/tether/pkg/logflags"
)

// ProcessNotifications receives module symbol lifecycle callbacks from
// a ProcessSymbols registry.
type ProcessNotifications interface {
	// DidLoadModuleSymbols runs for each newly mapped module, after the
	// registry already reflects the full new module list.
	DidLoadModuleSymbols(m LoadedModule)
	// WillUnloadModuleSymbols runs for each module about to be removed,
	// while the registry still contains it.
	WillUnloadModuleSymbols(m LoadedModule)
}

// ProcessSymbols tracks the modules mapped into one running process and
// resolves locations against them. It is owned by the process
// abstraction and, like everything on the session loop, is not safe for
// concurrent use.
type ProcessSymbols struct {
	idx    *Index
	notify ProcessNotifications

	// modules is keyed by load address; at most one record per address
	// at any time.
	modules map[uint64]*processModule

	log logflags.Logger
}

type processModule struct {
	info ModuleInfo
	ref  *Ref // nil when the build has no symbols
}

func (pm *processModule) view() LoadedModule {
	m := LoadedModule{ModuleInfo: pm.info}
	if pm.ref != nil {
		m.Symbols = pm.ref.Symbols()
	}
	return m
}

// NewProcessSymbols returns an empty registry backed by idx. notify
// must be non-nil.
func NewProcessSymbols(idx *Index, notify ProcessNotifications) *ProcessSymbols {
	return &ProcessSymbols{
		idx:     idx,
		notify:  notify,
		modules: make(map[uint64]*processModule),
		log:     logflags.SymbolLogger(),
	}
}

type moduleIdentity struct {
	load    uint64
	buildID string
}

// SetModules reconciles the registry against the authoritative module
// list reported by the agent. Modules are identified by (load address,
// build ID); only the delta produces notifications. All unloads run
// before any addition so overlapping load addresses never alias two
// records at once, and did-load notifications run only once the whole
// new list is in place.
func (ps *ProcessSymbols) SetModules(mods []ModuleInfo) {
	next := make(map[moduleIdentity]ModuleInfo, len(mods))
	for _, m := range mods {
		next[moduleIdentity{m.LoadAddress, m.BuildID}] = m
	}

	var removed []*processModule
	for _, load := range ps.sortedLoads() {
		pm := ps.modules[load]
		if _, ok := next[moduleIdentity{pm.info.LoadAddress, pm.info.BuildID}]; !ok {
			removed = append(removed, pm)
		}
	}
	for _, pm := range removed {
		ps.notify.WillUnloadModuleSymbols(pm.view())
		if pm.ref != nil {
			pm.ref.Release()
		}
		delete(ps.modules, pm.info.LoadAddress)
	}

	var added []*processModule
	for _, m := range mods {
		if old, ok := ps.modules[m.LoadAddress]; ok && old.info.BuildID == m.BuildID {
			continue
		}
		pm := &processModule{info: m}
		ref, err := ps.idx.Retain(m.BuildID)
		if err != nil {
			ps.log.Warnf("could not load symbols for %s (build %s): %v", m.Name, m.BuildID, err)
		} else {
			pm.ref = ref
		}
		ps.modules[m.LoadAddress] = pm
		added = append(added, pm)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].info.LoadAddress < added[j].info.LoadAddress })
	for _, pm := range added {
		ps.notify.DidLoadModuleSymbols(pm.view())
	}

	if len(removed) > 0 || len(added) > 0 {
		ps.log.Debugf("module list updated: %d loaded, %d unloaded, %d total", len(added), len(removed), len(ps.modules))
	}
}

// LoadedModules returns every mapped module in ascending load address
// order.
func (ps *ProcessSymbols) LoadedModules() []LoadedModule {
	out := make([]LoadedModule, 0, len(ps.modules))
	for _, load := range ps.sortedLoads() {
		out = append(out, ps.modules[load].view())
	}
	return out
}

// ModuleForAddress returns the module mapped at the largest base
// address at or below addr.
func (ps *ProcessSymbols) ModuleForAddress(addr uint64) (LoadedModule, bool) {
	loads := ps.sortedLoads()
	i := sort.Search(len(loads), func(i int) bool { return loads[i] > addr })
	if i == 0 {
		return LoadedModule{}, false
	}
	return ps.modules[loads[i-1]].view(), true
}

// ResolveInputLocation resolves input against the process's modules.
// Address inputs go to the single module mapped under them; name and
// line inputs fan out to every module with symbols, in ascending load
// address order.
func (ps *ProcessSymbols) ResolveInputLocation(input locspec.InputLocation, opts ResolveOptions) []Location {
	opts.mustBeValid()
	if input, ok := input.(locspec.AddrLocation); ok {
		if m, ok := ps.ModuleForAddress(input.Addr); ok && m.Symbols != nil {
			return m.Symbols.ResolveInputLocation(m.Context(), input, opts)
		}
		return []Location{AddressLocation(Context{}, input.Addr)}
	}
	var out []Location
	for _, load := range ps.sortedLoads() {
		pm := ps.modules[load]
		if pm.ref == nil {
			continue
		}
		out = append(out, pm.ref.Symbols().ResolveInputLocation(Context{LoadAddress: load}, input, opts)...)
	}
	return out
}

// RetryLoad attempts to load symbols for every mapped module with the
// given build ID that still has none, re-emitting did-load on success.
// Used when a symbol file becomes available after the module was
// already mapped.
func (ps *ProcessSymbols) RetryLoad(buildID string) {
	for _, load := range ps.sortedLoads() {
		pm := ps.modules[load]
		if pm.info.BuildID != buildID || pm.ref != nil {
			continue
		}
		ref, err := ps.idx.Retain(buildID)
		if err != nil {
			ps.log.Warnf("could not load symbols for %s (build %s): %v", pm.info.Name, buildID, err)
			continue
		}
		if ref == nil {
			continue
		}
		pm.ref = ref
		ps.notify.DidLoadModuleSymbols(pm.view())
	}
}

// Release drops every module reference. No unload notifications fire,
// the owning process is going away rather than changing.
func (ps *ProcessSymbols) Release() {
	for _, pm := range ps.modules {
		if pm.ref != nil {
			pm.ref.Release()
		}
	}
	ps.modules = make(map[uint64]*processModule)
}

func (ps *ProcessSymbols) sortedLoads() []uint64 {
	loads := make([]uint64, 0, len(ps.modules))
	for load := range ps.modules {
		loads = append(loads, load)
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i] < loads[j] })
	return loads
}
