package symbol

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-tether/tether/pkg/logflags"
)

// retiredCacheSize bounds how many released providers are kept around
// for quick reattachment.
const retiredCacheSize = 16

// LoadFunc locates and loads the symbol table for a build ID. Returning
// (nil, nil) means no symbols are available for the build, which is not
// an error; stripped system modules routinely have none.
type LoadFunc func(buildID string) (ModuleSymbols, error)

// Index hands out shared references to per-build symbol providers so
// every process mapping the same binary uses one provider instance.
// When the last reference to a build is released the index drops its
// active entry and parks the provider in a bounded retired cache, so an
// immediate reattach does not reload from disk.
//
// The index is confined to the session loop and is not safe for
// concurrent use.
type Index struct {
	load    LoadFunc
	active  map[string]*indexEntry
	retired *lru.Cache
	log     logflags.Logger
}

type indexEntry struct {
	syms ModuleSymbols
	refs int
}

// NewIndex returns an Index that loads providers through load.
func NewIndex(load LoadFunc) *Index {
	idx := &Index{
		load:   load,
		active: make(map[string]*indexEntry),
		log:    logflags.SymbolLogger(),
	}
	idx.retired, _ = lru.NewWithEvict(retiredCacheSize, idx.retiredEvicted)
	return idx
}

func (i *Index) retiredEvicted(key, value interface{}) {
	i.log.Debugf("dropping retired symbols for build %v", key)
}

// Ref is a counted reference to one build's symbols. Every Ref must be
// Released exactly once; the provider stays valid until the last
// reference for its build is gone.
type Ref struct {
	idx      *Index
	buildID  string
	syms     ModuleSymbols
	released bool
}

// BuildID returns the build the reference was retained for.
func (r *Ref) BuildID() string { return r.buildID }

// Symbols returns the referenced provider.
func (r *Ref) Symbols() ModuleSymbols { return r.syms }

// Release drops the reference.
func (r *Ref) Release() {
	if r.released {
		panic("symbol: Ref released twice")
	}
	r.released = true
	r.idx.release(r.buildID)
}

// Retain returns a reference to buildID's symbols, loading them if this
// is the first interest in the build. A (nil, nil) return means the
// build has no symbols available.
func (i *Index) Retain(buildID string) (*Ref, error) {
	if e, ok := i.active[buildID]; ok {
		e.refs++
		return &Ref{idx: i, buildID: buildID, syms: e.syms}, nil
	}
	if v, ok := i.retired.Get(buildID); ok {
		i.retired.Remove(buildID)
		syms := v.(ModuleSymbols)
		i.active[buildID] = &indexEntry{syms: syms, refs: 1}
		i.log.Debugf("reusing retired symbols for build %s", buildID)
		return &Ref{idx: i, buildID: buildID, syms: syms}, nil
	}
	syms, err := i.load(buildID)
	if err != nil {
		return nil, err
	}
	if syms == nil {
		return nil, nil
	}
	i.active[buildID] = &indexEntry{syms: syms, refs: 1}
	i.log.Debugf("loaded symbols for build %s", buildID)
	return &Ref{idx: i, buildID: buildID, syms: syms}, nil
}

func (i *Index) release(buildID string) {
	e, ok := i.active[buildID]
	if !ok {
		panic("symbol: release of unknown build " + buildID)
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(i.active, buildID)
	i.retired.Add(buildID, e.syms)
	i.log.Debugf("retired symbols for build %s", buildID)
}

// ActiveRefs returns the number of live references for buildID.
func (i *Index) ActiveRefs(buildID string) int {
	if e, ok := i.active[buildID]; ok {
		return e.refs
	}
	return 0
}

// Active returns the build IDs with live references, sorted.
func (i *Index) Active() []string {
	out := make([]string, 0, len(i.active))
	for buildID := range i.active {
		out = append(out, buildID)
	}
	sort.Strings(out)
	return out
}
