package symbol

import (
	"sort"

	"github.com/go-tether/tether/pkg/locspec"
)

// TargetSymbols aggregates the modules known for a target so locations
// can be validated before any process exists. The set is keyed by build
// ID and survives across process instantiations of the same target.
//
// Because no process exists, no load addresses are known: resolution
// happens with a zero Context and every returned location has address
// 0. The results validate that a symbol exists, they are not executable
// addresses.
type TargetSymbols struct {
	idx  *Index
	refs map[string]*Ref
}

// NewTargetSymbols returns an empty set backed by idx.
func NewTargetSymbols(idx *Index) *TargetSymbols {
	return &TargetSymbols{idx: idx, refs: make(map[string]*Ref)}
}

// AddModule adds the build's symbols to the set. Adding a build already
// present, or one with no symbols available, is a no-op.
func (ts *TargetSymbols) AddModule(buildID string) error {
	if _, ok := ts.refs[buildID]; ok {
		return nil
	}
	ref, err := ts.idx.Retain(buildID)
	if err != nil {
		return err
	}
	if ref == nil {
		return nil
	}
	ts.refs[buildID] = ref
	return nil
}

// RemoveModule drops the build's symbols from the set, if present.
func (ts *TargetSymbols) RemoveModule(buildID string) {
	if ref, ok := ts.refs[buildID]; ok {
		ref.Release()
		delete(ts.refs, buildID)
	}
}

// Clone returns an independent set sharing the same providers, for a
// target being re-instantiated with the same expected modules.
func (ts *TargetSymbols) Clone() *TargetSymbols {
	clone := NewTargetSymbols(ts.idx)
	for buildID := range ts.refs {
		ref, err := ts.idx.Retain(buildID)
		if err != nil || ref == nil {
			continue
		}
		clone.refs[buildID] = ref
	}
	return clone
}

// Release drops every reference held by the set.
func (ts *TargetSymbols) Release() {
	for _, ref := range ts.refs {
		ref.Release()
	}
	ts.refs = make(map[string]*Ref)
}

// BuildIDs returns the builds in the set, sorted.
func (ts *TargetSymbols) BuildIDs() []string {
	out := make([]string, 0, len(ts.refs))
	for buildID := range ts.refs {
		out = append(out, buildID)
	}
	sort.Strings(out)
	return out
}

// ResolveInputLocation fans input out to every module in the set.
// Address inputs require a running process and must go through
// ProcessSymbols; passing one here is a programming error.
func (ts *TargetSymbols) ResolveInputLocation(input locspec.InputLocation, opts ResolveOptions) []Location {
	opts.mustBeValid()
	if _, ok := input.(locspec.AddrLocation); ok {
		panic("symbol: address locations require a running process")
	}
	var out []Location
	for _, buildID := range ts.BuildIDs() {
		locs := ts.refs[buildID].Symbols().ResolveInputLocation(Context{}, input, opts)
		for i := range locs {
			locs[i].Address = 0
		}
		out = append(out, locs...)
	}
	return out
}
