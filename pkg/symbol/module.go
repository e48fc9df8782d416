package symbol

import "github.com/go-tether/tether/pkg/locspec"

// ModuleStatus summarizes one module's symbol state for presentation.
type ModuleStatus struct {
	Name      string
	BuildID   string
	Loaded    bool
	Functions int
	Variables int
	Files     int
}

// LineDetails is the source position information for one address.
type LineDetails struct {
	File string
	Line int
	// Function is the qualified name of the enclosing function.
	Function string
}

// ModuleSymbols is the symbol provider for one distinct binary,
// identified by build ID and independent of where any process mapped
// it. Providers are immutable after construction and shared by every
// process that maps the same build, so all methods must be safe to call
// from multiple owners.
type ModuleSymbols interface {
	// Status reports the provider's identity and table sizes.
	Status() ModuleStatus

	// ResolveInputLocation maps input to the locations it denotes
	// inside this module, translated through ctx. Finding nothing is
	// not an error, the result is just empty.
	ResolveInputLocation(ctx Context, input locspec.InputLocation, opts ResolveOptions) []Location

	// LineForAddress returns the source position and enclosing function
	// for an absolute address mapped by this module.
	LineForAddress(ctx Context, addr uint64) (LineDetails, bool)

	// FindFileMatches returns the table's file paths that end with
	// name, where the match must start at a path component boundary.
	FindFileMatches(name string) []string

	// FuncsWithPrefix returns the qualified function names starting
	// with prefix, sorted.
	FuncsWithPrefix(prefix string) []string
}

// ModuleInfo identifies one module mapped into a process, as reported
// by the debug agent's module list.
type ModuleInfo struct {
	Name    string `yaml:"name"`
	BuildID string `yaml:"buildid"`
	// LoadAddress is the base the process mapped the module at.
	LoadAddress uint64 `yaml:"load"`
	// DebugAddress is the module's link-map entry address.
	DebugAddress uint64 `yaml:"debug"`
}

// LoadedModule pairs a mapped module with the symbols found for it.
// Symbols is nil when no symbol file could be located for the build,
// which is normal for stripped system modules.
type LoadedModule struct {
	ModuleInfo
	Symbols ModuleSymbols
}

// Context returns the load-address translation for this mapping.
func (m LoadedModule) Context() Context {
	return Context{LoadAddress: m.LoadAddress}
}
