package symbol

import "fmt"

// LocationState describes how far resolution of a Location got.
type LocationState uint8

const (
	// LocationInvalid is a location with no address.
	LocationInvalid LocationState = iota
	// LocationAddress carries an address that was never symbolized.
	LocationAddress
	// LocationSymbolized carries an address that symbolization was
	// attempted for. It can still lack a function or line if the module
	// has no symbol covering the address.
	LocationSymbolized
	// LocationUnlocatedVariable matched a variable whose address is not
	// statically known, for example thread-local data. The caller can
	// fill the address in later from runtime state.
	LocationUnlocatedVariable
)

func (s LocationState) String() string {
	switch s {
	case LocationInvalid:
		return "invalid"
	case LocationAddress:
		return "address"
	case LocationSymbolized:
		return "symbolized"
	case LocationUnlocatedVariable:
		return "unlocated variable"
	}
	return fmt.Sprintf("unknown state %d", uint8(s))
}

// Location is the result of resolving an input location. Locations are
// small value objects and do not keep the module that produced them
// alive.
type Location struct {
	State   LocationState
	Address uint64

	// Source position, when symbolization found one.
	File   string
	Line   int
	Column int

	// Function is the qualified name of the matched or enclosing
	// function, when known.
	Function string
	// Variable is the name of the matched variable for variable
	// locations.
	Variable string

	// Context is the load-address translation the absolute address was
	// produced under.
	Context Context
}

// AddressLocation returns an unsymbolized location for addr.
func AddressLocation(ctx Context, addr uint64) Location {
	return Location{State: LocationAddress, Address: addr, Context: ctx}
}

// HasAddress reports whether the location carries a usable address.
func (l Location) HasAddress() bool {
	return l.State == LocationAddress || l.State == LocationSymbolized
}

func (l Location) String() string {
	switch {
	case l.File != "":
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	case l.State == LocationUnlocatedVariable:
		return l.Variable
	case l.HasAddress():
		return fmt.Sprintf("%#x", l.Address)
	}
	return "<invalid>"
}

// ResolveOptions configures a resolution request.
type ResolveOptions struct {
	// Symbolize requests source and symbol information on the resulting
	// locations, not just addresses.
	Symbolize bool
	// SkipPrologue advances an address that lands exactly on a function
	// entry past the function's prologue. Requires Symbolize.
	SkipPrologue bool
}

func (o ResolveOptions) mustBeValid() {
	if o.SkipPrologue && !o.Symbolize {
		panic("symbol: SkipPrologue requires Symbolize")
	}
}
