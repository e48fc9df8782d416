package locspec

import "fmt"

// InputLocation is a location requested by the user, not yet resolved
// against any module. It is a closed sum: the only implementations are
// AddrLocation, LineLocation and NameLocation, and a nil InputLocation
// means "no location". Every consumer switches exhaustively over these
// three so a new variant is a compile-visible change.
type InputLocation interface {
	// Equal reports structural equality with another input location of
	// the same variant.
	Equal(other InputLocation) bool

	String() string

	inputLocation()
}

// AddrLocation requests a literal address. Addresses are only meaningful
// while the process they were taken from is alive.
type AddrLocation struct {
	Addr uint64
}

func (l AddrLocation) inputLocation() {}

func (l AddrLocation) String() string { return fmt.Sprintf("*%#x", l.Addr) }

// Equal implements InputLocation.
func (l AddrLocation) Equal(other InputLocation) bool {
	o, ok := other.(AddrLocation)
	return ok && o.Addr == l.Addr
}

// LineLocation requests all code generated for a source line. File can be
// a full path or a trailing run of path components.
type LineLocation struct {
	File string
	Line int
}

func (l LineLocation) inputLocation() {}

func (l LineLocation) String() string { return fmt.Sprintf("%s:%d", l.File, l.Line) }

// Equal implements InputLocation.
func (l LineLocation) Equal(other InputLocation) bool {
	o, ok := other.(LineLocation)
	return ok && o.File == l.File && o.Line == l.Line
}

// NameLocation requests a symbol by (possibly qualified) name.
type NameLocation struct {
	Ident Identifier
}

func (l NameLocation) inputLocation() {}

func (l NameLocation) String() string { return l.Ident.String() }

// Equal implements InputLocation.
func (l NameLocation) Equal(other InputLocation) bool {
	o, ok := other.(NameLocation)
	return ok && o.Ident.Equal(l.Ident)
}

// AllAddresses reports whether every input in the list is an
// AddrLocation. Breakpoints configured purely with addresses are handled
// differently from symbolic ones: their addresses cannot survive a
// process restart.
func AllAddresses(inputs []InputLocation) bool {
	if len(inputs) == 0 {
		return false
	}
	for _, input := range inputs {
		if _, ok := input.(AddrLocation); !ok {
			return false
		}
	}
	return true
}
