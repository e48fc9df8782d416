package locspec

import "strings"

const scopeSeparator = "::"

// Identifier is a symbolic name, possibly qualified by a chain of
// enclosing scopes: "Bar", "Foo::Bar", "::Bar". An explicitly anchored
// identifier (leading "::") refers to the global scope and is never
// re-qualified by permissive expansion.
type Identifier struct {
	// Absolute is set when the name was written anchored to the global
	// scope with a leading "::".
	Absolute bool
	Parts    []string
}

// ParseIdentifier splits name on "::" boundaries. Empty components from
// repeated separators are dropped.
func ParseIdentifier(name string) Identifier {
	var id Identifier
	if strings.HasPrefix(name, scopeSeparator) {
		id.Absolute = true
		name = name[len(scopeSeparator):]
	}
	for _, part := range strings.Split(name, scopeSeparator) {
		if part != "" {
			id.Parts = append(id.Parts, part)
		}
	}
	return id
}

func (id Identifier) String() string {
	s := strings.Join(id.Parts, scopeSeparator)
	if id.Absolute {
		return scopeSeparator + s
	}
	return s
}

// Empty reports whether the identifier has no components.
func (id Identifier) Empty() bool { return len(id.Parts) == 0 }

// Base returns the last component, the unqualified name.
func (id Identifier) Base() string {
	if len(id.Parts) == 0 {
		return ""
	}
	return id.Parts[len(id.Parts)-1]
}

// Scope returns the identifier minus its last component: the enclosing
// scope of the named symbol. The scope of an unqualified name is empty.
func (id Identifier) Scope() Identifier {
	if len(id.Parts) <= 1 {
		return Identifier{Absolute: id.Absolute}
	}
	return Identifier{Absolute: id.Absolute, Parts: id.Parts[:len(id.Parts)-1]}
}

// Append returns id extended with all components of other. The result
// keeps id's anchoring.
func (id Identifier) Append(other Identifier) Identifier {
	parts := make([]string, 0, len(id.Parts)+len(other.Parts))
	parts = append(parts, id.Parts...)
	parts = append(parts, other.Parts...)
	return Identifier{Absolute: id.Absolute, Parts: parts}
}

// Equal reports component-wise equality, including anchoring.
func (id Identifier) Equal(other Identifier) bool {
	if id.Absolute != other.Absolute || len(id.Parts) != len(other.Parts) {
		return false
	}
	for i := range id.Parts {
		if id.Parts[i] != other.Parts[i] {
			return false
		}
	}
	return true
}

// FullName returns the qualified name without anchoring decoration, the
// form symbol tables index by.
func (id Identifier) FullName() string {
	return strings.Join(id.Parts, scopeSeparator)
}
