package locspec

// ExpandScoped returns the candidate qualified names for looking up
// ident from inside scope, most specific first. A name written inside
// a scope can mean the scoped symbol or a global one, so both readings
// are produced and the scoped one wins ties downstream by ordering.
//
// Anchored identifiers ("::Bar") name the global scope explicitly and
// expand only to themselves.
func ExpandScoped(scope, ident Identifier) []Identifier {
	if ident.Absolute || scope.Empty() {
		return []Identifier{ident}
	}
	return []Identifier{scope.Append(ident), ident}
}
