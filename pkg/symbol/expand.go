package symbol

import "github.com/go-tether/tether/pkg/locspec"

// ExpandInputLocation widens a symbolic input into the inputs to
// actually resolve, most specific first. The scope is taken from the
// function enclosing scopeAddr in ps: a bare name used inside
// NS::Widget::Paint expands to [NS::Widget::<name>, <name>], so the
// class-scoped symbol wins while the global reading is never lost.
//
// Non-name inputs, anchored names, and name inputs with no usable scope
// expand to themselves. The expansion is purely lexical; whether any
// candidate exists is for resolution to decide. scopeAddr 0 means no
// scope.
func ExpandInputLocation(ps *ProcessSymbols, scopeAddr uint64, input locspec.InputLocation) []locspec.InputLocation {
	name, ok := input.(locspec.NameLocation)
	if !ok {
		return []locspec.InputLocation{input}
	}

	var scope locspec.Identifier
	if ps != nil && scopeAddr != 0 {
		if m, ok := ps.ModuleForAddress(scopeAddr); ok && m.Symbols != nil {
			if ld, ok := m.Symbols.LineForAddress(m.Context(), scopeAddr); ok && ld.Function != "" {
				scope = locspec.ParseIdentifier(ld.Function).Scope()
			}
		}
	}

	ids := locspec.ExpandScoped(scope, name.Ident)
	out := make([]locspec.InputLocation, len(ids))
	for i, id := range ids {
		out[i] = locspec.NameLocation{Ident: id}
	}
	return out
}
