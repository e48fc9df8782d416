package symbol

import (
	"fmt"
	"strings"

	"github.com/go-tether/tether/pkg/locspec"
)

// maxAmbiguousCandidates bounds how many matches an
// AmbiguousLocationError spells out.
const maxAmbiguousCandidates = 10

// InputResolver resolves one input location against a set of modules.
// Implemented by ProcessSymbols and TargetSymbols.
type InputResolver interface {
	ResolveInputLocation(input locspec.InputLocation, opts ResolveOptions) []Location
}

// NothingMatchedError reports that a resolution request matched no
// symbol at all.
type NothingMatchedError struct {
	Spec string
}

func (e NothingMatchedError) Error() string {
	return fmt.Sprintf("nothing matching %q was found", e.Spec)
}

// AmbiguousLocationError reports that a request required a unique match
// but found several.
type AmbiguousLocationError struct {
	Spec       string
	Candidates []string
}

func (e AmbiguousLocationError) Error() string {
	return fmt.Sprintf("location %q ambiguous: %s", e.Spec, strings.Join(e.Candidates, ", "))
}

// Resolve resolves every input against r and concatenates the results.
// Callers pass inputs already widened by permissive expansion. An empty
// result is reported as a NothingMatchedError.
func Resolve(r InputResolver, inputs []locspec.InputLocation, symbolize bool) ([]Location, error) {
	opts := ResolveOptions{Symbolize: symbolize}
	var out []Location
	for _, input := range inputs {
		out = append(out, r.ResolveInputLocation(input, opts)...)
	}
	if len(out) == 0 {
		return nil, NothingMatchedError{Spec: specString(inputs)}
	}
	return out, nil
}

// ResolveUnique is Resolve for callers that need exactly one location.
// More than one match fails with an AmbiguousLocationError naming up to
// maxAmbiguousCandidates candidates by file:line or address.
func ResolveUnique(r InputResolver, inputs []locspec.InputLocation, symbolize bool) (Location, error) {
	locs, err := Resolve(r, inputs, symbolize)
	if err != nil {
		return Location{}, err
	}
	if len(locs) == 1 {
		return locs[0], nil
	}
	candidates := make([]string, 0, maxAmbiguousCandidates)
	for i, loc := range locs {
		if i == maxAmbiguousCandidates {
			break
		}
		candidates = append(candidates, loc.String())
	}
	return Location{}, AmbiguousLocationError{Spec: specString(inputs), Candidates: candidates}
}

func specString(inputs []locspec.InputLocation) string {
	parts := make([]string, len(inputs))
	for i, input := range inputs {
		parts[i] = input.String()
	}
	return strings.Join(parts, ", ")
}
