package symbol

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-tether/tether/pkg/locspec"
)

func overloadedTable(buildID, file string) *Table {
	return NewTable(TableData{
		Name:    buildID,
		BuildID: buildID,
		Functions: []FuncSym{
			{
				Name:  "Overloaded",
				File:  file,
				Entry: 0x40,
				End:   0x80,
				Lines: []LineRow{{Address: 0x40, Line: 5}},
			},
		},
	})
}

func TestResolveAddressIdentityAnyState(t *testing.T) {
	// Even a process with no modules at all resolves an address input
	// to itself.
	idx := NewIndex(newCountingLoader().load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})

	locs, err := Resolve(ps, []locspec.InputLocation{locspec.AddrLocation{Addr: 0x1271}}, false)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	loc := assertOneLocation(t, locs)
	if loc.Address != 0x1271 || loc.State != LocationAddress {
		t.Fatalf("expected identity location, got %#v", loc)
	}
}

func TestResolveNothingMatched(t *testing.T) {
	loader := newCountingLoader(testTable())
	idx := NewIndex(loader.load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})
	ps.SetModules([]ModuleInfo{{Name: "app", BuildID: "buildapp", LoadAddress: 0x1000}})

	_, err := Resolve(ps, []locspec.InputLocation{mustParse(t, "NoSuchSymbol")}, true)
	if err == nil {
		t.Fatalf("expected an error for an unmatched name")
	}
	if _, ok := err.(NothingMatchedError); !ok {
		t.Fatalf("expected NothingMatchedError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "NoSuchSymbol") {
		t.Fatalf("error should echo the request: %v", err)
	}
}

func TestResolveUniqueSingle(t *testing.T) {
	loader := newCountingLoader(testTable())
	idx := NewIndex(loader.load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})
	ps.SetModules([]ModuleInfo{{Name: "app", BuildID: "buildapp", LoadAddress: 0x1000}})

	loc, err := ResolveUnique(ps, []locspec.InputLocation{mustParse(t, "main")}, true)
	if err != nil {
		t.Fatalf("ResolveUnique returned error: %v", err)
	}
	if loc.Address != 0x1400 || loc.Function != "main" {
		t.Fatalf("wrong location: %#v", loc)
	}
}

func TestResolveUniqueAmbiguousAcrossModules(t *testing.T) {
	loader := newCountingLoader(overloadedTable("buildovera", "over_a.cc"), overloadedTable("buildoverb", "over_b.cc"))
	idx := NewIndex(loader.load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})
	ps.SetModules([]ModuleInfo{
		{Name: "overa", BuildID: "buildovera", LoadAddress: 0x100000},
		{Name: "overb", BuildID: "buildoverb", LoadAddress: 0x200000},
	})

	_, err := ResolveUnique(ps, []locspec.InputLocation{mustParse(t, "Overloaded")}, true)
	if err == nil {
		t.Fatalf("expected ambiguity error")
	}
	ambig, ok := err.(AmbiguousLocationError)
	if !ok {
		t.Fatalf("expected AmbiguousLocationError, got %T: %v", err, err)
	}
	if len(ambig.Candidates) != 2 {
		t.Fatalf("expected exactly 2 candidates, got %d: %v", len(ambig.Candidates), ambig.Candidates)
	}
	if ambig.Candidates[0] != "over_a.cc:5" || ambig.Candidates[1] != "over_b.cc:5" {
		t.Fatalf("wrong candidates: %v", ambig.Candidates)
	}
}

func TestResolveUniqueCandidateCap(t *testing.T) {
	funcs := make([]FuncSym, 12)
	for i := range funcs {
		funcs[i] = FuncSym{
			Name:  "Spam",
			File:  fmt.Sprintf("spam_%d.cc", i),
			Entry: uint64(0x100 * (i + 1)),
			End:   uint64(0x100*(i+1) + 0x40),
		}
	}
	loader := newCountingLoader(NewTable(TableData{Name: "spam", BuildID: "buildspam", Functions: funcs}))
	idx := NewIndex(loader.load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})
	ps.SetModules([]ModuleInfo{{Name: "spam", BuildID: "buildspam", LoadAddress: 0x1000000}})

	_, err := ResolveUnique(ps, []locspec.InputLocation{mustParse(t, "Spam")}, true)
	ambig, ok := err.(AmbiguousLocationError)
	if !ok {
		t.Fatalf("expected AmbiguousLocationError, got %T: %v", err, err)
	}
	if len(ambig.Candidates) != maxAmbiguousCandidates {
		t.Fatalf("expected %d candidates, got %d", maxAmbiguousCandidates, len(ambig.Candidates))
	}
}
