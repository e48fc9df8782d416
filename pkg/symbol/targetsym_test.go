package symbol

import (
	"testing"

	"github.com/go-tether/tether/pkg/locspec"
)

func TestTargetSymbolsValidation(t *testing.T) {
	loader := newCountingLoader(testTable())
	idx := NewIndex(loader.load)
	ts := NewTargetSymbols(idx)
	if err := ts.AddModule("buildapp"); err != nil {
		t.Fatalf("AddModule failed: %v", err)
	}

	loc := assertOneLocation(t, ts.ResolveInputLocation(mustParse(t, "main"), ResolveOptions{Symbolize: true}))
	if loc.Address != 0 {
		t.Fatalf("target-level resolution has no load address, expected 0, got %#x", loc.Address)
	}
	if loc.Function != "main" || loc.File != "app/main.cc" || loc.Line != 10 {
		t.Fatalf("wrong position: %#v", loc)
	}
}

func TestTargetSymbolsRejectsAddresses(t *testing.T) {
	idx := NewIndex(newCountingLoader().load)
	ts := NewTargetSymbols(idx)
	assertPanics(t, "address input on target symbols", func() {
		ts.ResolveInputLocation(locspec.AddrLocation{Addr: 0x1000}, ResolveOptions{})
	})
}

func TestTargetSymbolsAddMissing(t *testing.T) {
	idx := NewIndex(newCountingLoader().load)
	ts := NewTargetSymbols(idx)
	if err := ts.AddModule("unknown"); err != nil {
		t.Fatalf("missing symbols must not be an error: %v", err)
	}
	if got := ts.BuildIDs(); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestTargetSymbolsClone(t *testing.T) {
	loader := newCountingLoader(testTable())
	idx := NewIndex(loader.load)
	ts := NewTargetSymbols(idx)
	if err := ts.AddModule("buildapp"); err != nil {
		t.Fatalf("AddModule failed: %v", err)
	}

	clone := ts.Clone()
	if got := idx.ActiveRefs("buildapp"); got != 2 {
		t.Fatalf("expected 2 refs after clone, got %d", got)
	}
	if loader.loads["buildapp"] != 1 {
		t.Fatalf("clone must share the provider, got %d loads", loader.loads["buildapp"])
	}

	// The clone keeps working after the original goes away.
	ts.Release()
	if got := idx.ActiveRefs("buildapp"); got != 1 {
		t.Fatalf("expected 1 ref, got %d", got)
	}
	assertOneLocation(t, clone.ResolveInputLocation(mustParse(t, "main"), ResolveOptions{Symbolize: true}))
	clone.Release()
	if got := idx.ActiveRefs("buildapp"); got != 0 {
		t.Fatalf("expected 0 refs, got %d", got)
	}
}
