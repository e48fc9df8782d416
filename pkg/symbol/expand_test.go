package symbol

import (
	"testing"

	"github.com/go-tether/tether/pkg/locspec"
)

func expandedNames(inputs []locspec.InputLocation) []string {
	out := make([]string, len(inputs))
	for i, input := range inputs {
		out[i] = input.String()
	}
	return out
}

func TestExpandInputLocation(t *testing.T) {
	loader := newCountingLoader(testTable())
	idx := NewIndex(loader.load)
	ps := NewProcessSymbols(idx, &notifyRecorder{})
	ps.SetModules([]ModuleInfo{{Name: "app", BuildID: "buildapp", LoadAddress: 0x10000}})

	// 0x10604 is inside NS::Foo::Bar, so a bare name picks up the
	// NS::Foo scope first and keeps the global reading second.
	got := expandedNames(ExpandInputLocation(ps, 0x10604, mustParse(t, "Baz")))
	if len(got) != 2 || got[0] != "NS::Foo::Baz" || got[1] != "Baz" {
		t.Fatalf("expected [NS::Foo::Baz Baz], got %v", got)
	}

	// Inside main the enclosing scope is empty.
	got = expandedNames(ExpandInputLocation(ps, 0x10408, mustParse(t, "Baz")))
	if len(got) != 1 || got[0] != "Baz" {
		t.Fatalf("expected [Baz], got %v", got)
	}

	// No scope address at all.
	got = expandedNames(ExpandInputLocation(ps, 0, mustParse(t, "Baz")))
	if len(got) != 1 || got[0] != "Baz" {
		t.Fatalf("expected [Baz], got %v", got)
	}

	// Anchored names are never re-qualified.
	got = expandedNames(ExpandInputLocation(ps, 0x10604, mustParse(t, "::Baz")))
	if len(got) != 1 || got[0] != "::Baz" {
		t.Fatalf("expected [::Baz], got %v", got)
	}

	// Non-name inputs expand to themselves.
	got = expandedNames(ExpandInputLocation(ps, 0x10604, mustParse(t, "main.cc:13")))
	if len(got) != 1 || got[0] != "main.cc:13" {
		t.Fatalf("expected [main.cc:13], got %v", got)
	}
}
