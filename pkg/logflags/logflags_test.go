package logflags

import (
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func resetFlags() {
	session = false
	symbol = false
	agentWire = false
	dap = false
	logOut = nil
	loggerFactory = nil
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "session,agentwire", ""); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if !Session() || !AgentWire() {
		t.Fatalf("expected session and agentwire logging enabled")
	}
	if Symbol() || DAP() {
		t.Fatalf("expected symbol and dap logging disabled")
	}
}

func TestSetupLogDest(t *testing.T) {
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "tether.log")
	if err := Setup(true, "session", path); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	SessionLogger().Info("hello")
	Close()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file does not contain entry: %q", string(data))
	}
}

func TestSetupLogOutputWithoutLog(t *testing.T) {
	defer resetFlags()

	if err := Setup(false, "session", ""); err == nil {
		t.Fatalf("expected error for --log-output without --log")
	}
}

func TestMakeLoggerUsesFactory(t *testing.T) {
	defer resetFlags()

	called := false
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		called = true
		if !flag {
			t.Errorf("expected flag to be true")
		}
		if fields["layer"] != "symbol" {
			t.Errorf("expected layer field %q, got %v", "symbol", fields["layer"])
		}
		return &logrusLogger{}
	})
	symbol = true
	SymbolLogger()
	if !called {
		t.Fatalf("expected logger factory to be used")
	}
}
