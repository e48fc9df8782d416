package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var session = false
var symbol = false
var agentWire = false
var dap = false

var logOut io.WriteCloser

// SetLogOut redirects all logging to w. Must be called before Setup.
func SetLogOut(w io.WriteCloser) {
	logOut = w
}

func loggerOut() io.Writer {
	if logOut != nil {
		return logOut
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

func loggerFormatter() logrus.Formatter {
	if logOut != nil {
		return &logrus.TextFormatter{DisableColors: true}
	}
	return &logrus.TextFormatter{ForceColors: isatty.IsTerminal(os.Stderr.Fd())}
}

func makeLogger(flag bool, fields Fields) Logger {
	if loggerFactory != nil {
		return loggerFactory(flag, fields, logOut)
	}
	logger := logrus.New()
	logger.Out = loggerOut()
	logger.Formatter = loggerFormatter()
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

// Any returns true if any logging is enabled.
func Any() bool {
	return session || symbol || agentWire || dap
}

// Session returns true if the session package should log breakpoint and
// lifecycle bookkeeping.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the session package.
func SessionLogger() Logger {
	return makeLogger(session, Fields{"layer": "session"})
}

// Symbol returns true if the symbol registries should log module loads,
// unloads and cache activity.
func Symbol() bool {
	return symbol
}

// SymbolLogger returns a logger for the symbol package.
func SymbolLogger() Logger {
	return makeLogger(symbol, Fields{"layer": "symbol"})
}

// AgentWire returns true if requests and replies exchanged with the debug
// agent should be logged.
func AgentWire() bool {
	return agentWire
}

// AgentWireLogger returns a configured logger for the agent wire protocol.
func AgentWireLogger() Logger {
	return makeLogger(agentWire, Fields{"layer": "agent"})
}

// DAP returns true if the DAP bridge should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP bridge.
func DAPLogger() Logger {
	return makeLogger(dap, Fields{"layer": "dap"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets component log flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor
// or file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "tether-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "session":
			session = true
		case "symbol":
			symbol = true
		case "agentwire":
			agentWire = true
		case "dap":
			dap = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
