package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/go-tether/tether/cmd/tether/cmds/helphelpers"
	"github.com/go-tether/tether/pkg/agent"
	"github.com/go-tether/tether/pkg/config"
	"github.com/go-tether/tether/pkg/logflags"
	"github.com/go-tether/tether/pkg/session"
	"github.com/go-tether/tether/pkg/symbol"
	"github.com/go-tether/tether/pkg/tls"
	"github.com/go-tether/tether/pkg/version"
	"github.com/go-tether/tether/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the DAP server listen address.
	addr string
	// symbolPaths is the list of directories searched for symbol listings.
	symbolPaths []string
	// launchAgent is whether to start the configured agent command before connecting.
	launchAgent bool
	// agentFlags is extra flags appended to the configured agent command.
	agentFlags string
	// agentAddr is the address of a running debug agent.
	agentAddr string
	// checkLocalConnUser is true if the DAP server should only accept connections from the local user.
	checkLocalConnUser bool
	// tlsCert and tlsKey are the server certificate used to serve DAP over TLS.
	tlsCert, tlsKey string
	// tlsClientCA is the CA used to verify editor certificates, enables mutual TLS.
	tlsClientCA string
	// agentTLSCA is the CA used to verify the agent certificate when dialing over TLS.
	agentTLSCA string
	// agentTLSCert and agentTLSKey are the client certificate presented to an agent requiring mutual TLS.
	agentTLSCert, agentTLSKey string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const tetherCommandLongDesc = `Tether manages breakpoints on a remote debug agent.

Tether connects to a running debug agent, resolves symbolic breakpoint
locations against the symbol listings for the modules each attached process
has loaded, and keeps the agent's installed breakpoints in sync as settings
change and modules load and unload. Editors talk to it over the Debug
Adapter Protocol.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main tether root command.
	rootCommand = &cobra.Command{
		Use:   "tether",
		Short: "Tether is a breakpoint manager for remote debug agents.",
		Long:  tetherCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output: session, symbol, agentwire, dap.")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringArrayVar(&symbolPaths, "symbol-path", nil, "Directory to search for symbol listings, may be repeated.")
	rootCommand.PersistentFlags().BoolVar(&launchAgent, "launch", false, "Start the configured agent command before connecting.")
	rootCommand.PersistentFlags().StringVar(&agentFlags, "agent-flags", "", "Extra flags appended to the configured agent command.")
	rootCommand.PersistentFlags().StringVar(&agentAddr, "agent", "", "Address of the running debug agent.")
	rootCommand.PersistentFlags().BoolVar(&checkLocalConnUser, "only-same-user", true, "Only connections from the same user that started this instance of tether are allowed to connect.")
	rootCommand.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "Serve DAP over TLS with this certificate.")
	rootCommand.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "Private key for the --tls-cert certificate.")
	rootCommand.PersistentFlags().StringVar(&tlsClientCA, "tls-client-ca", "", "Require editors to present a certificate signed by this CA.")
	rootCommand.PersistentFlags().StringVar(&agentTLSCA, "agent-tls-ca", "", "Dial the agent over TLS, verifying it against this CA.")
	rootCommand.PersistentFlags().StringVar(&agentTLSCert, "agent-tls-cert", "", "Certificate presented to an agent that requires mutual TLS.")
	rootCommand.PersistentFlags().StringVar(&agentTLSKey, "agent-tls-key", "", "Private key for the --agent-tls-cert certificate.")

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a running debug agent and serve DAP.",
		Long: `Connect to a debug agent listening at the given address.

Breakpoints are managed on the agent for as long as the connection lasts.
Editors attach to the printed DAP address to set and clear them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an agent address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server connects to the debug agent given by --agent and serves a single
editor session. It supports breakpoint configuration requests; execution
control belongs to the agent's own tooling.`,
		Run: dapCmd,
	}
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	var versionVerbose bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tether Debugger\n%s\n", version.TetherVersion)
			if versionVerbose {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	defaultHelpFunc := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelpFunc(cmd, args)
	})
	defaultUsageFunc := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return defaultUsageFunc(cmd)
	})

	return rootCommand
}

func connectCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		applyConfigDefaults()
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		agentAddr := args[0]
		if agentAddr == "" {
			fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
			return 1
		}
		if launchAgent {
			agentProc, err := startAgent()
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not start agent: %v\n", err)
				return 1
			}
			defer agentProc.Process.Kill()
		}
		return serve(agentAddr)
	}()
	os.Exit(status)
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		applyConfigDefaults()
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if agentAddr == "" {
			fmt.Fprint(os.Stderr, "You must provide the agent address with --agent.\n")
			return 1
		}
		if launchAgent {
			agentProc, err := startAgent()
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not start agent: %v\n", err)
				return 1
			}
			defer agentProc.Process.Kill()
		}
		return serve(agentAddr)
	}()
	os.Exit(status)
}

// applyConfigDefaults fills in flags the user did not pass from the
// configuration file.
func applyConfigDefaults() {
	if logOutput == "" && conf.LogOutput != "" {
		log = true
		logOutput = conf.LogOutput
	}
	if logDest == "" {
		logDest = conf.LogDest
	}
	if len(symbolPaths) == 0 {
		symbolPaths = conf.SymbolPaths
	}
}

// startAgent launches the configured agent command line with any extra
// flags appended and leaves it running in the background.
func startAgent() (*exec.Cmd, error) {
	if conf.AgentCmd == "" {
		return nil, errors.New("no agent-cmd set in the configuration file")
	}
	v, err := argv.Argv(conf.AgentCmd,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal agent command line '%s'", conf.AgentCmd)
	}
	cmdline := v[0]
	if agentFlags != "" {
		cmdline = append(cmdline, config.SplitQuotedFields(agentFlags, '\'')...)
	}
	if len(cmdline) == 0 {
		return nil, fmt.Errorf("illegal agent command line '%s'", conf.AgentCmd)
	}
	agentProc := exec.Command(cmdline[0], cmdline[1:]...)
	agentProc.Stdout = os.Stdout
	agentProc.Stderr = os.Stderr
	if err := agentProc.Start(); err != nil {
		return nil, err
	}
	return agentProc, nil
}

// serve dials the agent, starts the session loop and serves DAP on the
// listen address until the editor disconnects or a SIGINT arrives.
func serve(agentAddr string) int {
	client, err := dialAgent(agentAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to agent at %s: %v\n", agentAddr, err)
		return 1
	}
	defer client.Close()

	sess := session.New(symbol.NewIndex(symbol.DirectoryLoader(symbolPaths)), client)
	client.WatchHits(func(hit agent.BreakpointHitNotify) {
		sess.Post(func() { sess.HandleBreakpointHit(hit) })
	})
	go sess.Run()
	defer sess.Shutdown()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Printf("couldn't start listener: %s\n", err)
		return 1
	}
	if tlsCert != "" {
		if tlsClientCA != "" {
			listener, err = tls.WrapListenerWithMtls(listener, tlsClientCA, tlsCert, tlsKey)
		} else {
			listener, err = tls.WrapListenerWithTls(listener, tlsCert, tlsKey)
		}
		if err != nil {
			fmt.Printf("couldn't enable tls on listener: %s\n", err)
			return 1
		}
	}
	disconnectChan := make(chan struct{})
	server := dap.NewServer(&dap.Config{
		Session:            sess,
		Listener:           listener,
		DisconnectChan:     disconnectChan,
		CheckLocalConnUser: checkLocalConnUser,
	})
	defer server.Stop()

	fmt.Printf("DAP server listening at: %s\n", listener.Addr())
	server.Run()
	waitForDisconnectSignal(disconnectChan)
	return 0
}

// dialAgent connects to the debug agent, over TLS when --agent-tls-ca
// was given.
func dialAgent(agentAddr string) (*agent.WireClient, error) {
	if agentTLSCA == "" {
		return agent.Dial(agentAddr)
	}
	var conn net.Conn
	var err error
	if agentTLSCert != "" {
		conn, err = tls.DialWithMtls("tcp", agentAddr, agentTLSCA, agentTLSCert, agentTLSKey)
	} else {
		conn, err = tls.DialWithTls("tcp", agentAddr, agentTLSCA)
	}
	if err != nil {
		return nil, err
	}
	return agent.NewClientFromConn(conn)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the editor disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	if runtime.GOOS == "windows" {
		// On windows Ctrl-C sent to inferior process is delivered
		// as SIGINT to tether. Ignore it instead of stopping the server
		// in order to be able to debug signal handlers.
		go func() {
			for {
				select {
				case <-ch:
				}
			}
		}()
		select {
		case <-disconnectChan:
		}
	} else {
		select {
		case <-ch:
		case <-disconnectChan:
		}
	}
}
