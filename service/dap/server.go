// Package dap implements a DAP server bridging editors that speak the
// Debug Adapter Protocol onto a debug session. The editor runs tether
// in dap mode listening on a port and drives breakpoint configuration
// over TCP; breakpoint binding changes and hits flow back as events.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-tether/tether/pkg/agent"
	"github.com/go-tether/tether/pkg/locspec"
	"github.com/go-tether/tether/pkg/logflags"
	"github.com/go-tether/tether/pkg/session"
	"github.com/go-tether/tether/service/internal/sameuser"
)

// Config is everything the DAP server needs: the session it bridges to
// and the listener the client connection arrives on.
type Config struct {
	// Session is the debug session breakpoints are managed in. Its loop
	// must be running on another goroutine.
	Session *session.Session
	// Listener is used to accept the client connection.
	Listener net.Listener
	// DisconnectChan is closed when the client disconnects or the
	// connection fails. Once it is closed, Stop must be called.
	DisconnectChan chan struct{}
	// CheckLocalConnUser rejects connections to a loopback listener that
	// come from a different UNIX user.
	CheckLocalConnUser bool
}

// Server accepts a single DAP client for a single debug session. The
// server operates via two goroutines: the main goroutine where it is
// created and stopped, and a run goroutine started from Run that
// accepts the client connection and processes requests. Session access
// happens through posted tasks, so breakpoint events originate on the
// session loop while responses originate on the run goroutine.
type Server struct {
	config *Config
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed, signalling the
	// run goroutine to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	log    logflags.Logger

	// sendMu serializes writes from the run goroutine, which answers
	// requests, and the session loop, which emits events.
	sendMu sync.Mutex

	// events forwards session breakpoint notifications to the client.
	events *eventSender

	// fileBreakpoints maps a source path to the session breakpoint ids
	// its last setBreakpoints request created. funcBreakpoints is the
	// same for the last setFunctionBreakpoints request. Both are only
	// touched from the session loop.
	fileBreakpoints map[string][]uint32
	funcBreakpoints []uint32
}

// NewServer creates a new DAP Server. It takes an opened Listener via
// config and assumes its ownership. config.DisconnectChan has to be
// set; it will be closed by the server when the client disconnects or
// requests shutdown.
func NewServer(config *Config) *Server {
	logger := logflags.DAPLogger()
	logger.Infof("DAP server listening at: %s", config.Listener.Addr())
	s := &Server{
		config:          config,
		stopChan:        make(chan struct{}),
		log:             logger,
		fileBreakpoints: make(map[string][]uint32),
	}
	s.events = &eventSender{s: s}
	config.Session.Post(func() {
		config.Session.AddBreakpointObserver(s.events)
	})
	return s
}

// Stop detaches the server from the session, closes the listener and
// the client connection. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.config.Session.Post(func() {
		s.config.Session.RemoveBreakpointObserver(s.events)
	})
	s.config.Listener.Close()
	close(s.stopChan)
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec() returned, this
		// will result in a closed connection error on next read, breaking
		// out of the read loop and allowing the run goroutine to exit.
		s.conn.Close()
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client connection
// failure. Since the server services only one client, this can be used
// as a signal to the entire server via Stop(). The function safeguards
// against closing the channel more than once and can be called multiple
// times. It is not thread-safe and is only called from the run
// goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection and
// starts processing requests from it. Use Stop() to close the
// connection. The server does not support multiple clients, serially or
// in parallel.
func (s *Server) Run() {
	go func() {
		for {
			conn, err := s.config.Listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
				default:
					s.log.Errorf("accepting client connection: %v", err)
				}
				s.signalDisconnect()
				return
			}
			if c, ok := conn.(*net.TCPConn); ok && s.config.CheckLocalConnUser {
				if !sameuser.CanAccept(s.config.Listener.Addr(), c.LocalAddr(), c.RemoteAddr()) {
					c.Close()
					continue
				}
			}
			s.conn = conn
			s.serveDAPCodec()
			return
		}
	}()
}

// serveDAPCodec reads and decodes requests from the client until it
// encounters an error or EOF, when it sends the disconnect signal and
// returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Errorf("DAP error: %v", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error
		// response back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debugf("[<- from client] %s", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.AttachRequest:
		s.onAttachRequest(request)
	case *dap.LaunchRequest:
		// Launching is the remote agent's business; this adapter only
		// attaches to what is already debuggable.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetFunctionBreakpointsRequest:
		s.onSetFunctionBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Sent even though we specified no filters at initialization.
		// Handle as no-op.
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
	case *dap.ConfigurationDoneRequest:
		s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.ContinueRequest, *dap.NextRequest, *dap.StepInRequest, *dap.StepOutRequest,
		*dap.PauseRequest, *dap.StackTraceRequest, *dap.ScopesRequest, *dap.VariablesRequest,
		*dap.EvaluateRequest, *dap.SourceRequest, *dap.TerminateRequest, *dap.RestartRequest:
		// Execution control and state inspection stay with the remote
		// agent's own clients.
		s.sendUnsupportedErrorResponse(*request.(dap.RequestMessage).GetRequest())
	default:
		// This is a DAP message that go-dap has a struct for, so decoding
		// succeeded, but this server does not know how to handle it.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v", request))
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debugf("[-> to client] %s", string(jsonmsg))
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	dap.WriteProtocolMessage(s.conn, message)
}

// onSession runs fn on the session loop and waits for it to finish.
func (s *Server) onSession(fn func()) {
	done := make(chan struct{})
	s.config.Session.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsConditionalBreakpoints = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsStepBack = false
	s.send(response)
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	var args struct {
		Mode string `json:"mode"`
	}
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			s.sendErrorResponse(request.Request,
				FailedToAttach, "Failed to attach",
				fmt.Sprintf("invalid debug configuration: %v", err))
			return
		}
	}
	if args.Mode != "" && args.Mode != "remote" {
		s.sendErrorResponse(request.Request,
			FailedToAttach, "Failed to attach",
			fmt.Sprintf("invalid debug configuration mode %q, only \"remote\" is supported", args.Mode))
		return
	}
	// Notify the client that the session is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it signals that the debug adaptor can be terminated. The session and
// its agent connection stay up; only the editor goes away.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	source := request.Arguments.Source
	if source.Path == "" {
		s.sendErrorResponse(request.Request,
			UnableToSetBreakpoints, "Unable to set breakpoints",
			"empty source path")
		return
	}
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	s.onSession(func() {
		sess := s.config.Session
		// setBreakpoints replaces all breakpoints previously configured
		// for this source.
		for _, id := range s.fileBreakpoints[source.Path] {
			if bp := sess.BreakpointByID(id); bp != nil {
				sess.DeleteBreakpoint(bp)
			}
		}
		ids := make([]uint32, 0, len(request.Arguments.Breakpoints))
		for i, want := range request.Arguments.Breakpoints {
			input := locspec.LineLocation{File: source.Path, Line: want.Line}
			got := &response.Body.Breakpoints[i]
			got.Source = &dap.Source{Name: source.Name, Path: source.Path}
			got.Line = want.Line
			bp, err := sess.CreateBreakpoint(session.BreakpointSettings{
				Enabled:   true,
				Locations: []locspec.InputLocation{input},
			})
			if err != nil {
				got.Message = err.Error()
				continue
			}
			ids = append(ids, bp.ID())
			fillBreakpoint(got, bp)
		}
		s.fileBreakpoints[source.Path] = ids
	})
	s.send(response)
}

func (s *Server) onSetFunctionBreakpointsRequest(request *dap.SetFunctionBreakpointsRequest) {
	response := &dap.SetFunctionBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	s.onSession(func() {
		sess := s.config.Session
		for _, id := range s.funcBreakpoints {
			if bp := sess.BreakpointByID(id); bp != nil {
				sess.DeleteBreakpoint(bp)
			}
		}
		ids := make([]uint32, 0, len(request.Arguments.Breakpoints))
		for i, want := range request.Arguments.Breakpoints {
			got := &response.Body.Breakpoints[i]
			input, err := locspec.Parse(want.Name)
			if err != nil {
				got.Message = err.Error()
				continue
			}
			bp, err := sess.CreateBreakpoint(session.BreakpointSettings{
				Enabled:   true,
				Locations: []locspec.InputLocation{input},
			})
			if err != nil {
				got.Message = err.Error()
				continue
			}
			ids = append(ids, bp.ID())
			fillBreakpoint(got, bp)
		}
		s.funcBreakpoints = ids
	})
	s.send(response)
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	var threads []dap.Thread
	s.onSession(func() {
		for _, t := range s.config.Session.Targets() {
			p := t.Process()
			if p == nil {
				continue
			}
			for _, th := range p.Threads() {
				threads = append(threads, dap.Thread{
					Id:   int(th.ID()),
					Name: fmt.Sprintf("%s #%d", p.Name(), th.ID()),
				})
			}
		}
	})
	if len(threads) == 0 {
		// The DAP spec states that "even if a debug adapter does not
		// support multiple threads, it must implement the threads request
		// and return a single (dummy) thread".
		threads = []dap.Thread{{Id: 1, Name: "Dummy"}}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

// fillBreakpoint reports a session breakpoint's binding state back in
// DAP terms. A breakpoint is verified once it resolved somewhere.
func fillBreakpoint(got *dap.Breakpoint, bp *session.Breakpoint) {
	got.Id = int(bp.ID())
	locs := bp.Locations()
	got.Verified = len(locs) > 0
	if len(locs) > 0 && locs[0].Location.Line != 0 {
		got.Line = locs[0].Location.Line
	}
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to
// the client. We only take a seq here because we don't want to make
// assumptions about the kind of message received by the server that
// this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process %q request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// eventSender forwards session breakpoint notifications to the DAP
// client. Its methods run on the session loop.
type eventSender struct {
	s *Server
}

func (e *eventSender) BreakpointMatched(bp *session.Breakpoint, newlyBound bool) {
	if e.s.conn == nil {
		return
	}
	event := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
	event.Body.Reason = "changed"
	fillBreakpoint(&event.Body.Breakpoint, bp)
	e.s.send(event)
}

func (e *eventSender) BreakpointUpdateFailed(bp *session.Breakpoint, err error) {
	if e.s.conn == nil {
		return
	}
	e.s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Output:   fmt.Sprintf("ERROR: breakpoint %d: %v\n", bp.ID(), err),
			Category: "stderr",
		}})
}

func (e *eventSender) BreakpointHit(bp *session.Breakpoint, hit agent.BreakpointHitNotify) {
	if e.s.conn == nil {
		return
	}
	event := &dap.StoppedEvent{Event: *newEvent("stopped")}
	event.Body.Reason = "breakpoint"
	event.Body.ThreadId = int(hit.Thread)
	event.Body.AllThreadsStopped = bp.Settings().StopMode == agent.StopAll
	event.Body.Description = fmt.Sprintf("breakpoint %d hit", bp.ID())
	e.s.send(event)
}
