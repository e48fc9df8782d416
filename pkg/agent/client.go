package agent

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/go-tether/tether/pkg/logflags"
)

// Client is the session's view of the remote debug agent. Both
// operations are fire-and-forget: they return immediately and deliver
// the reply to fn later. fn runs on an internal goroutine; callers that
// need loop affinity must repost from inside it.
//
// A non-nil error passed to fn is a transport failure and the reply is
// meaningless. A delivered reply with a non-zero Status is a domain
// error, see Status.Check.
type Client interface {
	AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, fn func(AddOrChangeBreakpointReply, error))
	RemoveBreakpoint(req RemoveBreakpointRequest, fn func(RemoveBreakpointReply, error))
}

// WireClient is a Client over a JSON-RPC connection to the agent.
type WireClient struct {
	rpc *rpc.Client
	log logflags.Logger
}

var _ Client = &WireClient{}

// Dial connects to the agent at addr and performs the Hello version
// exchange.
func Dial(addr string) (*WireClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newFromRPC(client)
}

// NewClientFromConn runs the agent protocol over an established
// connection.
func NewClientFromConn(conn net.Conn) (*WireClient, error) {
	return newFromRPC(jsonrpc.NewClient(conn))
}

func newFromRPC(client *rpc.Client) (*WireClient, error) {
	c := &WireClient{rpc: client, log: logflags.AgentWireLogger()}
	var hello HelloReply
	if err := client.Call("Agent.Hello", HelloRequest{}, &hello); err != nil {
		client.Close()
		return nil, err
	}
	if hello.Version != Version {
		client.Close()
		return nil, &VersionMismatchError{Got: hello.Version, Want: Version}
	}
	c.log.Debugf("connected to agent, protocol version %d", hello.Version)
	return c, nil
}

// AddOrChangeBreakpoint implements Client.
func (c *WireClient) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, fn func(AddOrChangeBreakpointReply, error)) {
	c.log.Debugf("-> add_or_change breakpoint %d, %d locations", req.Breakpoint.ID, len(req.Breakpoint.Locations))
	reply := new(AddOrChangeBreakpointReply)
	call := c.rpc.Go("Agent.AddOrChangeBreakpoint", req, reply, nil)
	go func() {
		<-call.Done
		c.log.Debugf("<- add_or_change breakpoint %d: status %v, err %v", req.Breakpoint.ID, reply.Status, call.Error)
		fn(*reply, call.Error)
	}()
}

// RemoveBreakpoint implements Client.
func (c *WireClient) RemoveBreakpoint(req RemoveBreakpointRequest, fn func(RemoveBreakpointReply, error)) {
	c.log.Debugf("-> remove breakpoint %d", req.BreakpointID)
	reply := new(RemoveBreakpointReply)
	call := c.rpc.Go("Agent.RemoveBreakpoint", req, reply, nil)
	go func() {
		<-call.Done
		c.log.Debugf("<- remove breakpoint %d: status %v, err %v", req.BreakpointID, reply.Status, call.Error)
		fn(*reply, call.Error)
	}()
}

// WatchHits delivers breakpoint hit notifications to fn until the
// connection fails. fn runs on the watch goroutine.
func (c *WireClient) WatchHits(fn func(BreakpointHitNotify)) {
	go func() {
		for {
			var notify BreakpointHitNotify
			if err := c.rpc.Call("Agent.NextHit", NextHitRequest{}, &notify); err != nil {
				c.log.Debugf("hit watch ended: %v", err)
				return
			}
			c.log.Debugf("<- breakpoint %d hit in process %d", notify.BreakpointID, notify.Process)
			fn(notify)
		}
	}()
}

// Close tears down the connection. Pending completions receive
// rpc.ErrShutdown.
func (c *WireClient) Close() error {
	return c.rpc.Close()
}
