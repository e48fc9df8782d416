// Package agenttest provides a scripted in-memory agent.Client for
// tests that exercise breakpoint syncing without a wire connection.
package agenttest

import "github.com/go-tether/tether/pkg/agent"

// RecordingClient implements agent.Client, recording every request and
// answering from scripted status codes. Replies are delivered
// synchronously from inside the request call unless Manual is set, in
// which case they queue until Flush.
type RecordingClient struct {
	AddRequests    []agent.AddOrChangeBreakpointRequest
	RemoveRequests []agent.RemoveBreakpointRequest

	// AddStatus and RemoveStatus are the statuses the next replies
	// carry.
	AddStatus    agent.Status
	RemoveStatus agent.Status
	// Err, when set, is delivered as the transport error.
	Err error

	// Manual defers reply delivery until Flush.
	Manual  bool
	pending []func()
}

var _ agent.Client = &RecordingClient{}

func (c *RecordingClient) AddOrChangeBreakpoint(req agent.AddOrChangeBreakpointRequest, fn func(agent.AddOrChangeBreakpointReply, error)) {
	c.AddRequests = append(c.AddRequests, req)
	c.complete(func() { fn(agent.AddOrChangeBreakpointReply{Status: c.AddStatus}, c.Err) })
}

func (c *RecordingClient) RemoveBreakpoint(req agent.RemoveBreakpointRequest, fn func(agent.RemoveBreakpointReply, error)) {
	c.RemoveRequests = append(c.RemoveRequests, req)
	c.complete(func() { fn(agent.RemoveBreakpointReply{Status: c.RemoveStatus}, c.Err) })
}

func (c *RecordingClient) complete(fn func()) {
	if c.Manual {
		c.pending = append(c.pending, fn)
		return
	}
	fn()
}

// Flush delivers the deferred replies in request order.
func (c *RecordingClient) Flush() {
	pending := c.pending
	c.pending = nil
	for _, fn := range pending {
		fn()
	}
}

// Requests returns the total number of requests issued.
func (c *RecordingClient) Requests() int {
	return len(c.AddRequests) + len(c.RemoveRequests)
}
