// Package agent defines the client side of the debug agent protocol:
// the value types breakpoint requests are made of, the status codes the
// agent answers with, and a wire client speaking JSON-RPC.
package agent

import "fmt"

// Version is the protocol version this client speaks. The agent must
// answer Hello with the same version or the connection is refused.
const Version = 2

// BreakpointType selects the installation mechanism.
type BreakpointType uint8

const (
	Software BreakpointType = iota
	Hardware
	ReadWatch
	WriteWatch
	ReadWriteWatch
)

// Sized reports whether the type watches a byte range rather than a
// single instruction address.
func (t BreakpointType) Sized() bool {
	return t == ReadWatch || t == WriteWatch || t == ReadWriteWatch
}

func (t BreakpointType) String() string {
	switch t {
	case Software:
		return "software"
	case Hardware:
		return "hardware"
	case ReadWatch:
		return "read watchpoint"
	case WriteWatch:
		return "write watchpoint"
	case ReadWriteWatch:
		return "read/write watchpoint"
	}
	return fmt.Sprintf("unknown type %d", uint8(t))
}

// StopMode is what the agent suspends when a breakpoint triggers.
type StopMode uint8

const (
	// StopAll suspends every attached process.
	StopAll StopMode = iota
	// StopProcess suspends only the hitting process.
	StopProcess
	// StopThread suspends only the hitting thread.
	StopThread
	// StopNone counts the hit and keeps running.
	StopNone
)

// ProcessBreakpointSettings is one installation site of a breakpoint.
type ProcessBreakpointSettings struct {
	// Process and Thread identify where to install; Thread 0 means
	// every thread of the process.
	Process uint64
	Thread  uint64

	Address uint64
	// Size is the watched byte count for sized breakpoint types, 0
	// otherwise.
	Size uint32
}

// BreakpointSettings is the full wire description of one breakpoint.
type BreakpointSettings struct {
	// ID is assigned by the client when the breakpoint is created and
	// never reused.
	ID        uint32
	Type      BreakpointType
	StopMode  StopMode
	OneShot   bool
	Locations []ProcessBreakpointSettings
}

// AddOrChangeBreakpointRequest installs a breakpoint or replaces the
// installed state of one, identified by Breakpoint.ID.
type AddOrChangeBreakpointRequest struct {
	Breakpoint BreakpointSettings
}

type AddOrChangeBreakpointReply struct {
	Status Status
}

// RemoveBreakpointRequest tears down the installed breakpoint with the
// given ID.
type RemoveBreakpointRequest struct {
	BreakpointID uint32
}

type RemoveBreakpointReply struct {
	Status Status
}

// HelloRequest opens a connection; the reply carries the agent's
// protocol version.
type HelloRequest struct{}

type HelloReply struct {
	Version uint32
}

// NextHitRequest asks for the next breakpoint hit; the agent holds the
// call until one occurs.
type NextHitRequest struct{}

// BreakpointHitNotify reports one breakpoint trigger.
type BreakpointHitNotify struct {
	BreakpointID uint32
	Process      uint64
	Thread       uint64
	// HitCount is the agent's cumulative count for this breakpoint.
	HitCount uint64
}

// Status is the agent's result code for a request. A non-zero status on
// a delivered reply is a domain error: the transport worked, the agent
// could not do what was asked.
type Status uint32

const (
	StatusOK Status = iota
	// StatusNoResources means the agent is out of hardware breakpoint
	// or watchpoint slots.
	StatusNoResources
	// StatusNotSupported means the agent cannot install this
	// breakpoint type on the target.
	StatusNotSupported
	// StatusInvalidArgs means the agent rejected the request contents.
	StatusInvalidArgs
	// StatusKernelDenied means debug functionality is gated off by
	// kernel configuration on the target.
	StatusKernelDenied
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoResources:
		return "out of hardware breakpoint resources"
	case StatusNotSupported:
		return "breakpoint type not supported by the agent"
	case StatusInvalidArgs:
		return "the agent rejected the request arguments"
	case StatusKernelDenied:
		return "debug functionality is disabled by kernel configuration"
	}
	return fmt.Sprintf("unknown agent status %d", uint32(s))
}

// Check returns nil for StatusOK and a StatusError naming op otherwise.
func (s Status) Check(op string) error {
	if s == StatusOK {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// StatusError is the domain error for a non-zero agent status.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// VersionMismatchError is returned when the agent speaks a different
// protocol version.
type VersionMismatchError struct {
	Got  uint32
	Want uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("agent speaks protocol version %d, this client requires %d", e.Got, e.Want)
}
