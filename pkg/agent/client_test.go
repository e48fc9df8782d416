package agent

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testAgent struct {
	version uint32

	mu      sync.Mutex
	adds    []AddOrChangeBreakpointRequest
	removes []RemoveBreakpointRequest

	addStatus Status
	hitc      chan BreakpointHitNotify
}

func newTestAgent() *testAgent {
	return &testAgent{version: Version, hitc: make(chan BreakpointHitNotify, 4)}
}

func (a *testAgent) Hello(req HelloRequest, reply *HelloReply) error {
	reply.Version = a.version
	return nil
}

func (a *testAgent) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, reply *AddOrChangeBreakpointReply) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adds = append(a.adds, req)
	reply.Status = a.addStatus
	return nil
}

func (a *testAgent) RemoveBreakpoint(req RemoveBreakpointRequest, reply *RemoveBreakpointReply) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removes = append(a.removes, req)
	return nil
}

func (a *testAgent) NextHit(req NextHitRequest, reply *BreakpointHitNotify) error {
	hit, ok := <-a.hitc
	if !ok {
		return errors.New("agent shutting down")
	}
	*reply = hit
	return nil
}

func startTestAgent(t *testing.T, a *testAgent) *WireClient {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("Agent", a))
	serverConn, clientConn := net.Pipe()
	go srv.ServeCodec(jsonrpc.NewServerCodec(serverConn))
	client, err := NewClientFromConn(clientConn)
	require.NoError(t, err)
	return client
}

type addResult struct {
	reply AddOrChangeBreakpointReply
	err   error
}

func TestDialVersionGate(t *testing.T) {
	a := newTestAgent()
	a.version = Version + 1

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("Agent", a))
	serverConn, clientConn := net.Pipe()
	go srv.ServeCodec(jsonrpc.NewServerCodec(serverConn))

	_, err := NewClientFromConn(clientConn)
	require.Error(t, err)
	var mismatch *VersionMismatchError
	require.True(t, errors.As(err, &mismatch), "expected VersionMismatchError, got %v", err)
	require.Equal(t, uint32(Version+1), mismatch.Got)
}

func TestAddOrChangeBreakpoint(t *testing.T) {
	a := newTestAgent()
	a.addStatus = StatusNoResources
	client := startTestAgent(t, a)
	defer client.Close()

	req := AddOrChangeBreakpointRequest{
		Breakpoint: BreakpointSettings{
			ID:       7,
			Type:     Hardware,
			StopMode: StopAll,
			Locations: []ProcessBreakpointSettings{
				{Process: 101, Address: 0x10400},
			},
		},
	}
	results := make(chan addResult, 1)
	client.AddOrChangeBreakpoint(req, func(reply AddOrChangeBreakpointReply, err error) {
		results <- addResult{reply, err}
	})

	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.Equal(t, StatusNoResources, res.reply.Status)
		require.EqualError(t, res.reply.Status.Check("install breakpoint 7"),
			"install breakpoint 7 failed: out of hardware breakpoint resources")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.adds, 1)
	require.Equal(t, uint32(7), a.adds[0].Breakpoint.ID)
}

func TestRemoveBreakpoint(t *testing.T) {
	a := newTestAgent()
	client := startTestAgent(t, a)
	defer client.Close()

	results := make(chan error, 1)
	client.RemoveBreakpoint(RemoveBreakpointRequest{BreakpointID: 7}, func(reply RemoveBreakpointReply, err error) {
		if err == nil {
			err = reply.Status.Check("remove breakpoint 7")
		}
		results <- err
	})

	select {
	case err := <-results:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.removes, 1)
	require.Equal(t, uint32(7), a.removes[0].BreakpointID)
}

func TestTransportErrorDelivery(t *testing.T) {
	a := newTestAgent()
	client := startTestAgent(t, a)
	client.Close()

	results := make(chan addResult, 1)
	client.AddOrChangeBreakpoint(AddOrChangeBreakpointRequest{}, func(reply AddOrChangeBreakpointReply, err error) {
		results <- addResult{reply, err}
	})

	select {
	case res := <-results:
		require.Error(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWatchHits(t *testing.T) {
	a := newTestAgent()
	client := startTestAgent(t, a)
	defer client.Close()

	hits := make(chan BreakpointHitNotify, 1)
	client.WatchHits(func(hit BreakpointHitNotify) {
		hits <- hit
	})

	a.hitc <- BreakpointHitNotify{BreakpointID: 7, Process: 101, Thread: 3, HitCount: 1}

	select {
	case hit := <-hits:
		require.Equal(t, uint32(7), hit.BreakpointID)
		require.Equal(t, uint64(101), hit.Process)
		require.Equal(t, uint64(1), hit.HitCount)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hit")
	}
}
