package operator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeControl struct {
	clients        map[string]ClientInfo
	republishCalls int
	republishErr   error
}

func (f *fakeControl) ListClients() []ClientInfo {
	out := make([]ClientInfo, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out
}

func (f *fakeControl) ClientStatus(name string) (ClientInfo, bool) {
	c, ok := f.clients[name]
	return c, ok
}

func (f *fakeControl) ResetReputation(name string) (float64, error) {
	c, ok := f.clients[name]
	if !ok {
		return 0, errors.New("client not registered")
	}
	prev := c.Reputation
	c.Reputation = 0.5
	f.clients[name] = c
	return prev, nil
}

func (f *fakeControl) RepublishConfig() error {
	f.republishCalls++
	return f.republishErr
}

func startTestServer(t *testing.T, control *fakeControl) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "operator.sock")
	srv := NewServer(socketPath, control, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return socketPath
}

func roundTrip(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	payload, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestListReturnsAllClients(t *testing.T) {
	control := &fakeControl{clients: map[string]ClientInfo{
		"cam-1": {Name: "cam-1", Reputation: 0.6, HasObservation: true},
	}}
	socketPath := startTestServer(t, control)

	resp := roundTrip(t, socketPath, Request{Cmd: "list"})
	require.True(t, resp.OK)
	require.Len(t, resp.Clients, 1)
	require.Equal(t, "cam-1", resp.Clients[0].Name)
}

func TestStatusUnknownClient(t *testing.T) {
	control := &fakeControl{clients: map[string]ClientInfo{}}
	socketPath := startTestServer(t, control)

	resp := roundTrip(t, socketPath, Request{Cmd: "status", Name: "ghost"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "not registered")
}

func TestResetReturnsPreviousReputation(t *testing.T) {
	control := &fakeControl{clients: map[string]ClientInfo{
		"cam-1": {Name: "cam-1", Reputation: 0.12},
	}}
	socketPath := startTestServer(t, control)

	resp := roundTrip(t, socketPath, Request{Cmd: "reset", Name: "cam-1"})
	require.True(t, resp.OK)
	require.InDelta(t, 0.12, resp.PrevReputation, 1e-9)
}

func TestRepublishConfigInvokesControl(t *testing.T) {
	control := &fakeControl{clients: map[string]ClientInfo{}}
	socketPath := startTestServer(t, control)

	resp := roundTrip(t, socketPath, Request{Cmd: "republish_config"})
	require.True(t, resp.OK)
	require.Equal(t, 1, control.republishCalls)
}

func TestUnknownCommand(t *testing.T) {
	control := &fakeControl{clients: map[string]ClientInfo{}}
	socketPath := startTestServer(t, control)

	resp := roundTrip(t, socketPath, Request{Cmd: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
