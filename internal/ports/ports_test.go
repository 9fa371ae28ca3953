package ports

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/process"
	"github.com/loykin/svcdeck/internal/service"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestIsListening(t *testing.T) {
	in := NewInspector(nil)
	in.Host = "127.0.0.1"
	ln, port := listen(t)
	assert.True(t, in.IsListening(context.Background(), port))

	require.NoError(t, ln.Close())
	assert.False(t, in.IsListening(context.Background(), port))
	assert.False(t, in.IsListening(context.Background(), 0))
	assert.False(t, in.IsListening(context.Background(), 70000))
}

func TestIsListeningUnreachableIsBounded(t *testing.T) {
	in := NewInspector(nil)
	in.Host = "10.255.255.1" // usually blackholed; some networks answer, so only the bound is checked
	in.Timeout = 100 * time.Millisecond
	start := time.Now()
	_ = in.IsListening(context.Background(), 81)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIsListeningCancelledContext(t *testing.T) {
	in := NewInspector(nil)
	in.Host = "127.0.0.1"
	_, port := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, in.IsListening(ctx, port))
}

type fakeSockets map[int32][]gopsnet.ConnectionStat

func (f fakeSockets) Sockets(_ context.Context, pid int32) ([]gopsnet.ConnectionStat, error) {
	c, ok := f[pid]
	if !ok {
		return nil, errors.New("no such process")
	}
	return c, nil
}

func TestScanCollectsListenPorts(t *testing.T) {
	socks := fakeSockets{
		1: {
			{Status: "LISTEN", Laddr: gopsnet.Addr{IP: "0.0.0.0", Port: 8000}},
			{Status: "ESTABLISHED", Laddr: gopsnet.Addr{IP: "127.0.0.1", Port: 51000}},
		},
		2: {
			{Status: "LISTEN", Laddr: gopsnet.Addr{IP: "::", Port: 8000}},
			{Status: "LISTEN", Laddr: gopsnet.Addr{IP: "::", Port: 9090}},
		},
	}
	in := NewInspector(socks)
	got := in.Scan(context.Background(), []process.Match{{PID: 1}, {PID: 3}, {PID: 2}})
	assert.Equal(t, []int{8000, 9090}, got)
}

func TestProbeAccessibleRequiresRunning(t *testing.T) {
	in := NewInspector(nil)
	in.Host = "127.0.0.1"
	_, port := listen(t)

	st := in.Probe(context.Background(), []int{port}, false)
	require.Len(t, st, 1)
	assert.True(t, st[0].InUse)
	assert.False(t, st[0].Accessible)

	st = in.Probe(context.Background(), []int{port}, true)
	assert.True(t, st[0].Accessible)
}

func TestConflicts(t *testing.T) {
	specs := []service.Spec{
		{Name: "A", Ports: []int{8000}},
		{Name: "B", Ports: []int{8000, 3000}},
		{Name: "C", Ports: []int{3001}},
	}
	c := Conflicts(specs)
	assert.Equal(t, map[int][]string{8000: {"A", "B"}}, c)
	assert.Equal(t, []string{"B"}, ClaimedBy(specs, 3000))
	assert.Empty(t, Conflicts(nil))
}
