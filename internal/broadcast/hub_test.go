package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	id   string
	mu   sync.Mutex
	msgs []Message
	err  error
	hang bool
}

func (m *memSink) ID() string { return m.id }

func (m *memSink) Send(ctx context.Context, msg Message) error {
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memSink) types() []MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageType, 0, len(m.msgs))
	for _, msg := range m.msgs {
		out = append(out, msg.Type)
	}
	return out
}

func testHub(interval time.Duration) *Hub {
	return NewHub(Options{
		Status:      func(context.Context) any { return []string{"api"} },
		Stats:       func(context.Context) any { return map[string]float64{"cpu_percent": 1.5} },
		Interval:    func() time.Duration { return interval },
		SendTimeout: 50 * time.Millisecond,
	})
}

func TestPublishDropsFailedSinks(t *testing.T) {
	h := testHub(time.Second)
	good := &memSink{id: "good"}
	bad := &memSink{id: "bad", err: errors.New("broken pipe")}
	slow := &memSink{id: "slow", hang: true}
	h.Subscribe(good)
	h.Subscribe(bad)
	h.Subscribe(slow)
	require.Equal(t, 3, h.Len())

	n := h.Publish(context.Background(), ServiceDeleted("api"))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"good"}, h.IDs())
	assert.Equal(t, []MessageType{TypeServiceDeleted}, good.types())

	h.Publish(context.Background(), SettingsUpdated(map[string]int{"update_interval_seconds": 2}))
	assert.Len(t, good.types(), 2)
}

func TestSnapshotOrder(t *testing.T) {
	h := testHub(time.Second)
	s := &memSink{id: "a"}
	h.Subscribe(s)
	h.Snapshot(context.Background())
	assert.Equal(t, []MessageType{TypeStatusUpdate, TypeSystemStats}, s.types())
}

func TestServePushesUntilCancelled(t *testing.T) {
	h := testHub(10 * time.Millisecond)
	s := &memSink{id: "ws-1"}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, s) }()

	require.Eventually(t, func() bool { return len(s.types()) >= 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Len())
	got := s.types()
	assert.Equal(t, TypeStatusUpdate, got[0])
	assert.Equal(t, TypeSystemStats, got[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 0, h.Len())
}

func TestServeStopsOnSendFailure(t *testing.T) {
	h := testHub(10 * time.Millisecond)
	err := h.Serve(context.Background(), &memSink{id: "gone", err: errors.New("closed")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
	assert.Equal(t, 0, h.Len())
}

func TestServeRereadsInterval(t *testing.T) {
	var mu sync.Mutex
	interval := time.Hour
	h := NewHub(Options{
		Status: func(context.Context) any { return nil },
		Interval: func() time.Duration {
			mu.Lock()
			defer mu.Unlock()
			d := interval
			interval = 5 * time.Millisecond
			return d
		},
	})
	s := &memSink{id: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, s) }()

	// the first wait is an hour, so only the initial snapshot arrives
	require.Eventually(t, func() bool { return len(s.types()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, s.types(), 1)
}

func TestMessageJSON(t *testing.T) {
	b, err := json.Marshal(ServiceDeleted("api"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_deleted","service_name":"api"}`, string(b))

	b, err = json.Marshal(ServiceAdded(map[string]string{"name": "web"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_added","data":{"name":"web"}}`, string(b))
}

func TestUnsubscribeUnknown(t *testing.T) {
	h := testHub(time.Second)
	h.Unsubscribe("nope")
	assert.Equal(t, 0, h.Len())
}
