package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/config"
	"github.com/loykin/svcdeck/internal/history"
	"github.com/loykin/svcdeck/internal/process"
	"github.com/loykin/svcdeck/internal/service"
)

// gateSink blocks every Send until release is closed.
type gateSink struct {
	recSink
	release chan struct{}
}

func (g *gateSink) Send(ctx context.Context, e history.Event) error {
	<-g.release
	return g.recSink.Send(ctx, e)
}

func TestSlowHistorySinkDoesNotBlockOperations(t *testing.T) {
	sink := &gateSink{release: make(chan struct{})}
	ctl := newFakeCtl()
	sup := New(Options{
		Registry:    service.NewRegistry(api()),
		Matcher:     &fakeMatcher{procs: map[string][]process.Match{}},
		Ports:       &fakeProber{listening: map[int]bool{}},
		Controller:  ctl,
		Settings:    config.NewLive(config.DefaultSettings(), nil),
		History:     sink,
		StopTimeout: 300 * time.Millisecond,
		SettleDelay: time.Millisecond,
	})

	start := time.Now()
	assert.True(t, sup.Start(context.Background(), "api").Success)
	assert.True(t, sup.Stop(context.Background(), "api").Success)
	assert.Len(t, sup.StatusAll(context.Background()), 1)
	assert.Less(t, time.Since(start), time.Second, "operations must not wait on the sink")
	assert.Empty(t, sink.types())

	close(sink.release)
	require.NoError(t, sup.Close(context.Background()))
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, sink.types())
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	sink := &gateSink{release: make(chan struct{})}
	q := newEventQueue(sink, 1)

	// the worker takes one event and blocks on the gate; one more fits the buffer
	require.True(t, q.push(history.Event{Type: history.EventStart}))
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, q.push(history.Event{Type: history.EventStop}))
	assert.False(t, q.push(history.Event{Type: history.EventError}), "full queue drops")

	close(sink.release)
	require.NoError(t, q.close(context.Background()))
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, sink.types())
	assert.False(t, q.push(history.Event{Type: history.EventAdd}), "closed queue drops")
}

func TestCloseRespectsContext(t *testing.T) {
	sink := &gateSink{release: make(chan struct{})}
	defer close(sink.release)
	q := newEventQueue(sink, 4)
	q.push(history.Event{Type: history.EventStart})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.close(ctx), context.DeadlineExceeded)
}
