package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/svcdeck/internal/broadcast"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var wsSeq atomic.Uint64

// wsSink adapts a websocket connection to broadcast.Sink. Writes are
// serialized; gorilla allows one concurrent writer.
type wsSink struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{id: fmt.Sprintf("ws-%d", wsSeq.Add(1)), conn: conn}
}

func (s *wsSink) ID() string { return s.id }

func (s *wsSink) Send(ctx context.Context, msg broadcast.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWS upgrades the connection and runs the observer loop until the
// client goes away.
func (r *Router) handleWS(c *gin.Context) {
	if r.hub == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Message: "push channel disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := newWSSink(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// read loop for close detection
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := sink.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	slog.Info("websocket observer connected", "observer", sink.ID(), "remote", c.Request.RemoteAddr)
	if err := r.hub.Serve(ctx, sink); err != nil {
		slog.Debug("websocket observer ended", "observer", sink.ID(), "error", err)
	}
	slog.Info("websocket observer disconnected", "observer", sink.ID())
}
