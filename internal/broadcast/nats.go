package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes every message as JSON on <prefix>.<type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink connects to url. An empty prefix defaults to "svcdeck".
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = "svcdeck"
	}
	conn, err := nats.Connect(url,
		nats.Name("svcdeck"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("disconnected from nats", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (n *NATSSink) ID() string { return "nats:" + n.prefix }

// Subject returns the subject a message of type t is published on.
func (n *NATSSink) Subject(t MessageType) string { return n.prefix + "." + string(t) }

func (n *NATSSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := n.conn.Publish(n.Subject(msg.Type), b); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSSink) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	if err != nil {
		n.conn.Close()
	}
	return err
}
