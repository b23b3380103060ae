package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/runtime"
)

// Dial connects c to a server at url and sends LOGIN. The returned Conn must
// be pumped with Run.
func Dial(ctx context.Context, url string, c *runtime.Client) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := writeJSON(conn, c.LoginMsg()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send LOGIN: %w", err)
	}
	return &Conn{conn: conn, client: c, warn: &rate.Sometimes{Interval: time.Second}}, nil
}

type Conn struct {
	conn   *websocket.Conn
	client *runtime.Client
	// At most one unparsable-payload warning per second.
	warn *rate.Sometimes
}

func (c *Conn) Close() error { return c.conn.Close() }

// Run pumps frames between the socket and the client until either side
// fails or ctx ends.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := c.client.Outbox()

	errc := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = c.conn.Close()
				return
			case <-out.Done():
				_ = c.conn.Close()
				return
			case b := <-out.Reliable():
				if err := writeFrame(c.conn, websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			case b := <-out.Unreliable():
				if err := writeFrame(c.conn, websocket.BinaryMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	go func() {
		for {
			typ, msg, err := c.conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			var v any
			var class string
			switch typ {
			case websocket.TextMessage:
				class = "reliable"
				v, err = protocol.DecodeReliable(msg)
			case websocket.BinaryMessage:
				class = "unreliable"
				v, err = protocol.DecodeUnreliable(msg)
			default:
				continue
			}
			if err != nil {
				n := c.client.Unparsable().Add(1)
				c.warn.Do(func() {
					c.client.Logger().Printf("unparsable %s message (%d bytes, %d total): %v", class, len(msg), n, err)
				})
				continue
			}
			select {
			case c.client.Inbox() <- v:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}
