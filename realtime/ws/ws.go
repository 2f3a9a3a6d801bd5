// Package ws is a thin wrapper over gorilla/websocket for text-frame
// protocols: context-aware reads, deadline-bound writes, and close-status
// helpers.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used by the gateway protocol.
const (
	CloseNormal           = websocket.CloseNormalClosure // 1000
	CloseHeartbeatTimeout = 4001
)

// Close reasons sent alongside a close status.
const (
	ReasonNormalClosure    = "normal_closure"
	ReasonServerShutdown   = "server_shutdown"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
)

type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	ReadLimit       int64                      // Max inbound frame bytes; 0 keeps the gorilla default.
	CheckOrigin     func(r *http.Request) bool // Optional origin check.
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		c.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{c: c}, nil
}

// ReadMessage reads one frame, honoring context deadline and cancellation.
//
// gorilla/websocket does not natively unblock ReadMessage on context
// cancellation; force the in-flight read awake by pulling the read deadline
// forward, then map the resulting I/O timeout back to ctx.Err().
func (c *Conn) ReadMessage(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if active.Load() {
				_ = c.c.SetReadDeadline(time.Now())
			}
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	mt, b, err := c.c.ReadMessage()
	if err == nil {
		return mt, b, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return 0, nil, cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil, context.DeadlineExceeded
		}
	}
	return 0, nil, err
}

// WriteText writes one text frame with an absolute deadline; zero disables it.
func (c *Conn) WriteText(deadline time.Time, data []byte) error {
	_ = c.c.SetWriteDeadline(deadline)
	return c.c.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection without a close handshake.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	return c.c.Close()
}

// RemoteAddr reports the peer address.
func (c *Conn) RemoteAddr() string {
	return c.c.RemoteAddr().String()
}

// Underlying exposes the raw gorilla/websocket connection.
func (c *Conn) Underlying() *websocket.Conn {
	return c.c
}
