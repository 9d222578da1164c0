package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
)

var _ Conn = (*WebsocketConn)(nil)

// WebsocketConn carries one frame per binary websocket message.
type WebsocketConn struct {
	id     string
	conn   *websocket.Conn
	opts   Options
	logger log.Log
	closed atomic.Bool

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func NewWebsocketConn(conn *websocket.Conn, opts Options, logger log.Log) *WebsocketConn {
	opts = opts.withDefaults()
	if logger == nil {
		logger = log.Provide()
	}
	id := uuid.NewString()
	conn.SetReadLimit(int64(opts.MaxFrameSize + HeaderSize))
	return &WebsocketConn{
		id:     id,
		conn:   conn,
		opts:   opts,
		logger: logger.With(log.Peer(id), log.String("transport", TransportWebsocket)),
	}
}

func (c *WebsocketConn) ID() string           { return c.id }
func (c *WebsocketConn) Transport() string    { return TransportWebsocket }
func (c *WebsocketConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *WebsocketConn) Send(ctx context.Context, f Frame) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if len(f.Payload) > c.opts.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f.Payload), c.opts.MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	err := withEncoded(f, func(b []byte) error {
		return c.conn.WriteMessage(websocket.BinaryMessage, b)
	})
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	metrics.ReportFrame(TransportWebsocket, "out")
	return nil
}

// Receive reads the next data frame. Cancelling ctx interrupts the read and
// leaves the connection unusable.
func (c *WebsocketConn) Receive(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		if c.closed.Load() {
			return Frame{}, ErrConnectionClosed
		}
		_ = c.conn.SetReadDeadline(deadline(ctx, c.opts.ReadTimeout))
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Frame{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return Frame{}, fmt.Errorf("read frame: %w", err)
		}
		if mt != websocket.BinaryMessage {
			return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedType, mt)
		}
		f, err := DecodeFrame(data, c.opts.MaxFrameSize)
		if err != nil {
			metrics.ReportDecodeFailure("frame")
			return Frame{}, err
		}
		if f.Flags.Control() {
			continue
		}
		metrics.ReportFrame(TransportWebsocket, "in")
		return f, nil
	}
}

func (c *WebsocketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.logger.Debug("websocket connection closed")
	return c.conn.Close()
}

// WebsocketUpgrader accepts websocket peers on an HTTP handler.
type WebsocketUpgrader struct {
	upgrader websocket.Upgrader
	opts     Options
	logger   log.Log
}

// NewWebsocketUpgrader accepts every origin when allowedOrigins is empty.
func NewWebsocketUpgrader(opts Options, allowedOrigins []string, logger log.Log) *WebsocketUpgrader {
	if logger == nil {
		logger = log.Provide()
	}
	u := &WebsocketUpgrader{opts: opts.withDefaults(), logger: logger}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return u
}

func (u *WebsocketUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WebsocketConn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebsocketConn(conn, u.opts, u.logger), nil
}

// DialWebsocket connects to a ws:// or wss:// endpoint.
func DialWebsocket(ctx context.Context, url string, opts Options, logger log.Log) (*WebsocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebsocketConn(conn, opts, logger), nil
}
