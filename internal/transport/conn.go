package transport

import (
	"context"
	"net"
	"time"
)

// Transport names used in logs and metrics.
const (
	TransportWebsocket = "websocket"
	TransportQUIC      = "quic"
)

// Conn is an ordered, framed channel to one peer.
type Conn interface {
	ID() string
	Transport() string
	RemoteAddr() net.Addr
	// Send writes one frame. Concurrent calls are serialized.
	Send(ctx context.Context, f Frame) error
	// Receive returns the next frame. It must not be called concurrently.
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Options tune both transports.
type Options struct {
	MaxFrameSize int
	WriteTimeout time.Duration
	// ReadTimeout bounds each Receive; zero waits until the context ends.
	ReadTimeout time.Duration
	// EnableDatagrams lets QUIC send non-reliable frames as datagrams.
	EnableDatagrams bool
	IdleTimeout     time.Duration
	KeepAlive       time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxFrameSize:    DefaultMaxFrameSize,
		WriteTimeout:    10 * time.Second,
		EnableDatagrams: true,
		IdleTimeout:     30 * time.Second,
		KeepAlive:       15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = d.KeepAlive
	}
	return o
}

// deadline picks the earlier of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
