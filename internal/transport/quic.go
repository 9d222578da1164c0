package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
)

// ALPN is the application protocol negotiated on QUIC connections.
const ALPN = "umisync"

var _ Conn = (*QUICConn)(nil)

// QUICConn sends reliable frames on one bidirectional stream, which keeps them
// ordered. Non-reliable frames go out as datagrams when the peer supports them
// and they fit; otherwise they use the stream too.
type QUICConn struct {
	id        string
	conn      *quic.Conn
	stream    *quic.Stream
	opts      Options
	logger    log.Log
	datagrams bool

	writeMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	incoming chan Frame
	failOnce sync.Once
	failed   chan struct{}
	err      error
	closed   atomic.Bool
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream, opts Options, logger log.Log) *QUICConn {
	if logger == nil {
		logger = log.Provide()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &QUICConn{
		id:        id,
		conn:      conn,
		stream:    stream,
		opts:      opts,
		logger:    logger.With(log.Peer(id), log.String("transport", TransportQUIC)),
		datagrams: opts.EnableDatagrams && conn.ConnectionState().SupportsDatagrams,
		ctx:       ctx,
		cancel:    cancel,
		incoming:  make(chan Frame, 64),
		failed:    make(chan struct{}),
	}
	go c.readStream()
	if c.datagrams {
		go c.readDatagrams()
	}
	return c
}

func (c *QUICConn) ID() string           { return c.id }
func (c *QUICConn) Transport() string    { return TransportQUIC }
func (c *QUICConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *QUICConn) Send(ctx context.Context, f Frame) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if len(f.Payload) > c.opts.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f.Payload), c.opts.MaxFrameSize)
	}

	if !f.Flags.Reliable() && c.datagrams {
		err := withEncoded(f, c.conn.SendDatagram)
		var tooLarge *quic.DatagramTooLargeError
		switch {
		case err == nil:
			metrics.ReportFrame(TransportQUIC, "out")
			return nil
		case !errors.As(err, &tooLarge):
			return fmt.Errorf("send datagram: %w", err)
		}
	}
	return c.writeStream(ctx, f)
}

func (c *QUICConn) writeStream(ctx context.Context, f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.stream.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	err := withEncoded(f, func(b []byte) error {
		_, err := c.stream.Write(b)
		return err
	})
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	metrics.ReportFrame(TransportQUIC, "out")
	return nil
}

func (c *QUICConn) Receive(ctx context.Context) (Frame, error) {
	var timeout <-chan time.Time
	if c.opts.ReadTimeout > 0 {
		timer := time.NewTimer(c.opts.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case f := <-c.incoming:
		return f, nil
	case <-c.failed:
		// frames read before the failure are still delivered
		select {
		case f := <-c.incoming:
			return f, nil
		default:
			return Frame{}, c.err
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-timeout:
		return Frame{}, fmt.Errorf("read frame: %w", context.DeadlineExceeded)
	}
}

func (c *QUICConn) fail(err error) {
	c.failOnce.Do(func() {
		if c.closed.Load() {
			err = ErrConnectionClosed
		}
		c.err = err
		close(c.failed)
	})
}

func (c *QUICConn) deliver(f Frame) bool {
	metrics.ReportFrame(TransportQUIC, "in")
	select {
	case c.incoming <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *QUICConn) readStream() {
	head := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(c.stream, head); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
		h, err := readHeader(head, c.opts.MaxFrameSize)
		if err != nil {
			metrics.ReportDecodeFailure("frame")
			c.fail(err)
			return
		}
		payload := make([]byte, h.length)
		if _, err := io.ReadFull(c.stream, payload); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
		f, err := h.frame(payload)
		if err != nil {
			metrics.ReportDecodeFailure("frame")
			c.fail(err)
			return
		}
		if f.Flags.Control() {
			continue
		}
		if !c.deliver(f) {
			return
		}
	}
}

// readDatagrams drops damaged datagrams: they only carry frames whose loss is
// acceptable.
func (c *QUICConn) readDatagrams() {
	for {
		data, err := c.conn.ReceiveDatagram(c.ctx)
		if err != nil {
			return
		}
		f, err := DecodeFrame(data, c.opts.MaxFrameSize)
		if err != nil {
			metrics.ReportDecodeFailure("frame")
			c.logger.Debug("dropped damaged datagram", log.Error(err))
			continue
		}
		if !c.deliver(f) {
			return
		}
	}
}

func (c *QUICConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	c.writeMu.Lock()
	_ = c.stream.Close()
	c.writeMu.Unlock()
	c.fail(ErrConnectionClosed)
	c.logger.Debug("quic connection closed")
	return c.conn.CloseWithError(0, "closed")
}

func quicConfig(opts Options) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  opts.IdleTimeout,
		KeepAlivePeriod: opts.KeepAlive,
		EnableDatagrams: opts.EnableDatagrams,
	}
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	out := tlsConf.Clone()
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{ALPN}
	}
	return out
}

var hello = Frame{Flags: FlagControl | FlagReliable}

// DialQUIC connects to a QUIC listener and opens the frame stream.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, opts Options, logger log.Log) (*QUICConn, error) {
	opts = opts.withDefaults()
	conn, err := quic.DialAddr(ctx, addr, withALPN(tlsConf), quicConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	// the listener only sees the stream once data arrives on it
	if _, err := stream.Write(EncodeFrame(hello)); err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return newQUICConn(conn, stream, opts, logger), nil
}

// QUICListener accepts QUIC peers.
type QUICListener struct {
	ln     *quic.Listener
	opts   Options
	logger log.Log
}

func ListenQUIC(addr string, tlsConf *tls.Config, opts Options, logger log.Log) (*QUICListener, error) {
	if tlsConf == nil || len(tlsConf.Certificates) == 0 && tlsConf.GetCertificate == nil {
		return nil, errors.New("quic listener needs a TLS certificate")
	}
	if logger == nil {
		logger = log.Provide()
	}
	opts = opts.withDefaults()
	ln, err := quic.ListenAddr(addr, withALPN(tlsConf), quicConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	logger.Info("quic listener started", log.String("addr", ln.Addr().String()))
	return &QUICListener{ln: ln, opts: opts, logger: logger}, nil
}

// Accept waits for a peer and for its frame stream.
func (l *QUICListener) Accept(ctx context.Context) (*QUICConn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return newQUICConn(conn, stream, l.opts, l.logger), nil
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// GenerateSelfSignedTLS returns a server TLS config with a fresh self-signed
// certificate for localhost. For development only.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"umisync"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// InsecureClientTLS skips certificate verification. For development only.
func InsecureClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}
