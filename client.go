package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	defaultInitialBufferSize = 4096
	defaultMaxMessageSize    = 16 << 20
)

// ConnOptions configures Dial. The zero value is usable: it dials with no
// extra headers or subprotocols, a 16 MiB maximum message size, and a
// no-op logger.
type ConnOptions struct {
	// Header carries additional request headers to send during the opening
	// handshake, e.g. Origin or Authorization.
	Header map[string]string
	// Subprotocols become the comma-separated Sec-WebSocket-Protocol
	// header. The client does not negotiate a policy of its own — it is
	// the caller's job to inspect the server's chosen subprotocol after
	// Dial if one is needed.
	Subprotocols []string
	// MaxMessageSize bounds the accumulated payload size of any single
	// message; exceeding it surfaces a *TooLargeError. Zero means the
	// default of 16 MiB.
	MaxMessageSize uint64
	// Logger receives structured lifecycle events (dial, handshake,
	// ping/pong, close, protocol errors). Defaults to a no-op logger.
	Logger *zap.Logger
}

// Client is a connected WebSocket client: the opening handshake has already
// completed. It is not safe for concurrent use by more than one goroutine
// calling Receive and more than one calling Send; its ordering guarantees
// assume exactly one reader and one writer.
type Client struct {
	id     uuid.UUID
	conn   net.Conn
	br     *bufio.Reader
	log    connLog
	maxLen uint64

	rx *byteBuffer
	tx *byteBuffer
	rn *maskRNG

	dec *decoder
	enc *encoder

	readMu  sync.Mutex
	writeMu sync.Mutex

	poisoned   atomic.Bool
	closing    atomic.Bool
	peerClosed atomic.Bool
}

// Dial parses rawURL (scheme ws or wss), establishes the byte stream -
// plain TCP for ws, TCP+TLS with SNI set to the host for wss - runs the
// opening handshake, and returns a ready-to-use Client.
func Dial(ctx context.Context, rawURL string, opts ConnOptions) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &HandshakeError{Msg: fmt.Sprintf("parsing URL: %v", err)}
	}

	rawLog := opts.Logger
	if rawLog == nil {
		rawLog = zap.NewNop()
	}
	id := uuid.New()
	rawLog = rawLog.With(zap.String("conn_id", id.String()), zap.String("url", rawURL))
	log := connLog{l: rawLog}

	var host, port string
	switch u.Scheme {
	case "ws":
		host, port = splitHostPort(u.Host, "80")
	case "wss":
		host, port = splitHostPort(u.Host, "443")
	default:
		return nil, &HandshakeError{Msg: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	dialer := &net.Dialer{}
	addr := net.JoinHostPort(host, port)

	log.dialing(addr)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "wss" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	c, err := newClient(conn, id, log, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := c.handshake(ctx, u, opts); err != nil {
		conn.Close()
		return nil, err
	}

	log.handshakeComplete()
	return c, nil
}

func splitHostPort(hostport, defaultPort string) (host, port string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	return host, port
}

func newClient(conn net.Conn, id uuid.UUID, log connLog, opts ConnOptions) (*Client, error) {
	maxLen := opts.MaxMessageSize
	if maxLen == 0 {
		maxLen = defaultMaxMessageSize
	}

	rx := newByteBuffer(defaultInitialBufferSize)
	tx := newByteBuffer(defaultInitialBufferSize)

	c := &Client{
		id:     id,
		conn:   conn,
		br:     bufio.NewReader(conn),
		log:    log,
		maxLen: maxLen,
		rx:     rx,
		tx:     tx,
		rn:     newMaskRNG(seedMaskRNG()),
		dec:    newDecoder(rx, maxLen),
	}
	c.enc = newEncoder(tx, c.rn, true)
	return c, nil
}

func (c *Client) handshake(ctx context.Context, u *url.URL, opts ConnOptions) error {
	req, hs, err := buildHandshakeRequest(u, opts.Header, opts.Subprotocols)
	if err != nil {
		return err
	}
	defer fasthttp.ReleaseRequest(req)

	bw := bufio.NewWriter(c.conn)
	if err := req.Write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if err := readHandshakeResponse(c.br, hs); err != nil {
		return err
	}

	// Any bytes fasthttp's response reader left buffered in c.br (never
	// actually produced for a bodyless 101, but checked defensively) belong
	// to the first WebSocket frame and must be preserved.
	if n := c.br.Buffered(); n > 0 {
		buf := c.rx.writable(n)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return err
		}
		c.rx.commit(n)
	}

	return nil
}

// Receive is the client driver's only read suspension point. It returns the
// next Message in wire order: control frames inline, and a fragmented data
// message only once its terminal frame has arrived. Pings are answered with
// a Pong automatically, queued ahead of any pending caller Send. Receiving
// a Close triggers the automatic close-handshake reply before the Close
// message is returned to the caller.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	if c.poisoned.Load() {
		return Message{}, ErrConnectionPoisoned
	}
	if c.peerClosed.Load() {
		if c.closing.Load() {
			return Message{}, ErrCloseSent
		}
		return Message{}, io.EOF
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	type result struct {
		msg Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		msg, err := c.receiveBlocking()
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		c.poisoned.Store(true)
		c.conn.Close()
		return Message{}, ErrConnectionPoisoned
	case r := <-done:
		if r.err != nil && !isExpectedCloseErr(r.err) {
			c.poisoned.Store(true)
		}
		return r.msg, r.err
	}
}

func isExpectedCloseErr(err error) bool {
	return err == io.EOF || err == ErrCloseSent
}

func (c *Client) receiveBlocking() (Message, error) {
	for {
		msg, err := c.dec.decode()
		if err == nil {
			return c.handleReceivedMessage(msg)
		}
		if err != errIncomplete {
			c.reportProtocolError(err)
			return Message{}, err
		}

		if err := c.fillMore(); err != nil {
			return Message{}, err
		}
	}
}

func (c *Client) fillMore() error {
	buf := c.rx.writable(4096)
	n, err := c.br.Read(buf)
	if n > 0 {
		c.rx.commit(n)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (c *Client) handleReceivedMessage(msg Message) (Message, error) {
	switch msg.Kind {
	case KindPing:
		c.log.ping(len(msg.Payload))
		c.queuePong(msg.Payload)
		return msg, nil
	case KindClose:
		c.log.closeReceived(msg.CloseCode)
		// Only echo a Close frame back when the peer spoke first; if we
		// are the one draining after our own Close, this is the peer's
		// reply and needs no further reply of its own.
		if !c.closing.Load() {
			c.replyClose(msg.CloseCode)
		}
		c.peerClosed.Store(true)
		return msg, nil
	default:
		return msg, nil
	}
}

// queuePong stages a Pong so the next Send call flushes it first; if no
// Send is pending it is written immediately.
func (c *Client) queuePong(payload []byte) {
	c.writeMu.Lock()
	cp := append([]byte(nil), payload...)
	// The payload mirrors an incoming Ping already bounded to 125 bytes by
	// parseFrameHeader, so encode cannot reject it on size.
	_ = c.enc.encode(KindPong, cp)
	c.writeMu.Unlock()

	// Flush in the background so Receive never waits on the peer reading
	// the Pong; a Send that takes writeMu first flushes it ahead of its own
	// frame.
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		c.flushLocked()
	}()
}

func (c *Client) replyClose(peerCode CloseCode) {
	code := peerCode
	if code == CloseNoStatusReceived {
		code = CloseNormal
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Always a fixed 2-byte code with no reason, well under the control
	// frame size limit.
	_ = c.enc.encode(KindClose, encodeClosePayload(code, ""))
	c.flushLocked()
}

// Send is the client driver's only write suspension point. If a Pong
// response to an inbound Ping is already queued it is flushed first, never
// splitting a frame already written to the stream.
func (c *Client) Send(ctx context.Context, kind MessageKind, payload []byte) error {
	if c.poisoned.Load() {
		return ErrConnectionPoisoned
	}

	if kind == KindText {
		var v utf8Validator
		if !v.feed(payload) || !v.finish() {
			return &ProtocolError{Code: CloseInvalidPayloadData, Msg: "outgoing text payload is not valid UTF-8"}
		}
	}
	if uint64(len(payload)) > c.maxLen {
		return &TooLargeError{Size: uint64(len(payload)), Limit: c.maxLen}
	}
	if kind.opcode().IsControl() && len(payload) > maxControlPayload {
		return &ProtocolError{Code: CloseProtocolError, Msg: "outgoing control frame payload exceeds 125 bytes"}
	}

	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := c.enc.encode(kind, payload); err != nil {
			done <- err
			return
		}
		done <- c.flushLocked()
	}()

	select {
	case <-ctx.Done():
		c.poisoned.Store(true)
		c.conn.Close()
		return ErrConnectionPoisoned
	case err := <-done:
		if err != nil {
			c.poisoned.Store(true)
		}
		return err
	}
}

// flushLocked writes tx's unread bytes to the connection. Callers must hold
// writeMu.
func (c *Client) flushLocked() error {
	buf := c.tx.unread()
	if len(buf) == 0 {
		return nil
	}
	n, err := c.conn.Write(buf)
	c.tx.advance(n)
	return err
}

func (c *Client) reportProtocolError(err error) {
	var pe *ProtocolError
	var tl *TooLargeError
	var ic *InvalidCloseCodeError
	var code CloseCode
	switch {
	case errors.As(err, &pe):
		code = pe.Code
	case errors.As(err, &tl):
		code = CloseMessageTooBig
	case errors.As(err, &ic):
		code = CloseProtocolError
	default:
		return
	}

	c.log.protocolError(err, code)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Always a fixed 2-byte code with no reason, well under the control
	// frame size limit.
	_ = c.enc.encode(KindClose, encodeClosePayload(code, ""))
	c.flushLocked()
}

// Close runs the caller-initiated close handshake: send a Close, then drain
// incoming frames until the peer's Close is observed.
func (c *Client) Close(ctx context.Context) error {
	if c.poisoned.Load() {
		return ErrConnectionPoisoned
	}
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	// Always a fixed 2-byte code with no reason, well under the control
	// frame size limit.
	_ = c.enc.encode(KindClose, encodeClosePayload(CloseNormal, ""))
	err := c.flushLocked()
	c.writeMu.Unlock()
	if err != nil {
		c.poisoned.Store(true)
		return err
	}

	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			if isExpectedCloseErr(err) {
				break
			}
			return err
		}
		if msg.Kind == KindClose {
			break
		}
	}

	return c.conn.Close()
}
