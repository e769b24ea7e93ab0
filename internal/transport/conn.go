// ABOUTME: WebSocket connection carrying Berkeley messages
// ABOUTME: One message per frame, codec chosen by subprotocol negotiation
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harperreed/berkeley-go/internal/protocol"
)

// Path is the HTTP path the coordinator upgrades on
const Path = "/berkeley"

// DefaultWriteTimeout bounds each frame write unless SetWriteTimeout
// says otherwise
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned by Send on a connection that was closed locally
var ErrClosed = errors.New("connection closed")

// Conn is a message-oriented connection. Receive must only be called
// from one goroutine; Send is safe for concurrent use.
type Conn struct {
	ws    *websocket.Conn
	codec protocol.Codec

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) (*Conn, error) {
	codec, err := protocol.CodecByName(ws.Subprotocol())
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(protocol.MaxMessageSize)
	return &Conn{
		ws:           ws,
		codec:        codec,
		writeTimeout: DefaultWriteTimeout,
		closed:       make(chan struct{}),
	}, nil
}

// Dial connects to a coordinator at addr (host:port) asking for the
// named codec
func Dial(ctx context.Context, addr string, codecName string) (*Conn, error) {
	return DialPath(ctx, addr, Path, codecName)
}

// DialPath is Dial against an explicit HTTP path, such as one learned
// from discovery. An empty path means Path.
func DialPath(ctx context.Context, addr, path, codecName string) (*Conn, error) {
	codec, err := protocol.CodecByName(codecName)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = Path
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{codec.Name()},
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c, err := newConn(ws)
	if err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

// Codec returns the negotiated codec
func (c *Conn) Codec() protocol.Codec {
	return c.codec
}

// RemoteAddr returns the peer address as a string
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// SetWriteTimeout changes how long a single Send may block on a slow
// peer. Non-positive values restore DefaultWriteTimeout.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	c.writeMu.Lock()
	c.writeTimeout = d
	c.writeMu.Unlock()
}

// WriteTimeout returns the current per-Send write bound
func (c *Conn) WriteTimeout() time.Duration {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeTimeout
}

// Send encodes msg and writes it as a single frame
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(c.codec, msg)
	if err != nil {
		return err
	}

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(frameType, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Receive blocks for the next frame and decodes it. A protocol error
// (see protocol.Decode) comes back with the connection still usable
// unless protocol.IsConnectionError says otherwise; any other error
// means the connection is gone.
func (c *Conn) Receive() (protocol.Message, error) {
	for {
		frameType, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return protocol.Message{}, fmt.Errorf("%w: %v", protocol.ErrTooLarge, err)
			}
			return protocol.Message{}, err
		}
		if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
			continue
		}
		return protocol.Decode(c.codec, data)
	}
}

// Close closes the underlying socket. Safe to call more than once;
// a blocked Receive returns with an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has been called
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
