// ABOUTME: Tests for the coordinator-side peer
// ABOUTME: Covers request pairing and how the reader treats each kind of incoming frame
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/berkeley-go/internal/protocol"
	"github.com/harperreed/berkeley-go/internal/transport"
)

// newTestPeer returns a coordinator-side peer and the client end of its
// connection. No reader runs on the peer.
func newTestPeer(t *testing.T) (*Peer, *transport.Conn) {
	t.Helper()

	l, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan *transport.Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := transport.Dial(ctx, l.Addr().String(), "json")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() { server.Close() })

	return newPeer(server), client
}

type frame struct {
	msg protocol.Message
	err error
}

// fakeConn is an in-memory peer connection. Frames queued on incoming
// come out of Receive; answer, when set, queues a reply to every
// time_request; hold, when set, blocks time_adjustment sends until it
// is closed.
type fakeConn struct {
	incoming chan frame
	answer   func() frame
	hold     chan struct{}

	mu   sync.Mutex
	sent []protocol.Message

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan frame, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeConn) Send(msg protocol.Message) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	default:
	}

	if msg.Type == protocol.TypeTimeAdjustment && f.hold != nil {
		select {
		case <-f.hold:
		case <-f.done:
			return transport.ErrClosed
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if msg.Type == protocol.TypeTimeRequest && f.answer != nil {
		f.incoming <- f.answer()
	}
	return nil
}

func (f *fakeConn) Receive() (protocol.Message, error) {
	select {
	case fr := <-f.incoming:
		return fr.msg, fr.err
	case <-f.done:
		return protocol.Message{}, io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }
func (f *fakeConn) Codec() protocol.Codec { return protocol.JSONCodec{} }
func (f *fakeConn) RemoteAddr() string    { return "fake:0" }

func (f *fakeConn) adjustments() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []float64
	for _, m := range f.sent {
		if m.Type == protocol.TypeTimeAdjustment {
			out = append(out, m.AdjustmentValue())
		}
	}
	return out
}

func TestRequestInFlight(t *testing.T) {
	p, client := newTestPeer(t)
	go p.readLoop(false)

	first := make(chan error, 1)
	go func() {
		_, err := p.requestTime(context.Background(), time.Second)
		first <- err
	}()

	// Wait until the first request is on the wire
	msg, err := client.Receive()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeTimeRequest, msg.Type)

	_, err = p.requestTime(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrRequestInFlight)

	require.NoError(t, client.Send(protocol.TimeResponse(12, "Client-1")))
	assert.NoError(t, <-first)
	assert.Equal(t, "Client-1", p.Info().ClientID)
}


func TestReadLoopSkipsProtocolErrors(t *testing.T) {
	conn := newFakeConn()
	p := newPeer(conn)

	readErr := make(chan error, 1)
	go func() { readErr <- p.readLoop(false) }()

	conn.incoming <- frame{err: fmt.Errorf("%w: %q", protocol.ErrUnknownType, "status")}
	conn.incoming <- frame{err: fmt.Errorf("%w: time", protocol.ErrMissingField)}
	conn.incoming <- frame{msg: protocol.TimeRequest()}
	conn.incoming <- frame{msg: protocol.TimeResponse(3, "Client-7")}

	// The reply arrived with nothing pending, so it is dropped
	require.Eventually(t, func() bool { return p.Info().ClientID == "Client-7" }, 2*time.Second, 5*time.Millisecond)
	_, err := p.requestTime(context.Background(), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	conn.incoming <- frame{err: fmt.Errorf("%w: bad json", protocol.ErrMalformed)}
	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, protocol.ErrMalformed)
	case <-time.After(2 * time.Second):
		t.Fatal("reader kept going after an undecodable frame")
	}

	_, err = p.requestTime(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrPeerClosed)
}
