// ABOUTME: Coordinator-side view of one connected client
// ABOUTME: Owns the connection reader and pairs each time_request with its reply
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/berkeley-go/internal/protocol"
)

var (
	// ErrTimeout means a peer did not answer within its bound
	ErrTimeout = errors.New("no response within timeout")
	// ErrPeerClosed means the peer's connection ended while waiting
	ErrPeerClosed = errors.New("peer connection closed")
	// ErrRequestInFlight means a request to this peer is already pending
	ErrRequestInFlight = errors.New("request already in flight")
)

// peerConn is the part of a transport connection a peer uses
type peerConn interface {
	Send(protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
	Done() <-chan struct{}
	Codec() protocol.Codec
	RemoteAddr() string
}

// Peer is one registered client connection. Responses are matched to
// requests by connection, so at most one request may be outstanding.
type Peer struct {
	id       string
	conn     peerConn
	addr     string
	joinedAt time.Time

	mu       sync.Mutex
	pending  chan protocol.Message
	lastID   string
	readDone chan struct{}
}

// PeerInfo is a read-only description of a peer for presentation
type PeerInfo struct {
	ID       string
	ClientID string
	Addr     string
	Codec    string
	JoinedAt time.Time
}

func newPeer(conn peerConn) *Peer {
	return &Peer{
		id:       uuid.New().String(),
		conn:     conn,
		addr:     conn.RemoteAddr(),
		joinedAt: time.Now(),
		readDone: make(chan struct{}),
	}
}

// ID returns the coordinator-local peer id
func (p *Peer) ID() string { return p.id }

// Addr returns the peer's remote address
func (p *Peer) Addr() string { return p.addr }

// Info returns a snapshot of the peer's descriptive fields
func (p *Peer) Info() PeerInfo {
	p.mu.Lock()
	clientID := p.lastID
	p.mu.Unlock()

	return PeerInfo{
		ID:       p.id,
		ClientID: clientID,
		Addr:     p.addr,
		Codec:    p.conn.Codec().Name(),
		JoinedAt: p.joinedAt,
	}
}

// readLoop drains the connection until it fails. A time_response is
// handed to the pending request, if any; anything else is dropped.
// The returned error is why the loop ended.
func (p *Peer) readLoop(debug bool) error {
	defer close(p.readDone)

	for {
		msg, err := p.conn.Receive()
		if err != nil {
			if protocol.IsConnectionError(err) {
				return err
			}
			if errors.Is(err, protocol.ErrUnknownType) {
				if debug {
					log.Printf("[DEBUG] Ignoring %q from %s", msg.Type, p.addr)
				}
				continue
			}
			if errors.Is(err, protocol.ErrMissingField) || errors.Is(err, protocol.ErrInvalidField) {
				log.Printf("Discarding message from %s: %v", p.addr, err)
				continue
			}
			return err
		}

		if msg.Type != protocol.TypeTimeResponse {
			if debug {
				log.Printf("[DEBUG] Ignoring unsolicited %s from %s", msg.Type, p.addr)
			}
			continue
		}

		p.mu.Lock()
		p.lastID = msg.ClientID
		ch := p.pending
		p.pending = nil
		p.mu.Unlock()

		if ch == nil {
			if debug {
				log.Printf("[DEBUG] Discarding unsolicited time_response from %s", p.addr)
			}
			continue
		}
		ch <- msg
	}
}

// requestTime sends a time_request and waits for this peer's reply,
// at most timeout. Send failures are wrapped so callers can tell them
// apart from a silent peer.
func (p *Peer) requestTime(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	reply := make(chan protocol.Message, 1)

	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return protocol.Message{}, ErrRequestInFlight
	}
	p.pending = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == reply {
			p.pending = nil
		}
		p.mu.Unlock()
	}()

	if err := p.conn.Send(protocol.TimeRequest()); err != nil {
		return protocol.Message{}, &sendError{err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		return msg, nil
	case <-timer.C:
		return protocol.Message{}, fmt.Errorf("%w (%s)", ErrTimeout, timeout)
	case <-p.readDone:
		// The reader may have delivered just before exiting
		select {
		case msg := <-reply:
			return msg, nil
		default:
		}
		return protocol.Message{}, ErrPeerClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// sendAdjustment delivers a time_adjustment
func (p *Peer) sendAdjustment(adjustment float64) error {
	if err := p.conn.Send(protocol.TimeAdjustment(adjustment)); err != nil {
		return &sendError{err: err}
	}
	return nil
}

func (p *Peer) close() error {
	return p.conn.Close()
}

// sendError marks a failed write, which means the connection is dead
type sendError struct {
	err error
}

func (e *sendError) Error() string { return "send failed: " + e.err.Error() }
func (e *sendError) Unwrap() error { return e.err }

func isSendError(err error) bool {
	var se *sendError
	return errors.As(err, &se)
}
