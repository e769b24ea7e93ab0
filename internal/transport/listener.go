// ABOUTME: WebSocket listener handing accepted connections to an accept loop
// ABOUTME: Wraps net.Listener and http.Server with a gorilla upgrader
package transport

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harperreed/berkeley-go/internal/protocol"
)

// ErrListenerClosed is returned by Accept after Close
var ErrListenerClosed = errors.New("listener closed")

// Listener accepts Berkeley WebSocket connections
type Listener struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns chan *Conn

	closeOnce sync.Once
	done      chan struct{}
	serveErr  chan error
}

// Listen binds addr (e.g. "localhost:5000", or ":0" for a random port)
// and starts serving upgrades
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxMessageSize,
			WriteBufferSize: protocol.MaxMessageSize,
			Subprotocols:    protocol.Subprotocols(),
			CheckOrigin: func(r *http.Request) bool {
				// Nodes are not browsers; no origin policy applies
				return true
			},
		},
		conns:    make(chan *Conn),
		done:     make(chan struct{}),
		serveErr: make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.serveErr <- err
		}
	}()

	return l, nil
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error from %s: %v", r.RemoteAddr, err)
		return
	}

	conn, err := newConn(ws)
	if err != nil {
		log.Printf("Rejecting connection from %s: %v", r.RemoteAddr, err)
		ws.Close()
		return
	}

	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept waits for the next upgraded connection
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case err := <-l.serveErr:
		return nil, err
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting. Connections already handed out stay open.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}
