// ABOUTME: Berkeley client agent
// ABOUTME: Connects once to the coordinator, answers time requests, applies adjustments
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/protocol"
	"github.com/harperreed/berkeley-go/internal/transport"
)

var (
	// ErrTerminated is returned once an agent has finished serving
	ErrTerminated = errors.New("agent terminated")
	// ErrNotConnected is returned by Serve before a successful Connect
	ErrNotConnected = errors.New("agent not connected")
)

// State is the agent lifecycle stage
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateServing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateServing:
		return "serving"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Adjustment describes one applied time_adjustment
type Adjustment struct {
	Delta        float64
	Before       float64 // reported time just before applying
	After        float64 // reported time just after applying
	OffsetBefore float64
	OffsetAfter  float64
}

// Config holds agent configuration
type Config struct {
	// ServerAddr is the coordinator host:port
	ServerAddr string

	// Path is the coordinator's WebSocket path; transport.Path when empty
	Path string

	// ID is the display name; generated as Client-NNNN when empty
	ID string

	// Codec is "json" (default) or "cbor"
	Codec string

	// Clock is used as-is when set. Otherwise a clock with a random
	// initial offset is created on successful Connect.
	Clock *clock.State

	// Source backs the generated clock (system time when nil)
	Source clock.TimeSource

	Debug bool

	// OnRequest is called after a time_response has been sent
	OnRequest func(reported float64)

	// OnAdjustment is called after a time_adjustment has been applied
	OnAdjustment func(Adjustment)
}

// Agent is a single-use client: Disconnected -> Connected -> Serving -> Terminated
type Agent struct {
	config Config
	id     string

	mu       sync.Mutex
	state    State
	conn     *transport.Conn
	clock    *clock.State
	stopping bool
}

// GenerateID returns a display id of the form Client-NNNN
func GenerateID() string {
	return fmt.Sprintf("Client-%d", 1000+rand.Intn(9000))
}

// New creates an agent. It does not connect.
func New(config Config) *Agent {
	id := config.ID
	if id == "" {
		id = GenerateID()
	}
	return &Agent{
		config: config,
		id:     id,
		state:  StateDisconnected,
		clock:  config.Clock,
	}
}

// ID returns the agent's display id
func (a *Agent) ID() string {
	return a.id
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Clock returns the agent's clock, or nil before the first Connect
func (a *Agent) Clock() *clock.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock
}

// Connect opens the single connection to the coordinator. A failure
// leaves the agent disconnected so the caller may decide what to do.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateTerminated:
		a.mu.Unlock()
		return ErrTerminated
	case StateConnected, StateServing:
		a.mu.Unlock()
		return fmt.Errorf("agent already connected")
	}
	a.mu.Unlock()

	conn, err := transport.DialPath(ctx, a.config.ServerAddr, a.config.Path, a.config.Codec)
	if err != nil {
		return fmt.Errorf("connect to coordinator: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopping {
		conn.Close()
		a.state = StateTerminated
		return ErrTerminated
	}

	a.conn = conn
	if a.clock == nil {
		a.clock = clock.NewRandomState(a.config.Source)
	}
	a.state = StateConnected

	log.Printf("[%s] Connected to %s (codec %s)", a.id, a.config.ServerAddr, conn.Codec().Name())
	log.Printf("[%s] Initial offset: %+.2fs", a.id, a.clock.Offset())
	return nil
}

// Serve handles coordinator messages until the connection ends or
// Stop is called. It returns nil after Stop or a clean EOF, and the
// underlying error otherwise. The agent is terminal afterwards.
func (a *Agent) Serve() error {
	a.mu.Lock()
	switch a.state {
	case StateTerminated:
		a.mu.Unlock()
		return ErrTerminated
	case StateDisconnected:
		a.mu.Unlock()
		return ErrNotConnected
	case StateServing:
		a.mu.Unlock()
		return fmt.Errorf("agent already serving")
	}
	a.state = StateServing
	conn := a.conn
	a.mu.Unlock()

	err := a.serveLoop(conn)

	a.mu.Lock()
	stopped := a.stopping
	a.state = StateTerminated
	a.mu.Unlock()
	conn.Close()

	if stopped {
		log.Printf("[%s] Stopped", a.id)
		return nil
	}
	log.Printf("[%s] Disconnected: %v", a.id, err)
	return err
}

func (a *Agent) serveLoop(conn *transport.Conn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrUnknownType):
				if a.config.Debug {
					log.Printf("[DEBUG] [%s] Ignoring message type %q", a.id, msg.Type)
				}
				continue
			case errors.Is(err, protocol.ErrMissingField), errors.Is(err, protocol.ErrInvalidField):
				log.Printf("[%s] Discarding message: %v", a.id, err)
				continue
			default:
				return err
			}
		}

		if err := a.handleMessage(conn, msg); err != nil {
			return err
		}
	}
}

func (a *Agent) handleMessage(conn *transport.Conn, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeTimeRequest:
		now := a.clock.Now()
		if err := conn.Send(protocol.TimeResponse(now, a.id)); err != nil {
			return fmt.Errorf("send time_response: %w", err)
		}
		if a.config.Debug {
			log.Printf("[DEBUG] [%s] Reported time %.6f (offset %+.2fs)", a.id, now, a.clock.Offset())
		}
		if a.config.OnRequest != nil {
			a.config.OnRequest(now)
		}

	case protocol.TypeTimeAdjustment:
		delta := msg.AdjustmentValue()
		adj := Adjustment{
			Delta:        delta,
			Before:       a.clock.Now(),
			OffsetBefore: a.clock.Offset(),
		}
		adj.OffsetAfter = a.clock.Adjust(delta)
		adj.After = a.clock.Now()

		log.Printf("[%s] Applied adjustment %+.3fs, offset %+.3fs -> %+.3fs",
			a.id, delta, adj.OffsetBefore, adj.OffsetAfter)
		if a.config.OnAdjustment != nil {
			a.config.OnAdjustment(adj)
		}

	default:
		// time_response is coordinator-bound; receiving one here is a no-op
		if a.config.Debug {
			log.Printf("[DEBUG] [%s] Ignoring %s", a.id, msg.Type)
		}
	}
	return nil
}

// Stop cancels the agent: a blocked Serve returns and the socket closes
func (a *Agent) Stop() {
	a.mu.Lock()
	a.stopping = true
	conn := a.conn
	if a.state != StateServing {
		a.state = StateTerminated
	}
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Run connects and serves until ctx is cancelled or the connection ends
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-done:
		}
	}()

	return a.Serve()
}
