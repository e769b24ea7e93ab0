// ABOUTME: Coordinator and Client wrappers over the internal packages
// ABOUTME: Runs the coordinator in the background and exposes round summaries
package berkeley

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harperreed/berkeley-go/internal/agent"
	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/coordinator"
)

type (
	// Clock is a time source plus a signed offset in seconds
	Clock = clock.State
	// TimeSource supplies real time; swap it out in tests
	TimeSource = clock.TimeSource

	Summary      = coordinator.Summary
	ClientResult = coordinator.ClientResult
	PeerInfo     = coordinator.PeerInfo
	Adjustment   = agent.Adjustment
)

// NewClock creates a clock with the given offset. A nil source uses system time.
func NewClock(source TimeSource, offset float64) *Clock {
	return clock.NewState(source, offset)
}

// CoordinatorConfig holds coordinator settings. Zero values take the
// package defaults (localhost:5000, 5s grace, 20s rounds, 5s timeout).
type CoordinatorConfig struct {
	Addr            string
	Name            string
	GracePeriod     time.Duration
	RoundInterval   time.Duration
	ResponseTimeout time.Duration
	MaxSkew         float64
	EnableMDNS      bool

	// Clock defaults to system time with a random offset
	Clock *Clock

	OnRound func(Summary)
}

// Coordinator runs a coordinator server in the background
type Coordinator struct {
	server *coordinator.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	started bool
}

// NewCoordinator creates a coordinator
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	server, err := coordinator.New(coordinator.Config{
		Addr:            config.Addr,
		Name:            config.Name,
		GracePeriod:     config.GracePeriod,
		RoundInterval:   config.RoundInterval,
		ResponseTimeout: config.ResponseTimeout,
		MaxSkew:         config.MaxSkew,
		EnableMDNS:      config.EnableMDNS,
		Clock:           config.Clock,
		OnRound:         config.OnRound,
	})
	if err != nil {
		return nil, err
	}
	return &Coordinator{server: server}, nil
}

// Start binds and begins scheduling rounds. It returns once the
// listener is up, or with the bind error.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan error, 1)
	c.mu.Unlock()

	go func() { c.done <- c.server.Start(ctx) }()

	select {
	case <-c.server.Ready():
		return nil
	case err := <-c.done:
		cancel()
		c.mu.Lock()
		c.cancel, c.done, c.started = nil, nil, false
		c.mu.Unlock()
		return err
	}
}

// Stop shuts down and waits for every connection to close
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

// Addr returns the bound address, empty before Start
func (c *Coordinator) Addr() string {
	addr := c.server.Addr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// SyncNow runs a round immediately
func (c *Coordinator) SyncNow(ctx context.Context) Summary {
	return c.server.RunRound(ctx)
}

// Clients lists connected clients
func (c *Coordinator) Clients() []PeerInfo {
	return c.server.Clients()
}

// Clock returns the coordinator's clock
func (c *Coordinator) Clock() *Clock {
	return c.server.Clock()
}

// ClientConfig holds client settings
type ClientConfig struct {
	ServerAddr string
	ID         string // Client-NNNN when empty
	Codec      string // "json" (default) or "cbor"

	// Clock defaults to system time with a random offset
	Clock *Clock

	OnAdjustment func(Adjustment)
}

// Client is a single-use Berkeley client
type Client struct {
	agent *agent.Agent
}

// NewClient creates a client; nothing is dialed until Run
func NewClient(config ClientConfig) *Client {
	return &Client{
		agent: agent.New(agent.Config{
			ServerAddr:   config.ServerAddr,
			ID:           config.ID,
			Codec:        config.Codec,
			Clock:        config.Clock,
			OnAdjustment: config.OnAdjustment,
		}),
	}
}

// Run connects and serves until ctx is done or the coordinator goes away
func (c *Client) Run(ctx context.Context) error {
	return c.agent.Run(ctx)
}

// Stop disconnects
func (c *Client) Stop() {
	c.agent.Stop()
}

// ID returns the client's display id
func (c *Client) ID() string {
	return c.agent.ID()
}

// Clock returns the client's clock, nil until connected unless one was given
func (c *Client) Clock() *Clock {
	return c.agent.Clock()
}
