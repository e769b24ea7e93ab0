// ABOUTME: Berkeley coordinator server
// ABOUTME: Accepts clients, keeps their sockets drained, and schedules synchronization rounds
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/discovery"
	"github.com/harperreed/berkeley-go/internal/transport"
)

// Defaults for Config fields left zero
const (
	DefaultAddr            = "localhost:5000"
	DefaultName            = "Coordinator"
	DefaultGracePeriod     = 5 * time.Second
	DefaultRoundInterval   = 20 * time.Second
	DefaultRetryInterval   = 5 * time.Second
	DefaultResponseTimeout = 5 * time.Second
)

// Config holds coordinator configuration
type Config struct {
	Addr string // host:port to listen on
	Name string // display and mDNS instance name

	GracePeriod     time.Duration // wait before the first round
	RoundInterval   time.Duration // wait after a round
	RetryInterval   time.Duration // wait when no client is connected
	ResponseTimeout time.Duration // per-peer bound in each round

	// MaxSkew in seconds; 0 accepts any finite reported time
	MaxSkew float64

	EnableMDNS bool
	Debug      bool

	// Clock is used as-is when set; otherwise one with a random offset
	// is created from Source
	Clock  *clock.State
	Source clock.TimeSource

	// OnRound is called after every round
	OnRound func(Summary)
	// OnClientsChanged is called whenever a client joins or leaves
	OnClientsChanged func([]PeerInfo)
}

// Server is the Berkeley coordinator
type Server struct {
	config   Config
	clock    *clock.State
	registry *Registry
	round    *Round

	listener    *transport.Listener
	mdnsManager *discovery.Manager

	ready     chan struct{}
	readyOnce sync.Once

	stopChan chan struct{}
	stopOnce sync.Once
	readers  sync.WaitGroup

	mu        sync.Mutex
	lastRound *Summary
	rounds    int
}

// New validates config, fills defaults, and creates a server. It does
// not bind until Start.
func New(config Config) (*Server, error) {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.GracePeriod == 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	if config.RoundInterval == 0 {
		config.RoundInterval = DefaultRoundInterval
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}

	switch {
	case config.GracePeriod < 0, config.RoundInterval < 0, config.RetryInterval < 0, config.ResponseTimeout < 0:
		return nil, fmt.Errorf("durations must be positive")
	case config.MaxSkew < 0:
		return nil, fmt.Errorf("max skew must not be negative, got %v", config.MaxSkew)
	}
	if _, _, err := net.SplitHostPort(config.Addr); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", config.Addr, err)
	}

	cs := config.Clock
	if cs == nil {
		cs = clock.NewRandomState(config.Source)
	}

	s := &Server{
		config:   config,
		clock:    cs,
		registry: NewRegistry(),
		ready:    make(chan struct{}),
		stopChan: make(chan struct{}),
	}
	s.round = &Round{
		Registry: s.registry,
		Clock:    cs,
		Timeout:  config.ResponseTimeout,
		MaxSkew:  config.MaxSkew,
		Debug:    config.Debug,
	}
	s.registry.onChange = func() {
		if s.config.OnClientsChanged != nil {
			s.config.OnClientsChanged(s.registry.Infos())
		}
	}
	return s, nil
}

// Start binds the listen address and runs the accept and scheduling
// loops until ctx is cancelled or Stop is called. A bind failure is
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	l, err := transport.Listen(s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	log.Printf("Coordinator starting: %s on %s", s.config.Name, l.Addr())
	log.Printf("Initial offset: %+.2fs", s.clock.Offset())

	if s.config.EnableMDNS {
		s.startMDNS(l.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopChan:
			cancel()
		}
		l.Close()
		return nil
	})
	g.Go(func() error { return s.acceptLoop(gctx, l) })
	g.Go(func() error { return s.scheduleLoop(gctx) })

	err = g.Wait()

	log.Printf("Coordinator shutting down")
	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}
	s.registry.CloseAll()
	s.readers.Wait()
	return err
}

// Stop shuts the server down; Start returns once connections are closed
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Start has bound
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Name returns the configured display name
func (s *Server) Name() string {
	return s.config.Name
}

// Clock returns the coordinator's clock
func (s *Server) Clock() *clock.State {
	return s.clock
}

// Clients describes the currently registered peers
func (s *Server) Clients() []PeerInfo {
	return s.registry.Infos()
}

// LastRound returns the most recent summary and the number of rounds run
func (s *Server) LastRound() (*Summary, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRound, s.rounds
}

// RunRound runs one round now, regardless of the schedule
func (s *Server) RunRound(ctx context.Context) Summary {
	summary := s.round.Run(ctx)

	s.mu.Lock()
	s.lastRound = &summary
	s.rounds++
	s.mu.Unlock()

	if s.config.OnRound != nil {
		s.config.OnRound(summary)
	}
	return summary
}

func (s *Server) acceptLoop(ctx context.Context, l *transport.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Sends to a peer are bounded like its replies
		conn.SetWriteTimeout(s.config.ResponseTimeout)
		peer := newPeer(conn)
		n := s.registry.Register(peer)
		log.Printf("Client connected from %s (codec %s, %d connected)", peer.Addr(), conn.Codec().Name(), n)

		s.readers.Add(1)
		go s.handlePeer(peer)
	}
}

// handlePeer drains the peer's socket for as long as it lives
func (s *Server) handlePeer(peer *Peer) {
	defer s.readers.Done()

	err := peer.readLoop(s.config.Debug)
	if s.registry.Unregister(peer) {
		log.Printf("Client %s disconnected: %v (%d connected)", peer.Addr(), err, s.registry.Len())
	}
}

func (s *Server) scheduleLoop(ctx context.Context) error {
	log.Printf("Waiting %s for clients to join", s.config.GracePeriod)
	if !sleep(ctx, s.config.GracePeriod) {
		return nil
	}

	for {
		wait := s.config.RetryInterval
		if s.registry.Len() > 0 {
			s.RunRound(ctx)
			wait = s.config.RoundInterval
		} else if s.config.Debug {
			log.Printf("[DEBUG] No clients connected, retrying in %s", wait)
		}

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (s *Server) startMDNS(addr net.Addr) {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	ips := advertiseIPs(addr)
	if len(ips) == 1 && ips[0].IsLoopback() {
		log.Printf("Listening on loopback; the mDNS record only reaches this host")
	}

	s.mdnsManager = discovery.NewManager(discovery.Config{
		Instance: s.config.Name,
		Port:     port,
		IPs:      ips,
	})
	if err := s.mdnsManager.Advertise(); err != nil {
		log.Printf("Failed to start mDNS advertisement: %v", err)
		s.mdnsManager = nil
		return
	}
	log.Printf("mDNS advertisement started")
}

// advertiseIPs returns the address clients can reach the listener on,
// or nil when it is bound to every interface
func advertiseIPs(addr net.Addr) []net.IP {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp.IP == nil || tcp.IP.IsUnspecified() {
		return nil
	}
	return []net.IP{tcp.IP}
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
