// ABOUTME: One Berkeley synchronization round
// ABOUTME: Capture, fan out, average, adjust the coordinator, then distribute adjustments
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/protocol"
)

// ErrOutOfBounds means a reported time was too far from the coordinator's
var ErrOutOfBounds = errors.New("reported time out of bounds")

// SyncTolerance is the post-round skew considered synchronized
const SyncTolerance = 1.0

// ClientResult is one responding client's part in a round
type ClientResult struct {
	PeerID   string
	ClientID string
	Addr     string

	Reported   float64 // time the client reported in its response
	Difference float64 // Reported - average
	Adjustment float64 // average - Reported
	Projected  float64 // Reported + Adjustment

	// DeliveryErr is set when the time_adjustment could not be sent
	DeliveryErr error
}

// Exclusion records a snapshot peer that did not contribute to the average
type Exclusion struct {
	PeerID string
	Addr   string
	Reason error
}

// Summary is everything a presentation layer needs about one round
type Summary struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	CoordinatorBefore     float64
	CoordinatorAfter      float64
	CoordinatorAdjustment float64
	CoordinatorOffset     float64 // offset after the adjustment

	Average   float64
	Expected  int // peers in the snapshot
	Responded int

	Clients  []ClientResult
	Excluded []Exclusion
}

// MaxSkew is the largest distance from the average among the nodes
// whose adjustment was applied or delivered, measured at the instants
// their times were captured
func (s Summary) MaxSkew() float64 {
	skew := math.Abs(s.CoordinatorBefore + s.CoordinatorAdjustment - s.Average)
	for _, c := range s.Clients {
		if c.DeliveryErr != nil {
			continue
		}
		skew = math.Max(skew, math.Abs(c.Projected-s.Average))
	}
	return skew
}

// Synchronized reports whether MaxSkew is under SyncTolerance
func (s Summary) Synchronized() bool {
	return s.MaxSkew() < SyncTolerance
}

// Delivered counts clients whose adjustment was sent
func (s Summary) Delivered() int {
	n := 0
	for _, c := range s.Clients {
		if c.DeliveryErr == nil {
			n++
		}
	}
	return n
}

// Round runs synchronization rounds against a registry
type Round struct {
	Registry *Registry
	Clock    *clock.State

	// Timeout bounds each peer's response individually
	Timeout time.Duration

	// MaxSkew, when positive, excludes reported times further than this
	// many seconds from the coordinator's
	MaxSkew float64

	Debug bool

	// serializes rounds; the coordinator clock is adjusted by one round at a time
	mu sync.Mutex
}

type fanoutResult struct {
	peer     *Peer
	reported float64
	clientID string
	err      error
}

// Run executes one round over a snapshot of the registry. Missing or
// late peers are excluded, never fatal.
func (r *Round) Run(ctx context.Context) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	// Phase 1: one baseline for the whole round
	coordTime := r.Clock.Now()
	summary.CoordinatorBefore = coordTime

	peers := r.Registry.Snapshot()
	summary.Expected = len(peers)

	log.Printf("Round %s: polling %d client(s)", shortID(summary.ID), len(peers))

	// Phase 2
	results := r.fanOut(ctx, peers, coordTime)

	// Phase 3
	sum := coordTime
	count := 1
	var responders []fanoutResult
	for _, res := range results {
		if res.err != nil {
			summary.Excluded = append(summary.Excluded, Exclusion{
				PeerID: res.peer.ID(),
				Addr:   res.peer.Addr(),
				Reason: res.err,
			})
			log.Printf("Round %s: excluding %s: %v", shortID(summary.ID), res.peer.Addr(), res.err)
			if isSendError(res.err) {
				r.Registry.Unregister(res.peer)
			}
			continue
		}
		responders = append(responders, res)
		sum += res.reported
		count++
	}
	average := sum / float64(count)
	summary.Average = average
	summary.Responded = len(responders)

	// Phase 4
	summary.CoordinatorAdjustment = average - coordTime
	summary.CoordinatorOffset = r.Clock.Adjust(summary.CoordinatorAdjustment)
	summary.CoordinatorAfter = r.Clock.Now()

	if r.Debug {
		log.Printf("[DEBUG] Round %s: average %.6f over %d clock(s), coordinator %+.3fs",
			shortID(summary.ID), average, count, summary.CoordinatorAdjustment)
	}

	// Phase 5
	summary.Clients = r.distribute(summary.ID, average, responders)

	summary.Duration = time.Since(summary.StartedAt)
	log.Printf("Round %s: %d/%d responded, coordinator adjusted %+.3fs, max skew %.6fs",
		shortID(summary.ID), summary.Responded, summary.Expected, summary.CoordinatorAdjustment, summary.MaxSkew())

	return summary
}

// fanOut polls every peer concurrently and waits for all of them.
// Results keep snapshot order.
func (r *Round) fanOut(ctx context.Context, peers []*Peer, coordTime float64) []fanoutResult {
	results := make([]fanoutResult, len(peers))

	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p *Peer) {
			defer wg.Done()
			results[i] = r.poll(ctx, p, coordTime)
		}(i, p)
	}
	wg.Wait()

	return results
}

// distribute sends every responder its adjustment concurrently, so a
// stalled socket delays only its own delivery. Results keep responder
// order.
func (r *Round) distribute(roundID string, average float64, responders []fanoutResult) []ClientResult {
	results := make([]ClientResult, len(responders))

	var wg sync.WaitGroup
	for i, res := range responders {
		results[i] = ClientResult{
			PeerID:     res.peer.ID(),
			ClientID:   res.clientID,
			Addr:       res.peer.Addr(),
			Reported:   res.reported,
			Difference: res.reported - average,
			Adjustment: average - res.reported,
		}
		results[i].Projected = results[i].Reported + results[i].Adjustment

		wg.Add(1)
		go func(result *ClientResult, p *Peer) {
			defer wg.Done()

			if err := p.sendAdjustment(result.Adjustment); err != nil {
				result.DeliveryErr = err
				log.Printf("Round %s: failed to send adjustment to %s: %v", shortID(roundID), result.ClientID, err)
				r.Registry.Unregister(p)
			} else if r.Debug {
				log.Printf("[DEBUG] Round %s: sent %+.3fs to %s", shortID(roundID), result.Adjustment, result.ClientID)
			}
		}(&results[i], res.peer)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil
	}
	return results
}

func (r *Round) poll(ctx context.Context, p *Peer, coordTime float64) fanoutResult {
	res := fanoutResult{peer: p}

	msg, err := p.requestTime(ctx, r.Timeout)
	if err != nil {
		res.err = err
		return res
	}

	res.reported = msg.ReportedTime()
	res.clientID = msg.ClientID
	if res.clientID == "" {
		res.clientID = protocol.UnknownClientID
	}

	if err := r.checkBounds(res.reported, coordTime); err != nil {
		res.err = err
	}
	return res
}

func (r *Round) checkBounds(reported, coordTime float64) error {
	if math.IsNaN(reported) || math.IsInf(reported, 0) {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidField, reported)
	}
	if r.MaxSkew > 0 {
		if d := math.Abs(reported - coordTime); d > r.MaxSkew {
			return fmt.Errorf("%w: %.3fs from coordinator (limit %.3fs)", ErrOutOfBounds, d, r.MaxSkew)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
