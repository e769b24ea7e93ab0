// ABOUTME: Tests for synchronization round internals
// ABOUTME: Covers send failures, bounds checks, concurrent delivery, and summary math
package coordinator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/protocol"
	"github.com/harperreed/berkeley-go/internal/transport"
)

func TestRoundSendFailureUnregisters(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestPeer(t)
	r.Register(p)

	// Closed locally, so the request cannot be written
	p.conn.Close()

	round := &Round{
		Registry: r,
		Clock:    clock.NewState(clock.NewManualSource(epoch), 2),
		Timeout:  time.Second,
	}
	summary := round.Run(context.Background())

	require.Len(t, summary.Excluded, 1)
	assert.ErrorIs(t, summary.Excluded[0].Reason, transport.ErrClosed)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0.0, summary.CoordinatorAdjustment)
}

func TestRoundRejectsNonFiniteTime(t *testing.T) {
	round := &Round{}
	assert.ErrorIs(t, round.checkBounds(math.NaN(), 0), protocol.ErrInvalidField)
	assert.ErrorIs(t, round.checkBounds(math.Inf(1), 0), protocol.ErrInvalidField)
	assert.NoError(t, round.checkBounds(-1e12, 0), "no skew limit by default")

	round.MaxSkew = 10
	assert.NoError(t, round.checkBounds(105, 100))
	assert.ErrorIs(t, round.checkBounds(111, 100), ErrOutOfBounds)
}

func TestSummaryMaxSkew(t *testing.T) {
	s := Summary{
		CoordinatorBefore:     100,
		CoordinatorAdjustment: 2,
		Average:               102,
		Clients: []ClientResult{
			{Reported: 99, Adjustment: 3, Projected: 102},
			{Reported: 110, Adjustment: -8, Projected: 102.4},
			{Reported: 50, Adjustment: 52, Projected: 140, DeliveryErr: transport.ErrClosed},
		},
	}

	assert.InDelta(t, 0.4, s.MaxSkew(), 1e-9)
	assert.True(t, s.Synchronized())
	assert.Equal(t, 2, s.Delivered())

	s.Clients[1].Projected = 104
	assert.False(t, s.Synchronized())
}

func TestRoundDeliversAdjustmentsConcurrently(t *testing.T) {
	cs := clock.NewState(clock.NewManualSource(epoch), 0)
	base := cs.Now()

	stalled := newFakeConn()
	stalled.hold = make(chan struct{})
	stalled.answer = func() frame { return frame{msg: protocol.TimeResponse(base+4, "Stalled")} }

	quick := newFakeConn()
	quick.answer = func() frame { return frame{msg: protocol.TimeResponse(base-4, "Quick")} }

	r := NewRegistry()
	for _, conn := range []*fakeConn{stalled, quick} {
		p := newPeer(conn)
		r.Register(p)
		go p.readLoop(false)
		t.Cleanup(func() { conn.Close() })
	}

	round := &Round{Registry: r, Clock: cs, Timeout: time.Second}
	done := make(chan Summary, 1)
	go func() { done <- round.Run(context.Background()) }()

	// The stalled peer joined first, yet the quick one is not kept waiting
	require.Eventually(t, func() bool { return len(quick.adjustments()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 4.0, quick.adjustments()[0], 1e-6)

	select {
	case <-done:
		t.Fatal("round finished before the stalled delivery")
	default:
	}

	close(stalled.hold)
	var summary Summary
	select {
	case summary = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("round did not finish")
	}

	require.Len(t, summary.Clients, 2)
	assert.Equal(t, "Stalled", summary.Clients[0].ClientID)
	assert.InDelta(t, -4.0, summary.Clients[0].Adjustment, 1e-6)
	assert.Equal(t, "Quick", summary.Clients[1].ClientID)
	assert.Equal(t, 2, summary.Delivered())
	assert.InDelta(t, 0.0, summary.CoordinatorAdjustment, 1e-6)
}
