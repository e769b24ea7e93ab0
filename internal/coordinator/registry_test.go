// ABOUTME: Tests for the peer registry
// ABOUTME: Covers join order, snapshots, idempotent removal, and shutdown
package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndSnapshot(t *testing.T) {
	r := NewRegistry()
	p1, _ := newTestPeer(t)
	p2, _ := newTestPeer(t)

	assert.Equal(t, 1, r.Register(p1))
	assert.Equal(t, 2, r.Register(p2))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Same(t, p1, snap[0])
	assert.Same(t, p2, snap[1])

	// Mutating the registry does not touch an existing snapshot
	r.Unregister(p1)
	assert.Len(t, snap, 2)
	assert.Same(t, p1, snap[0])
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	p1, _ := newTestPeer(t)
	p2, _ := newTestPeer(t)
	r.Register(p1)
	r.Register(p2)

	changes := 0
	r.onChange = func() { changes++ }

	assert.True(t, r.Unregister(p1))
	assert.False(t, r.Unregister(p1))
	assert.Equal(t, 1, changes, "a no-op removal is not a change")

	assert.Equal(t, 1, r.Len())
	assert.False(t, r.Contains(p1))
	assert.True(t, r.Contains(p2))

	select {
	case <-p1.conn.Done():
	default:
		t.Error("unregistering should close the connection")
	}
}

func TestRegistryConcurrentUnregister(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestPeer(t)
	r.Register(p)

	var wg sync.WaitGroup
	removed := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed <- r.Unregister(p)
		}()
	}
	wg.Wait()
	close(removed)

	count := 0
	for ok := range removed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	p1, _ := newTestPeer(t)
	p2, _ := newTestPeer(t)
	r.Register(p1)
	r.Register(p2)

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Infos())
}
