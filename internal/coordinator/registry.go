// ABOUTME: Registry of live client connections owned by the coordinator
// ABOUTME: One mutex guards the list; it is never held across network I/O
package coordinator

import "sync"

// Registry is the coordinator's set of live peers, in join order
type Registry struct {
	mu    sync.Mutex
	peers []*Peer

	// onChange is called outside the lock after every mutation
	onChange func()
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a peer and returns the new size
func (r *Registry) Register(p *Peer) int {
	r.mu.Lock()
	r.peers = append(r.peers, p)
	n := len(r.peers)
	r.mu.Unlock()

	r.changed()
	return n
}

// Unregister removes a peer and closes its connection. Removing a peer
// that is already gone is a no-op; the reader's EOF path and a round's
// failure path can both get here. Reports whether anything was removed.
func (r *Registry) Unregister(p *Peer) bool {
	r.mu.Lock()
	removed := false
	for i, existing := range r.peers {
		if existing == p {
			r.peers = append(r.peers[:i:i], r.peers[i+1:]...)
			removed = true
			break
		}
	}
	r.mu.Unlock()

	if !removed {
		return false
	}
	p.close()
	r.changed()
	return true
}

// Snapshot returns a copy of the current peers
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Len returns the number of registered peers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Contains reports whether p is registered
func (r *Registry) Contains(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.peers {
		if existing == p {
			return true
		}
	}
	return false
}

// CloseAll unregisters and closes every peer
func (r *Registry) CloseAll() {
	for _, p := range r.Snapshot() {
		r.Unregister(p)
	}
}

// Infos describes every registered peer
func (r *Registry) Infos() []PeerInfo {
	peers := r.Snapshot()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.Info())
	}
	return infos
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
