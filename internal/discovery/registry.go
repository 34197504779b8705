package discovery

import "sync"

// Registry is the table of currently known peers, keyed by peer ID.
// Reads may run concurrently; writes are exclusive. Values are cloned on the
// way in and out so callers never share a *Peer with the registry.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Upsert stores peer under its ID, replacing any previous record.
func (r *Registry) Upsert(peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer.ID] = peer.Clone()
}

// Remove deletes the peer with the given ID and returns the removed record.
func (r *Registry) Remove(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	return peer, true
}

// Get returns a copy of the peer with the given ID.
func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	return peer.Clone(), true
}

// Snapshot returns copies of all known peers in no particular order.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		out = append(out, peer.Clone())
	}
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Clear removes every peer.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.peers)
}
