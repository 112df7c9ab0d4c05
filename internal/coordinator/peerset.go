package coordinator

import (
	"sort"
	"sync"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// PeerSet is the coordinator's in-memory view of every peer it has ever
// heard a heartbeat from (spec.md §4.3: "Maintain an in-memory set of Peer
// keyed by peer_id"). It is guarded by a mutex and exposes a condition
// variable so wait_for_state callers re-check their predicate exactly when
// new heartbeat data arrives, rather than polling.
type PeerSet struct {
	mu     sync.Mutex
	cond   *sync.Cond
	peers  map[meshdoc.PeerId]meshdoc.Peer
	logger *logx.Logger
}

func NewPeerSet(logger *logx.Logger) *PeerSet {
	ps := &PeerSet{
		peers:  make(map[meshdoc.PeerId]meshdoc.Peer),
		logger: logger,
	}
	ps.cond = sync.NewCond(&ps.mu)
	return ps
}

// ObserveHeartbeats replaces the entry for each sender in a delivered
// HeartbeatsDoc snapshot — equal by peer_id, so a peer's updated state
// overwrites its previous entry — then signals every waiter to re-check its
// predicate. This is the callback registered with the heartbeat collection's
// ObserveLocal (spec.md §4.3).
func (ps *PeerSet) ObserveHeartbeats(doc meshdoc.HeartbeatsDoc) {
	ps.mu.Lock()
	for _, hb := range doc.Beats {
		ps.peers[hb.Sender.PeerId] = hb.Sender
	}
	n := len(ps.peers)
	ps.cond.Broadcast()
	ps.mu.Unlock()
	ps.logger.Debug("observed heartbeat snapshot", logx.Int("peers", n))
}

// WaitForStates blocks until at least minPeers peers currently have a state
// in states. The equivalent formulation from spec.md §4.3:
// |{p in peers : p.state in S}| >= k.
func (ps *PeerSet) WaitForStates(minPeers int, states ...meshdoc.PeerState) {
	want := make(map[meshdoc.PeerState]struct{}, len(states))
	for _, s := range states {
		want[s] = struct{}{}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for {
		k := 0
		for _, p := range ps.peers {
			if _, ok := want[p.State]; ok {
				k++
			}
		}
		if k >= minPeers {
			return
		}
		ps.cond.Wait()
	}
}

// WaitForState is WaitForStates for a single target state.
func (ps *PeerSet) WaitForState(minPeers int, state meshdoc.PeerState) {
	ps.WaitForStates(minPeers, state)
}

// Snapshot returns every currently known peer, ordered by PeerId so that
// plan generation (and tests) see a deterministic sequence.
func (ps *PeerSet) Snapshot() []meshdoc.Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]meshdoc.Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerId < out[j].PeerId })
	return out
}

// Len returns the current number of distinct peers observed, used by the
// start-time formula (spec.md §4.3).
func (ps *PeerSet) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.peers)
}
