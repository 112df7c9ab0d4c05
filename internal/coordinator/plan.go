package coordinator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/nmxmxh/cmesh/internal/graph"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// GraphKind selects which connection-graph generator fills in an
// ExecutionPlan.Connections (spec.md §4.2, §6.3's --connection-graph flag).
type GraphKind string

const (
	GraphComplete     GraphKind = "complete"
	GraphSpanningTree GraphKind = "spanning-tree"
	GraphLocalAttach  GraphKind = "la-model"
)

// generateGraph dispatches to the requested topology, enforcing la-model's
// minimum clique-size precondition (spec.md §4.2 Non-goals/edge cases: "fewer
// than GraphLACliqueSize peers is a precondition violation").
func generateGraph(kind GraphKind, peerIDs []meshdoc.PeerId, rng *rand.Rand) (meshdoc.PeerGraph, error) {
	switch kind {
	case GraphComplete:
		return graph.Complete(peerIDs), nil
	case GraphSpanningTree:
		return graph.SpanningTree(peerIDs, meshdoc.GraphSpanningMaxDegree), nil
	case GraphLocalAttach:
		if len(peerIDs) < meshdoc.GraphLACliqueSize {
			return meshdoc.PeerGraph{}, fmt.Errorf(
				"coordinator: la-model requires at least %d peers, have %d",
				meshdoc.GraphLACliqueSize, len(peerIDs))
		}
		return graph.LocalAttachment(peerIDs, meshdoc.GraphLACliqueSize, rng)
	default:
		return meshdoc.PeerGraph{}, fmt.Errorf("coordinator: unknown connection graph kind %q", kind)
	}
}

// startDelaySec implements spec.md §4.3's start-time formula: every run gets
// a flat 10-second grace period, plus ceil(n/4) additional seconds once the
// peer count exceeds 40, giving larger runs more time to observe the Ready
// quorum and dial their connection graph before the clock starts.
//
// Verified against spec scenario 6: n=40 -> 10s, n=41 -> 21s, n=100 -> 35s.
func startDelaySec(numPeers int) uint64 {
	delay := uint64(10)
	if numPeers > 40 {
		delay += uint64(math.Ceil(float64(numPeers) / 4))
	}
	return delay
}
