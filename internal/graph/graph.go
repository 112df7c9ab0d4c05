// Package graph generates the PeerGraph connection topologies used to decide
// which peer dials which (spec.md §4.2). Edge direction (u -> v means u
// dials v) is established purely by insertion order; connectivity is always
// evaluated over the undirected projection via meshdoc.PeerGraph.UndirectedLinks.
package graph

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// sortedDescending returns peers ordered by descending PeerId, matching the
// original container-mesh graph generators (common/src/graph.rs), which sort
// descending before building the frontier/root so results are deterministic
// for a given input slice.
func sortedDescending(peers []meshdoc.PeerId) []meshdoc.PeerId {
	out := make([]meshdoc.PeerId, len(peers))
	copy(out, peers)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Complete builds the complete graph: every unordered pair of peers is
// connected by exactly one directed edge. Peers are added to the graph one
// at a time, each edge running from the newly added peer back to every peer
// already present.
func Complete(peers []meshdoc.PeerId) meshdoc.PeerGraph {
	g := meshdoc.NewPeerGraph()
	ordered := sortedDescending(peers)
	for _, v := range ordered {
		edgesFromV := make(map[meshdoc.PeerId]struct{}, len(g.Nmap))
		for u := range g.Nmap {
			edgesFromV[u] = struct{}{}
		}
		g.Nmap[v] = edgesFromV
	}
	return g
}

// SpanningTree builds a directed tree with maximum out-degree maxDegree.
// Peers are sorted descending, the last (smallest) becomes the root, and a
// breadth-first frontier assigns children from the remaining pool until
// everyone has a parent. Leaves have empty neighbor sets.
func SpanningTree(peers []meshdoc.PeerId, maxDegree int) meshdoc.PeerGraph {
	g := meshdoc.NewPeerGraph()
	if len(peers) == 0 {
		return g
	}
	pool := sortedDescending(peers)
	root := pool[len(pool)-1]
	pool = pool[:len(pool)-1]

	type frontierEntry struct {
		id        meshdoc.PeerId
		neighbors map[meshdoc.PeerId]struct{}
	}
	queue := []frontierEntry{{id: root, neighbors: make(map[meshdoc.PeerId]struct{})}}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for len(p.neighbors) < maxDegree && len(pool) > 0 {
			c := pool[len(pool)-1]
			pool = pool[:len(pool)-1]
			p.neighbors[c] = struct{}{}
			queue = append(queue, frontierEntry{id: c, neighbors: make(map[meshdoc.PeerId]struct{})})
		}
		g.Nmap[p.id] = p.neighbors
	}
	return g
}

// LocalAttachment implements the "local preferential attachment" model of
// spec.md §4.2: a complete clique seeds the first m peers, then each
// remaining peer attaches to a randomly chosen existing vertex's
// neighborhood with probability proportional to degree, falling back to a
// single forced edge to guarantee no isolated vertex. rng is caller-supplied
// so tests can pin the seed.
func LocalAttachment(peers []meshdoc.PeerId, m int, rng *rand.Rand) (meshdoc.PeerGraph, error) {
	if m > len(peers) {
		return meshdoc.PeerGraph{}, fmt.Errorf("graph: local attachment clique size %d exceeds peer count %d", m, len(peers))
	}
	g := Complete(peers[:m])
	rest := peers[m:]

	for _, v := range rest {
		roots := make([]meshdoc.PeerId, 0, len(g.Nmap))
		for id := range g.Nmap {
			roots = append(roots, id)
		}
		sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
		root := roots[rng.Intn(len(roots))]

		lan := g.UndirectedLinks(root)
		lan[root] = struct{}{}

		lanOrdered := make([]meshdoc.PeerId, 0, len(lan))
		for w := range lan {
			lanOrdered = append(lanOrdered, w)
		}
		sort.Slice(lanOrdered, func(i, j int) bool { return lanOrdered[i] < lanOrdered[j] })

		var sum uint64
		degree := make(map[meshdoc.PeerId]uint64, len(lanOrdered))
		for _, w := range lanOrdered {
			d := uint64(len(g.UndirectedLinks(w)))
			degree[w] = d
			sum += d
		}

		vEdges := make(map[meshdoc.PeerId]struct{})
		if sum > 0 {
			for _, w := range lanOrdered {
				probability := float64(degree[w]) / float64(sum)
				if rng.Float64() <= probability {
					vEdges[w] = struct{}{}
				}
			}
		}
		if len(vEdges) == 0 {
			vEdges[root] = struct{}{}
		}
		g.Nmap[v] = vEdges
	}
	return g, nil
}
