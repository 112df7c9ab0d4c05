package graph

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

func peerIDs(n int) []meshdoc.PeerId {
	out := make([]meshdoc.PeerId, n)
	for i := 0; i < n; i++ {
		out[i] = meshdoc.PeerId(strconv.Itoa(i))
	}
	return out
}

func TestCompleteGraphEveryPairLinked(t *testing.T) {
	peers := peerIDs(10)
	g := Complete(peers)
	if len(g.Nmap) != 10 {
		t.Fatalf("expected 10 vertices, got %d", len(g.Nmap))
	}
	for _, u := range peers {
		for _, v := range peers {
			if u == v {
				continue
			}
			_, uToV := g.Nmap[u][v]
			_, vToU := g.Nmap[v][u]
			if !uToV && !vToU {
				t.Fatalf("expected an edge between %s and %s", u, v)
			}
		}
	}
}

func TestSpanningTreeDegreeBound(t *testing.T) {
	peers := peerIDs(10)
	g := SpanningTree(peers, 3)

	want := map[string][]string{
		"0": {"1", "2", "3"},
		"1": {"4", "5", "6"},
		"2": {"7", "8", "9"},
	}
	for k, neighbors := range want {
		got := g.Nmap[meshdoc.PeerId(k)]
		if len(got) != len(neighbors) {
			t.Fatalf("node %s: expected %d neighbors, got %d", k, len(neighbors), len(got))
		}
		for _, n := range neighbors {
			if _, ok := got[meshdoc.PeerId(n)]; !ok {
				t.Fatalf("node %s: missing expected neighbor %s", k, n)
			}
		}
	}
	for i := 3; i < 10; i++ {
		k := meshdoc.PeerId(strconv.Itoa(i))
		if len(g.Nmap[k]) != 0 {
			t.Fatalf("leaf %s should have no neighbors, got %v", k, g.Nmap[k])
		}
	}

	unconnected := make(map[meshdoc.PeerId]struct{}, len(peers))
	for _, p := range peers {
		unconnected[p] = struct{}{}
	}
	for k, neighbors := range g.Nmap {
		if len(neighbors) > 3 {
			t.Fatalf("node %s exceeds max degree: %d", k, len(neighbors))
		}
		delete(unconnected, k)
	}
	if len(unconnected) != 0 {
		t.Fatalf("every peer id must appear as a key, missing: %v", unconnected)
	}
}

func TestLocalAttachmentNoIsolatedVertex(t *testing.T) {
	peers := peerIDs(20)
	rng := rand.New(rand.NewSource(42))
	g, err := LocalAttachment(peers, 4, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nmap) != len(peers) {
		t.Fatalf("expected every peer id as a key, got %d of %d", len(g.Nmap), len(peers))
	}
	for _, v := range peers {
		if len(g.UndirectedLinks(v)) == 0 {
			t.Fatalf("peer %s has no undirected links", v)
		}
	}
}

func TestLocalAttachmentRequiresEnoughPeers(t *testing.T) {
	peers := peerIDs(2)
	rng := rand.New(rand.NewSource(1))
	if _, err := LocalAttachment(peers, 4, rng); err == nil {
		t.Fatal("expected an error when clique size exceeds peer count")
	}
}

func TestUndirectedLinksConsistentWithNmap(t *testing.T) {
	g := meshdoc.NewPeerGraph()
	g.AddEdge("a", "b")
	for _, pair := range []struct {
		u, v meshdoc.PeerId
	}{{"a", "b"}, {"b", "a"}} {
		_, linked := g.UndirectedLinks(pair.u)[pair.v]
		direct := false
		if _, ok := g.Nmap[pair.u][pair.v]; ok {
			direct = true
		}
		if _, ok := g.Nmap[pair.v][pair.u]; ok {
			direct = true
		}
		if linked != direct {
			t.Fatalf("UndirectedLinks(%s) disagreement for %s: linked=%v direct=%v", pair.u, pair.v, linked, direct)
		}
	}
}

func TestToDotDeterministic(t *testing.T) {
	peers := peerIDs(4)
	g := Complete(peers)
	first := ToDot(g)
	second := ToDot(g)
	if first != second {
		t.Fatal("expected ToDot to be deterministic across calls")
	}
}
