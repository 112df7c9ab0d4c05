package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// ToDot renders a PeerGraph as a DOT directed-graph artifact: one
// "  u -> v;" line per edge, nodes in deterministic sorted order so repeated
// runs against the same graph produce byte-identical output.
func ToDot(g meshdoc.PeerGraph) string {
	var b strings.Builder
	b.WriteString("digraph mesh {\n")

	ids := make([]meshdoc.PeerId, 0, len(g.Nmap))
	for id := range g.Nmap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, u := range ids {
		neighbors := make([]meshdoc.PeerId, 0, len(g.Nmap[u]))
		for v := range g.Nmap[u] {
			neighbors = append(neighbors, v)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, v := range neighbors {
			fmt.Fprintf(&b, "  %s -> %s;\n", u, v)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
