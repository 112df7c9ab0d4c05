// Package meshdoc defines the record shapes shared by the coordinator and
// peer processes, and the configuration defaults for a benchmark run. Field
// names are canonical: they round-trip through the store's self-describing
// wire format (see wire.go) unchanged.
package meshdoc

import "fmt"

// PeerId is an opaque identifier, stable for the lifetime of a peer.
// Recommended form is "<device_name>_<64-bit hex>". Equality is by string
// value and PeerId is used directly as a map key throughout this package.
type PeerId string

// PeerState is the lifecycle stage of a peer. Transitions are monotonic:
// Init -> Ready -> Running -> Reporting -> Shutdown. No backward transition
// is ever valid.
type PeerState int

const (
	Init PeerState = iota
	Ready
	Running
	Reporting
	Shutdown
)

func (s PeerState) String() string {
	switch s {
	case Init:
		return "Init"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Reporting:
		return "Reporting"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("PeerState(%d)", int(s))
	}
}

// stateOrder gives the monotonic rank of a state, used to reject backward
// transitions.
var stateOrder = map[PeerState]int{
	Init:      0,
	Ready:     1,
	Running:   2,
	Reporting: 3,
	Shutdown:  4,
}

// CanTransition reports whether moving from `from` to `to` is a forward (or
// no-op) step in the lifecycle.
func CanTransition(from, to PeerState) bool {
	return stateOrder[to] >= stateOrder[from]
}

// Peer identifies a participant and its current lifecycle stage. Equality
// and hashing consider peer_id only; state is mutable metadata that replaces
// on update rather than participating in identity.
type Peer struct {
	PeerId     PeerId    `json:"peer_id"`
	PeerIPAddr string    `json:"peer_ip_addr"`
	PeerPort   uint16    `json:"peer_port"`
	State      PeerState `json:"state"`
}

// Heartbeat is a per-peer liveness record. Equality and hashing are by
// Sender (peer_id); SentAtMsec never participates in set identity.
type Heartbeat struct {
	Sender     Peer   `json:"sender"`
	SentAtMsec uint64 `json:"sent_at_msec"`
}

// HeartbeatsDoc holds exactly one Heartbeat per peer, keyed by that peer's
// own PeerId. Created once per run by the coordinator; every peer owns
// exactly one entry and never writes another peer's entry.
type HeartbeatsDoc struct {
	Beats map[PeerId]Heartbeat `json:"beats"`
}

func NewHeartbeatsDoc() HeartbeatsDoc {
	return HeartbeatsDoc{Beats: make(map[PeerId]Heartbeat)}
}

// PeerGraph is a directed adjacency map: an edge u -> v means u dials v.
// Connectivity properties are evaluated over the undirected projection via
// UndirectedLinks.
type PeerGraph struct {
	Nmap map[PeerId]map[PeerId]struct{} `json:"nmap"`
}

func NewPeerGraph() PeerGraph {
	return PeerGraph{Nmap: make(map[PeerId]map[PeerId]struct{})}
}

// UndirectedLinks returns { u : v in Nmap[u] } union Nmap[v] — the set of
// peers connected to v regardless of dial direction.
func (g PeerGraph) UndirectedLinks(v PeerId) map[PeerId]struct{} {
	links := make(map[PeerId]struct{})
	for u, neighbors := range g.Nmap {
		if _, ok := neighbors[v]; ok {
			links[u] = struct{}{}
		}
	}
	for w := range g.Nmap[v] {
		links[w] = struct{}{}
	}
	return links
}

// AddEdge records a directed edge u -> v, creating u's entry if absent.
func (g PeerGraph) AddEdge(u, v PeerId) {
	if g.Nmap[u] == nil {
		g.Nmap[u] = make(map[PeerId]struct{})
	}
	g.Nmap[u][v] = struct{}{}
}

// EnsureVertex guarantees u has an entry in Nmap (possibly with no
// neighbors), satisfying the invariant that every peer id appears exactly
// once as a key.
func (g PeerGraph) EnsureVertex(u PeerId) {
	if g.Nmap[u] == nil {
		g.Nmap[u] = make(map[PeerId]struct{})
	}
}

// ExecutionPlan is the coordinator-generated plan telling peers when to
// start, how long to run, which peers exist, and which peers to dial.
// StartTime of 0 means "not yet scheduled".
type ExecutionPlan struct {
	StartTime            uint64    `json:"start_time"`
	TestDurationSec      uint32    `json:"test_duration_sec"`
	ReportCollectionName string    `json:"report_collection_name"`
	PeerCollectionName   string    `json:"peer_collection_name"`
	PeerDocID            []byte    `json:"peer_doc_id"`
	MinMsgDelayMsec      uint32    `json:"min_msg_delay_msec"`
	MaxMsgDelayMsec      uint32    `json:"max_msg_delay_msec"`
	Peers                []Peer    `json:"peers"`
	Connections          PeerGraph `json:"connections"`
}

// CoordinatorInfo is created and mutated only by the coordinator; exactly
// one instance exists per run.
type CoordinatorInfo struct {
	HeartbeatCollectionName string         `json:"heartbeat_collection_name"`
	HeartbeatIntervalSec    uint32         `json:"heartbeat_interval_sec"`
	ExecutionPlan           *ExecutionPlan `json:"execution_plan,omitempty"`
}

// PeerRecord is immutable once written to a slot; a later write to the same
// slot overwrites it wholesale.
type PeerRecord struct {
	Timestamp uint64 `json:"timestamp"`
	Data      string `json:"data"`
}

// PeerLog is a fixed-size circular buffer of PeerRecord, keyed by stringified
// index to accommodate the underlying store's key type. LastIndex is -1 when
// the log is empty.
type PeerLog struct {
	LastIndex  int32                 `json:"last_index"`
	MaxLogSize uint32                `json:"max_log_size"`
	Log        map[string]PeerRecord `json:"log"`
}

func NewPeerLog(maxLogSize uint32) PeerLog {
	return PeerLog{
		LastIndex:  -1,
		MaxLogSize: maxLogSize,
		Log:        make(map[string]PeerRecord),
	}
}

// PeerDoc holds every peer's sub-log, keyed by that peer's own PeerId. Each
// peer creates its own sub-log on first write and never touches another's.
type PeerDoc struct {
	ID   []byte             `json:"id"`
	Logs map[PeerId]PeerLog `json:"logs"`
}

// LatencyStats accumulates a running mean; Avg is recomputed as
// total/num_events on every observed event.
type LatencyStats struct {
	NumEvents     uint64 `json:"num_events"`
	MinMsec       uint64 `json:"min_msec"`
	MaxMsec       uint64 `json:"max_msec"`
	AvgMsec       uint64 `json:"avg_msec"`
	DistinctPeers int    `json:"distinct_peers"`
}

// PeerReport is the final artifact a peer writes to disk.
type PeerReport struct {
	MessageLatency  LatencyStats `json:"message_latency"`
	RecordsProduced uint64       `json:"records_produced"`
}
