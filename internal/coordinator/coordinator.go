// Package coordinator implements the coordinator process's side of the
// lifecycle protocol (spec.md §4.3): it tracks every peer's reported state
// through the heartbeat collection, generates and publishes the execution
// plan once a quorum reaches Init, computes and publishes the run's start
// time once a quorum reaches Ready, and waits for the run to finish.
//
// Grounded on the original container-mesh coordinator
// (original_source/container-mesh/coordinator/src/main.rs: HeartbeatProcessor,
// wait_for_peer_states, generate_plan, start_delay_secs) and on the teacher's
// mesh_coordinator.go peer-cache/mutex-guarded-map style.
package coordinator

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/nmxmxh/cmesh/internal/graph"
	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// Config carries every coordinator tunable named in spec.md §6.3's flag
// table.
type Config struct {
	// CoordCollectionName defaults to meshdoc.CoordCollectionName; peers
	// must be configured with the same name to bootstrap against this run.
	CoordCollectionName string

	MinPeers        int
	TestDurationSec uint32
	MinMsgDelayMsec uint32
	MaxMsgDelayMsec uint32
	ConnectionGraph GraphKind
	OutputDir       string

	// Rand seeds la-model's probabilistic attachment. Nil means "seed from
	// wall-clock time"; tests supply a pinned source.
	Rand *rand.Rand
}

func (c Config) coordCollectionName() string {
	if c.CoordCollectionName == "" {
		return meshdoc.CoordCollectionName
	}
	return c.CoordCollectionName
}

// validate enforces the preconditions spec.md §4.3 calls out explicitly:
// min_msg_delay <= max_msg_delay, min_peers >= 1, and an output directory
// that actually exists (fail fast rather than discover this after the run).
func (c Config) validate() error {
	if c.MinPeers < 1 {
		return fmt.Errorf("coordinator: min_peers must be >= 1, got %d", c.MinPeers)
	}
	if c.MinMsgDelayMsec == 0 || c.MaxMsgDelayMsec == 0 {
		return fmt.Errorf("coordinator: min_msg_delay_msec and max_msg_delay_msec must both be strictly positive")
	}
	if c.MinMsgDelayMsec > c.MaxMsgDelayMsec {
		return fmt.Errorf("coordinator: min_msg_delay_msec (%d) exceeds max_msg_delay_msec (%d)",
			c.MinMsgDelayMsec, c.MaxMsgDelayMsec)
	}
	info, err := os.Stat(c.OutputDir)
	if err != nil {
		return fmt.Errorf("coordinator: output dir %q not usable: %w", c.OutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("coordinator: output dir %q is not a directory", c.OutputDir)
	}
	return nil
}

// Coordinator orchestrates a single run from Init through Shutdown.
type Coordinator struct {
	cfg    Config
	store  *store.Store
	logger *logx.Logger
	peers  *PeerSet
	rng    *rand.Rand

	coordColl *store.Collection[meshdoc.CoordinatorInfo]
	coordID   store.DocID
	hbColl    *store.Collection[meshdoc.HeartbeatsDoc]
	hbID      store.DocID
}

// New builds a Coordinator bound to st, ready to Run once. st is expected to
// be a fresh *store.Store (or one the caller has already opened collections
// on for test inspection).
func New(cfg Config, st *store.Store, logger *logx.Logger) *Coordinator {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Coordinator{
		cfg:    cfg,
		store:  st,
		logger: logger,
		peers:  NewPeerSet(logger),
		rng:    rng,
	}
}

// Run drives the full coordinator lifecycle and returns the published
// ExecutionPlan once the run has reached Reporting or Shutdown quorum.
func (c *Coordinator) Run() (*meshdoc.ExecutionPlan, error) {
	if err := c.cfg.validate(); err != nil {
		return nil, err
	}

	c.coordColl = store.OpenCollection[meshdoc.CoordinatorInfo](c.store, c.cfg.coordCollectionName())
	c.hbColl = store.OpenCollection[meshdoc.HeartbeatsDoc](c.store, meshdoc.HeartbeatCollectionName)

	coordID, err := c.coordColl.Upsert("", meshdoc.NewCoordinatorInfo())
	if err != nil {
		return nil, fmt.Errorf("coordinator: publish initial coord-info: %w", err)
	}
	c.coordID = coordID

	hbID, err := c.hbColl.Upsert("", meshdoc.NewHeartbeatsDoc())
	if err != nil {
		return nil, fmt.Errorf("coordinator: publish initial heartbeats doc: %w", err)
	}
	c.hbID = hbID

	token := c.hbColl.ObserveLocal(func(_ store.DocID, doc meshdoc.HeartbeatsDoc) {
		c.peers.ObserveHeartbeats(doc)
	})
	defer token.Cancel()

	c.logger.Info("waiting for init quorum", logx.Int("min_peers", c.cfg.MinPeers))
	c.peers.WaitForStates(c.cfg.MinPeers, meshdoc.Init, meshdoc.Ready, meshdoc.Running, meshdoc.Reporting)

	plan, err := c.buildPlan()
	if err != nil {
		return nil, err
	}
	if err := c.publishPlan(plan); err != nil {
		return nil, err
	}
	c.logger.Info("execution plan published",
		logx.Int("peers", len(plan.Peers)),
		logx.String("connection_graph", string(c.cfg.ConnectionGraph)))

	c.logger.Info("waiting for ready quorum")
	c.peers.WaitForStates(c.cfg.MinPeers, meshdoc.Ready, meshdoc.Running, meshdoc.Reporting)

	startAt := meshdoc.NowMsec() + startDelaySec(c.peers.Len())*1000
	if err := c.publishStartTime(startAt); err != nil {
		return nil, err
	}
	plan.StartTime = startAt
	c.logger.Info("start time published", logx.Uint64("start_at_msec", startAt))

	c.logger.Info("waiting for running quorum")
	c.peers.WaitForStates(c.cfg.MinPeers, meshdoc.Running, meshdoc.Reporting)

	c.logger.Info("waiting for completion quorum")
	c.peers.WaitForStates(c.cfg.MinPeers, meshdoc.Reporting, meshdoc.Shutdown)

	if err := c.emitDotArtifact(plan.Connections); err != nil {
		c.logger.Warn("failed to write connection graph artifact", logx.Err(err))
	}

	c.logger.Info("run complete")
	return plan, nil
}

func (c *Coordinator) buildPlan() (*meshdoc.ExecutionPlan, error) {
	snapshot := c.peers.Snapshot()
	ids := make([]meshdoc.PeerId, len(snapshot))
	for i, p := range snapshot {
		ids[i] = p.PeerId
	}

	conns, err := generateGraph(c.cfg.ConnectionGraph, ids, c.rng)
	if err != nil {
		return nil, err
	}

	peerDocID := store.NewDocID()
	return &meshdoc.ExecutionPlan{
		TestDurationSec:      c.cfg.TestDurationSec,
		ReportCollectionName: meshdoc.ReportCollectionName,
		PeerCollectionName:   meshdoc.PeerCollectionName,
		PeerDocID:            peerDocID.Bytes(),
		MinMsgDelayMsec:      c.cfg.MinMsgDelayMsec,
		MaxMsgDelayMsec:      c.cfg.MaxMsgDelayMsec,
		Peers:                snapshot,
		Connections:          conns,
	}, nil
}

func (c *Coordinator) publishPlan(plan *meshdoc.ExecutionPlan) error {
	return c.coordColl.Update(c.coordID, func(info *meshdoc.CoordinatorInfo) {
		info.ExecutionPlan = plan
	})
}

func (c *Coordinator) publishStartTime(startAt uint64) error {
	return c.coordColl.Update(c.coordID, func(info *meshdoc.CoordinatorInfo) {
		if info.ExecutionPlan != nil {
			info.ExecutionPlan.StartTime = startAt
		}
	})
}

// emitDotArtifact writes the generated topology to
// conn-graph-<kind>-<min_peers>.dot in the configured output directory, for
// later inspection with any Graphviz-compatible viewer.
func (c *Coordinator) emitDotArtifact(g meshdoc.PeerGraph) error {
	name := fmt.Sprintf("conn-graph-%s-%d.dot", c.cfg.ConnectionGraph, c.cfg.MinPeers)
	path := filepath.Join(c.cfg.OutputDir, name)
	return os.WriteFile(path, []byte(graph.ToDot(g)), 0o644)
}
