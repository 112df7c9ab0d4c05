package peerrun

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// Config carries everything a peer process needs to run its full lifecycle,
// matching the flags in spec.md §6.4.
type Config struct {
	Self meshdoc.Peer

	// CoordCollectionName must match the coordinator's --coord-collection;
	// empty defaults to meshdoc.CoordCollectionName.
	CoordCollectionName string

	DeviceName            string
	OutputDir             string
	BootstrapPollInterval time.Duration
	Rand                  *rand.Rand

	// Dial is called once per outbound neighbor named in the execution
	// plan's connection graph (Nmap[self.PeerId]). It is optional and
	// best-effort: a peer process that doesn't care about real network
	// reachability (e.g. a unit test) can leave it nil.
	Dial func(addr string)
}

// Run drives a single peer through Init -> Ready -> Running -> Reporting ->
// Shutdown against st, returning the report it wrote on the way out.
func Run(ctx context.Context, cfg Config, st *store.Store, logger *logx.Logger) (*meshdoc.PeerReport, error) {
	coordCollectionName := cfg.CoordCollectionName
	if coordCollectionName == "" {
		coordCollectionName = meshdoc.CoordCollectionName
	}
	coordColl := store.OpenCollection[meshdoc.CoordinatorInfo](st, coordCollectionName)

	coordID, hbID, hbCollectionName, err := Bootstrap(st, coordCollectionName, logger, cfg.BootstrapPollInterval)
	if err != nil {
		return nil, fmt.Errorf("peerrun: bootstrap: %w", err)
	}
	hbColl := store.OpenCollection[meshdoc.HeartbeatsDoc](st, hbCollectionName)

	self := cfg.Self
	self.State = meshdoc.Init
	hb := NewHeartbeater(hbColl, hbID, self, logger)
	hb.Start(ctx)
	defer hb.Stop()

	logger.Info("entered init, waiting for execution plan", logx.String("peer_id", string(self.PeerId)))
	plan := waitForPlan(ctx, coordColl, coordID, cfg.BootstrapPollInterval)
	if plan == nil {
		return nil, fmt.Errorf("peerrun: context cancelled waiting for execution plan")
	}
	if plan.MinMsgDelayMsec > plan.MaxMsgDelayMsec {
		return nil, fmt.Errorf("peerrun: execution plan violates min_msg_delay_msec (%d) <= max_msg_delay_msec (%d)",
			plan.MinMsgDelayMsec, plan.MaxMsgDelayMsec)
	}

	hb.SetState(meshdoc.Ready)
	logger.Info("ready, waiting for start time")

	// Do not proceed while start_time is still 0: that means the
	// coordinator hasn't finished computing it yet, not that the run starts
	// immediately.
	startAt := waitForStartTime(ctx, coordColl, coordID, cfg.BootstrapPollInterval)
	if startAt == 0 {
		return nil, fmt.Errorf("peerrun: context cancelled waiting for start time")
	}
	sleepUntil(ctx, startAt)

	for neighbor := range plan.Connections.Nmap[self.PeerId] {
		if cfg.Dial == nil {
			continue
		}
		for _, p := range plan.Peers {
			if p.PeerId == neighbor {
				cfg.Dial(fmt.Sprintf("%s:%d", p.PeerIPAddr, p.PeerPort))
			}
		}
	}

	hb.SetState(meshdoc.Running)
	logger.Info("running", logx.Duration("test_duration", time.Duration(plan.TestDurationSec)*time.Second))

	peerColl := store.OpenCollection[meshdoc.PeerDoc](st, plan.PeerCollectionName)
	peerDocID := store.DocIDFromBytes(plan.PeerDocID)
	if err := EnsurePeerDoc(peerColl, peerDocID); err != nil {
		return nil, fmt.Errorf("peerrun: ensure peer doc: %w", err)
	}

	runCtx, cancelRun := context.WithTimeout(ctx, time.Duration(plan.TestDurationSec)*time.Second)
	defer cancelRun()

	producer := NewProducer(peerColl, peerDocID, self.PeerId, meshdoc.PeerLogSize,
		time.Duration(plan.MinMsgDelayMsec)*time.Millisecond,
		time.Duration(plan.MaxMsgDelayMsec)*time.Millisecond,
		cfg.Rand, logger)

	consumer := NewConsumer(self.PeerId, logger)
	consumerToken := peerColl.ObserveLocal(func(id store.DocID, doc meshdoc.PeerDoc) {
		if id != peerDocID {
			return
		}
		consumer.ProcessDoc(doc, meshdoc.NowMsec())
	})
	defer consumerToken.Cancel()
	if doc, ok := peerColl.FindByID(peerDocID); ok {
		consumer.ProcessDoc(doc, meshdoc.NowMsec())
	}

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		producer.Run(runCtx, func() string { return fmt.Sprintf("rec-%d", meshdoc.NowMsec()) })
	}()

	<-runCtx.Done()
	<-producerDone

	report := meshdoc.PeerReport{
		MessageLatency:  consumer.Stats(),
		RecordsProduced: producer.Count(),
	}

	hb.SetState(meshdoc.Reporting)
	hb.SetState(meshdoc.Shutdown)

	// Let the Shutdown heartbeat replicate before this process exits.
	select {
	case <-ctx.Done():
	case <-time.After(meshdoc.ReportPropagationLinger):
	}

	if err := WriteReport(cfg.OutputDir, cfg.DeviceName, report); err != nil {
		logger.Warn("failed to write report", logx.Err(err))
	}

	logger.Info("shutdown complete")
	return &report, nil
}

func waitForPlan(ctx context.Context, coll *store.Collection[meshdoc.CoordinatorInfo], docID store.DocID, pollInterval time.Duration) *meshdoc.ExecutionPlan {
	if pollInterval <= 0 {
		pollInterval = meshdoc.QueryPollInterval
	}
	for {
		if info, ok := coll.FindByID(docID); ok && info.ExecutionPlan != nil {
			return info.ExecutionPlan
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

func waitForStartTime(ctx context.Context, coll *store.Collection[meshdoc.CoordinatorInfo], docID store.DocID, pollInterval time.Duration) uint64 {
	if pollInterval <= 0 {
		pollInterval = meshdoc.QueryPollInterval
	}
	for {
		if info, ok := coll.FindByID(docID); ok && info.ExecutionPlan != nil && info.ExecutionPlan.StartTime != 0 {
			return info.ExecutionPlan.StartTime
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(pollInterval):
		}
	}
}

func sleepUntil(ctx context.Context, startAtMsec uint64) {
	now := meshdoc.NowMsec()
	if startAtMsec <= now {
		return
	}
	d := time.Duration(startAtMsec-now) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
