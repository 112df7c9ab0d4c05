package peerrun

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// TestRunCompletesFullLifecycle exercises Run end-to-end against a fake
// coordinator: a plan is published directly onto the store the way the
// coordinator package would, and Run is expected to walk Init through
// Shutdown and leave a report file behind.
func TestRunCompletesFullLifecycle(t *testing.T) {
	dir := t.TempDir()
	st := store.NewStore()
	logger := logx.New(logx.Config{Level: logx.ERROR})

	coordColl := store.OpenCollection[meshdoc.CoordinatorInfo](st, meshdoc.CoordCollectionName)
	coordID, err := coordColl.Upsert("", meshdoc.NewCoordinatorInfo())
	if err != nil {
		t.Fatalf("seed coord-info: %v", err)
	}
	hbColl := store.OpenCollection[meshdoc.HeartbeatsDoc](st, meshdoc.HeartbeatCollectionName)
	if _, err := hbColl.Upsert("", meshdoc.NewHeartbeatsDoc()); err != nil {
		t.Fatalf("seed heartbeats: %v", err)
	}

	peerDocID := store.NewDocID()
	plan := &meshdoc.ExecutionPlan{
		TestDurationSec:      1,
		ReportCollectionName: meshdoc.ReportCollectionName,
		PeerCollectionName:   meshdoc.PeerCollectionName,
		PeerDocID:            peerDocID.Bytes(),
		MinMsgDelayMsec:      5,
		MaxMsgDelayMsec:      15,
		Peers: []meshdoc.Peer{
			{PeerId: "p1", PeerIPAddr: "127.0.0.1", PeerPort: 9001},
		},
		Connections: meshdoc.NewPeerGraph(),
		StartTime:   meshdoc.NowMsec() + 50,
	}
	if err := coordColl.Update(coordID, func(info *meshdoc.CoordinatorInfo) {
		info.ExecutionPlan = plan
	}); err != nil {
		t.Fatalf("publish plan: %v", err)
	}

	cfg := Config{
		Self:                  meshdoc.Peer{PeerId: "p1", PeerIPAddr: "127.0.0.1", PeerPort: 9001},
		DeviceName:            "p1",
		OutputDir:             dir,
		BootstrapPollInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := Run(ctx, cfg, st, logger)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report == nil {
		t.Fatal("expected a non-nil report")
	}

	if _, err := os.Stat(dir + "/p1-report.json"); err != nil {
		t.Fatalf("expected report file to exist: %v", err)
	}
}
