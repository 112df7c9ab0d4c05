package coordinator

import (
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

func TestStartDelaySecMatchesScenario(t *testing.T) {
	cases := []struct {
		n    int
		want uint64
	}{
		{40, 10},
		{41, 21},
		{100, 35},
	}
	for _, tc := range cases {
		if got := startDelaySec(tc.n); got != tc.want {
			t.Errorf("startDelaySec(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestGenerateGraphRejectsSmallLocalAttachment(t *testing.T) {
	ids := []meshdoc.PeerId{"a", "b", "c"}
	_, err := generateGraph(GraphLocalAttach, ids, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected la-model with 3 peers to be rejected")
	}
}

func TestConfigValidateRejectsBadDelayWindow(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MinPeers: 1, MinMsgDelayMsec: 100, MaxMsgDelayMsec: 50, OutputDir: dir}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected min > max delay to fail validation")
	}
}

func TestConfigValidateRejectsMissingOutputDir(t *testing.T) {
	cfg := Config{MinPeers: 1, MinMsgDelayMsec: 10, MaxMsgDelayMsec: 50, OutputDir: "/nonexistent/does-not-exist"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected a missing output dir to fail validation")
	}
}

// TestRunPublishesPlanAfterInitQuorum drives the full lifecycle through a
// minimal two-peer run, faking peer behavior by writing directly to the
// heartbeat collection the way a real peer process would.
func TestRunPublishesPlanAfterInitQuorum(t *testing.T) {
	dir := t.TempDir()
	st := store.NewStore()
	logger := logx.New(logx.Config{Level: logx.ERROR, Component: "test", Output: discard{}})

	cfg := Config{
		MinPeers:        2,
		TestDurationSec: 30,
		MinMsgDelayMsec: 10,
		MaxMsgDelayMsec: 50,
		ConnectionGraph: GraphComplete,
		OutputDir:       dir,
		Rand:            rand.New(rand.NewSource(7)),
	}
	co := New(cfg, st, logger)

	done := make(chan *meshdoc.ExecutionPlan, 1)
	errCh := make(chan error, 1)
	go func() {
		plan, err := co.Run()
		if err != nil {
			errCh <- err
			return
		}
		done <- plan
	}()

	// Wait for the coordinator to publish its singleton heartbeat doc before
	// a fake peer process writes heartbeats onto it.
	hbColl := store.OpenCollection[meshdoc.HeartbeatsDoc](st, meshdoc.HeartbeatCollectionName)
	var hbID store.DocID
	deadline := time.Now().Add(2 * time.Second)
	for hbID == "" && time.Now().Before(deadline) {
		for id := range hbColl.FindAll() {
			hbID = id
		}
		if hbID == "" {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if hbID == "" {
		t.Fatal("coordinator never published its heartbeat doc")
	}

	writeState := func(peer meshdoc.PeerId, state meshdoc.PeerState) {
		err := hbColl.Update(hbID, func(doc *meshdoc.HeartbeatsDoc) {
			doc.Beats[peer] = meshdoc.Heartbeat{
				Sender:     meshdoc.Peer{PeerId: peer, State: state},
				SentAtMsec: meshdoc.NowMsec(),
			}
		})
		if err != nil {
			t.Fatalf("write state for %s: %v", peer, err)
		}
	}

	writeState("p1", meshdoc.Init)
	writeState("p2", meshdoc.Init)

	writeState("p1", meshdoc.Ready)
	writeState("p2", meshdoc.Ready)

	writeState("p1", meshdoc.Running)
	writeState("p2", meshdoc.Running)

	writeState("p1", meshdoc.Reporting)
	writeState("p2", meshdoc.Reporting)

	select {
	case plan := <-done:
		if len(plan.Peers) != 2 {
			t.Fatalf("expected 2 peers in plan, got %d", len(plan.Peers))
		}
		if plan.StartTime == 0 {
			t.Fatal("expected a nonzero start time to have been published")
		}
		dotPath := dir + "/conn-graph-complete-2.dot"
		if _, err := os.Stat(dotPath); err != nil {
			t.Fatalf("expected dot artifact at %s: %v", dotPath, err)
		}
	case err := <-errCh:
		t.Fatalf("Run returned an error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator run did not complete in time")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
