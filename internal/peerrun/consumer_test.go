package peerrun

import (
	"testing"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

func newTestConsumer(self meshdoc.PeerId) *Consumer {
	return NewConsumer(self, logx.New(logx.Config{Level: logx.ERROR}))
}

func TestConsumerProcessesNewRecordsOnce(t *testing.T) {
	c := newTestConsumer("self")

	log := meshdoc.NewPeerLog(4)
	log.Log["0"] = meshdoc.PeerRecord{Timestamp: 100, Data: "a"}
	log.LastIndex = 0

	c.processSource("peerA", log, 150)
	if got := c.Stats().NumEvents; got != 1 {
		t.Fatalf("expected 1 event after first pass, got %d", got)
	}

	// Re-processing the same log snapshot must be idempotent.
	c.processSource("peerA", log, 150)
	if got := c.Stats().NumEvents; got != 1 {
		t.Fatalf("expected re-processing the same snapshot to be a no-op, got %d events", got)
	}
}

func TestConsumerAdvancesAcrossMultipleNewRecords(t *testing.T) {
	c := newTestConsumer("self")

	log := meshdoc.NewPeerLog(4)
	log.Log["0"] = meshdoc.PeerRecord{Timestamp: 100, Data: "a"}
	log.Log["1"] = meshdoc.PeerRecord{Timestamp: 110, Data: "b"}
	log.LastIndex = 1

	c.processSource("peerA", log, 200)
	stats := c.Stats()
	if stats.NumEvents != 2 {
		t.Fatalf("expected 2 events, got %d", stats.NumEvents)
	}
	if stats.MinMsec != 90 || stats.MaxMsec != 100 {
		t.Fatalf("unexpected latency bounds: %+v", stats)
	}
}

func TestConsumerSkipsOwnSource(t *testing.T) {
	c := newTestConsumer("self")
	doc := meshdoc.PeerDoc{Logs: map[meshdoc.PeerId]meshdoc.PeerLog{
		"self": {LastIndex: 0, MaxLogSize: 4, Log: map[string]meshdoc.PeerRecord{
			"0": {Timestamp: 100, Data: "own"},
		}},
	}}
	c.ProcessDoc(doc, 200)
	if got := c.Stats().NumEvents; got != 0 {
		t.Fatalf("expected own source log to be skipped entirely, got %d events", got)
	}
}

// TestConsumerDetectsRingWrapRegression checks the stale-slot rule: when the
// next slot holds a record older than the last one the cursor saw, the
// consumer records no event for it and leaves the cursor parked on that slot
// with the last good timestamp.
func TestConsumerDetectsRingWrapRegression(t *testing.T) {
	c := newTestConsumer("self")

	first := meshdoc.NewPeerLog(2)
	first.Log["0"] = meshdoc.PeerRecord{Timestamp: 100, Data: "a"}
	first.LastIndex = 0
	c.processSource("peerA", first, 200)

	cur := c.cursorFor("peerA")
	if cur.nextIndex != 1 || cur.lastSeenTimestamp != 100 {
		t.Fatalf("unexpected cursor after first pass: %+v", cur)
	}

	// Slot 1 now holds a record whose timestamp regresses relative to what
	// we've already seen, as if the producer's log were replaced or the ring
	// lapped an unread cursor.
	second := meshdoc.NewPeerLog(2)
	second.Log["0"] = meshdoc.PeerRecord{Timestamp: 100, Data: "a"}
	second.Log["1"] = meshdoc.PeerRecord{Timestamp: 10, Data: "stale"}
	second.LastIndex = 1
	c.processSource("peerA", second, 200)

	cur = c.cursorFor("peerA")
	if cur.lastSeenTimestamp != 100 {
		t.Fatalf("expected cursor to hold steady at the last good timestamp, got %+v", cur)
	}
	if cur.nextIndex != 1 {
		t.Fatalf("expected cursor to stay parked on the stale slot (index 1), got %d", cur.nextIndex)
	}
	if got := c.Stats().NumEvents; got != 1 {
		t.Fatalf("expected no new event recorded from the stale slot, got %d", got)
	}
}
