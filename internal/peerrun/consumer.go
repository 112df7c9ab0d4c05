package peerrun

import (
	"strconv"
	"sync"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// LatencyAccumulator maintains a running LatencyStats (spec.md §4.6): min,
// max, and a recomputed mean on every observed event, plus a count of
// distinct source peers seen so far.
type LatencyAccumulator struct {
	mu        sync.Mutex
	stats     meshdoc.LatencyStats
	total     uint64
	seenPeers map[meshdoc.PeerId]struct{}
}

func NewLatencyAccumulator() *LatencyAccumulator {
	return &LatencyAccumulator{seenPeers: make(map[meshdoc.PeerId]struct{})}
}

func (a *LatencyAccumulator) Observe(source meshdoc.PeerId, latencyMsec uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stats.NumEvents == 0 || latencyMsec < a.stats.MinMsec {
		a.stats.MinMsec = latencyMsec
	}
	if latencyMsec > a.stats.MaxMsec {
		a.stats.MaxMsec = latencyMsec
	}
	a.total += latencyMsec
	a.stats.NumEvents++
	a.stats.AvgMsec = a.total / a.stats.NumEvents

	if _, ok := a.seenPeers[source]; !ok {
		a.seenPeers[source] = struct{}{}
		a.stats.DistinctPeers = len(a.seenPeers)
	}
}

func (a *LatencyAccumulator) Snapshot() meshdoc.LatencyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// cursor is a consumer's read position into one source peer's PeerLog:
// the timestamp of the last record consumed, and the next circular slot to
// try reading from.
type cursor struct {
	lastSeenTimestamp uint64
	nextIndex         int32
}

// Consumer reads every other peer's circular log out of a shared PeerDoc,
// tracking one cursor per source peer so repeated calls are idempotent and
// so a ring-buffer wrap that outran this consumer can be detected and
// recovered from (spec.md §4.6).
type Consumer struct {
	self   meshdoc.PeerId
	logger *logx.Logger
	stats  *LatencyAccumulator

	mu      sync.Mutex
	cursors map[meshdoc.PeerId]*cursor
}

func NewConsumer(self meshdoc.PeerId, logger *logx.Logger) *Consumer {
	return &Consumer{
		self:    self,
		logger:  logger,
		stats:   NewLatencyAccumulator(),
		cursors: make(map[meshdoc.PeerId]*cursor),
	}
}

func (c *Consumer) Stats() meshdoc.LatencyStats {
	return c.stats.Snapshot()
}

// ProcessDoc advances every source peer's cursor against the current
// snapshot of doc, as of wall-clock time nowMsec.
func (c *Consumer) ProcessDoc(doc meshdoc.PeerDoc, nowMsec uint64) {
	for source, log := range doc.Logs {
		if source == c.self {
			continue
		}
		c.processSource(source, log, nowMsec)
	}
}

func (c *Consumer) cursorFor(source meshdoc.PeerId) *cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[source]
	if !ok {
		cur = &cursor{nextIndex: 0}
		c.cursors[source] = cur
	}
	return cur
}

// processSource walks forward from cur.nextIndex, reading one slot at a
// time. A slot that is absent, or whose timestamp is strictly less than the
// last one this cursor saw, means the writer hasn't gotten there yet this
// cycle (or the ring wrapped back to a slot it hasn't overwritten since) —
// either way, stop. Otherwise record one latency event and advance. Because
// the oldest live timestamp in the log is always exactly the slot the
// producer will overwrite next, a cursor that starts at the oldest unread
// slot walks the whole ring in timestamp order and then detects its own
// starting slot as stale, so this always terminates without needing an
// explicit step bound.
func (c *Consumer) processSource(source meshdoc.PeerId, log meshdoc.PeerLog, nowMsec uint64) {
	cur := c.cursorFor(source)
	for {
		rec, present := log.Log[strconv.Itoa(int(cur.nextIndex))]
		if !present || rec.Timestamp < cur.lastSeenTimestamp {
			return
		}

		latency := uint64(0)
		if nowMsec > rec.Timestamp {
			latency = nowMsec - rec.Timestamp
		}
		c.stats.Observe(source, latency)
		cur.lastSeenTimestamp = rec.Timestamp
		cur.nextIndex = getNextIndex(cur.nextIndex, log.MaxLogSize)
	}
}
