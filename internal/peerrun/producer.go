package peerrun

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// EnsurePeerDoc installs an empty PeerDoc at docID if one isn't already
// present, matching spec.md §4.6's upsert-if-absent bootstrap of the shared
// peer document.
func EnsurePeerDoc(coll *store.Collection[meshdoc.PeerDoc], docID store.DocID) error {
	_, err := coll.UpsertIfAbsent(docID, meshdoc.PeerDoc{ID: docID.Bytes(), Logs: make(map[meshdoc.PeerId]meshdoc.PeerLog)})
	return err
}

// getNextIndex returns the circular slot to write (or read) after lastIndex,
// wrapping back to 0 once maxLogSize is reached. lastIndex of -1 (an empty
// log) yields slot 0.
func getNextIndex(lastIndex int32, maxLogSize uint32) int32 {
	return (lastIndex + 1) % int32(maxLogSize)
}

// Producer owns exactly one PeerLog sub-entry (keyed by its own PeerId) in
// the shared PeerDoc, writing records into a fixed-size circular buffer at a
// randomized cadence within [minDelay, maxDelay) (spec.md §4.6).
type Producer struct {
	coll       *store.Collection[meshdoc.PeerDoc]
	docID      store.DocID
	self       meshdoc.PeerId
	maxLogSize uint32
	minDelay   time.Duration
	maxDelay   time.Duration
	rng        *rand.Rand
	logger     *logx.Logger
	sent       atomic.Uint64
}

func NewProducer(coll *store.Collection[meshdoc.PeerDoc], docID store.DocID, self meshdoc.PeerId, maxLogSize uint32, minDelay, maxDelay time.Duration, rng *rand.Rand, logger *logx.Logger) *Producer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Producer{
		coll:       coll,
		docID:      docID,
		self:       self,
		maxLogSize: maxLogSize,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		rng:        rng,
		logger:     logger,
	}
}

func (p *Producer) send(data string) error {
	err := p.coll.Update(p.docID, func(doc *meshdoc.PeerDoc) {
		log, ok := doc.Logs[p.self]
		if !ok {
			log = meshdoc.NewPeerLog(p.maxLogSize)
		}
		idx := getNextIndex(log.LastIndex, log.MaxLogSize)
		log.Log[strconv.Itoa(int(idx))] = meshdoc.PeerRecord{
			Timestamp: meshdoc.NowMsec(),
			Data:      data,
		}
		log.LastIndex = idx
		doc.Logs[p.self] = log
	})
	if err == nil {
		p.sent.Add(1)
	}
	return err
}

// Count returns the number of records successfully written so far.
func (p *Producer) Count() uint64 {
	return p.sent.Load()
}

func (p *Producer) randomDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	span := int64(p.maxDelay - p.minDelay)
	return p.minDelay + time.Duration(p.rng.Int63n(span))
}

// Run sends records, built by payload, at a randomized [minDelay, maxDelay)
// cadence until ctx is cancelled.
func (p *Producer) Run(ctx context.Context, payload func() string) {
	for {
		if err := p.send(payload()); err != nil {
			p.logger.Warn("producer send failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.randomDelay()):
		}
	}
}
