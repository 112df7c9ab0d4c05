package peerrun

import (
	"context"
	"sync"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// Heartbeater owns this peer's single entry in the shared heartbeats
// document, publishing it on a fixed cadence and immediately on every state
// transition (spec.md §4.4).
type Heartbeater struct {
	coll     *store.Collection[meshdoc.HeartbeatsDoc]
	docID    store.DocID
	interval time.Duration
	logger   *logx.Logger

	mu   sync.Mutex
	self meshdoc.Peer

	stop chan struct{}
	done chan struct{}
}

func NewHeartbeater(coll *store.Collection[meshdoc.HeartbeatsDoc], docID store.DocID, self meshdoc.Peer, logger *logx.Logger) *Heartbeater {
	return &Heartbeater{
		coll:     coll,
		docID:    docID,
		interval: meshdoc.QuorumHeartbeatInterval,
		self:     self,
		logger:   logger,
	}
}

// SetState updates this peer's reported lifecycle state and publishes it
// immediately, rather than waiting for the next tick.
func (h *Heartbeater) SetState(s meshdoc.PeerState) {
	h.mu.Lock()
	h.self.State = s
	h.mu.Unlock()
	if err := h.publish(); err != nil {
		h.logger.Warn("heartbeat publish on state change failed", logx.Err(err))
	}
}

func (h *Heartbeater) publish() error {
	h.mu.Lock()
	self := h.self
	h.mu.Unlock()
	return h.coll.Update(h.docID, func(doc *meshdoc.HeartbeatsDoc) {
		doc.Beats[self.PeerId] = meshdoc.Heartbeat{Sender: self, SentAtMsec: meshdoc.NowMsec()}
	})
}

// Start begins the periodic publish loop in the background. Stop must be
// called to release it.
func (h *Heartbeater) Start(ctx context.Context) {
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.loop(ctx)
}

func (h *Heartbeater) loop(ctx context.Context) {
	defer close(h.done)
	if err := h.publish(); err != nil {
		h.logger.Warn("initial heartbeat publish failed", logx.Err(err))
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.publish(); err != nil {
				h.logger.Warn("heartbeat publish failed", logx.Err(err))
			}
		}
	}
}

func (h *Heartbeater) Stop() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
}
