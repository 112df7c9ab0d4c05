// Package peerrun implements a peer process's side of the lifecycle
// protocol: discovering the coordinator, reporting heartbeats, producing and
// consuming circular-log records, and writing a final report. Grounded on
// original_source/container-mesh/peer/src/main.rs (bootstrap discovery,
// heartbeat thread, producer/consumer loops) and the teacher's goroutine +
// channel idioms for long-running background work.
package peerrun

import (
	"sort"
	"time"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

// Bootstrap polls until a coord-info document exists, reads the heartbeat
// collection name it advertises (CoordinatorInfo.HeartbeatCollectionName),
// then polls until a heartbeats document exists there too. Normally each
// collection holds exactly one document; if startup races ever produce more
// than one (this in-process store is a singleton collection by name, but the
// real store's eventual consistency could surface duplicates), the lowest
// DocID wins deterministically and the ambiguity is logged rather than
// treated as fatal.
func Bootstrap(st *store.Store, coordCollectionName string, logger *logx.Logger, pollInterval time.Duration) (coordDocID, hbDocID store.DocID, hbCollectionName string, err error) {
	if pollInterval <= 0 {
		pollInterval = meshdoc.QueryPollInterval
	}
	if coordCollectionName == "" {
		coordCollectionName = meshdoc.CoordCollectionName
	}

	coordColl := store.OpenCollection[meshdoc.CoordinatorInfo](st, coordCollectionName)
	coordDocID = waitForSingleton(coordColl, pollInterval, logger, "coord-info")

	hbCollectionName = meshdoc.HeartbeatCollectionName
	if info, ok := coordColl.FindByID(coordDocID); ok && info.HeartbeatCollectionName != "" {
		hbCollectionName = info.HeartbeatCollectionName
	}

	hbColl := store.OpenCollection[meshdoc.HeartbeatsDoc](st, hbCollectionName)
	hbDocID = waitForSingleton(hbColl, pollInterval, logger, "heartbeats")

	return coordDocID, hbDocID, hbCollectionName, nil
}

func waitForSingleton[T any](c *store.Collection[T], pollInterval time.Duration, logger *logx.Logger, label string) store.DocID {
	for {
		all := c.FindAll()
		if len(all) > 0 {
			ids := make([]store.DocID, 0, len(all))
			for id := range all {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			if len(ids) > 1 {
				logger.Warn("multiple documents found during bootstrap, picking lowest id",
					logx.String("collection", label), logx.Int("count", len(ids)))
			}
			return ids[0]
		}
		time.Sleep(pollInterval)
	}
}
