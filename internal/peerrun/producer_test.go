package peerrun

import (
	"fmt"
	"testing"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/store"
)

func TestGetNextIndexWraps(t *testing.T) {
	cases := []struct {
		last int32
		max  uint32
		want int32
	}{
		{-1, 4, 0},
		{0, 4, 1},
		{3, 4, 0},
		{1, 2, 0},
	}
	for _, tc := range cases {
		if got := getNextIndex(tc.last, tc.max); got != tc.want {
			t.Errorf("getNextIndex(%d, %d) = %d, want %d", tc.last, tc.max, got, tc.want)
		}
	}
}

// TestProducerSendWrapsRingBuffer matches spec scenario 3: once a peer has
// produced more records than its log can hold, older slots are overwritten
// and the log never grows beyond MaxLogSize entries.
func TestProducerSendWrapsRingBuffer(t *testing.T) {
	st := store.NewStore()
	coll := store.OpenCollection[meshdoc.PeerDoc](st, "peers")
	docID := store.NewDocID()
	if err := EnsurePeerDoc(coll, docID); err != nil {
		t.Fatalf("ensure peer doc: %v", err)
	}

	p := &Producer{coll: coll, docID: docID, self: "p1", maxLogSize: 2, logger: logx.New(logx.Config{Level: logx.ERROR})}
	for i := 0; i < 5; i++ {
		if err := p.send(fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	doc, ok := coll.FindByID(docID)
	if !ok {
		t.Fatal("expected peer doc to exist")
	}
	log := doc.Logs["p1"]
	if len(log.Log) != 2 {
		t.Fatalf("expected ring buffer capped at 2 slots, got %d", len(log.Log))
	}
	if log.LastIndex != 0 {
		t.Fatalf("expected last written index 0 after 5 writes into a size-2 ring, got %d", log.LastIndex)
	}
	if log.Log["0"].Data != "msg-4" {
		t.Fatalf("expected slot 0 to hold the most recent wrap-around write, got %q", log.Log["0"].Data)
	}
	if log.Log["1"].Data != "msg-3" {
		t.Fatalf("expected slot 1 to hold msg-3, got %q", log.Log["1"].Data)
	}
}
