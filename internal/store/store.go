// Package store implements the replicated document-store capability surface
// described in spec.md §4.1 and §6.1: open_collection, upsert, find_by_id
// (exec/subscribe/observe_local), find_all, and update with a path-targeted
// mutator. The real store is an external collaborator (spec.md §1); this
// package is the in-process stand-in the coordinator and peer code is
// written against, and the one used by every test in this repository.
//
// Every document crosses a genuine serialization boundary on every read and
// write: internally each collection holds structpb.Struct values, built and
// decoded via internal/meshdoc.ToWire/FromWire. This is what gives
// spec.md §3's "self-describing serialization; field names are canonical"
// concrete teeth, rather than leaving it as a comment over a plain map of Go
// structs.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// DocID is an opaque document identifier, string-formatted for use as a map
// key and for ExecutionPlan.PeerDocID round-tripping (spec.md's "opaque-bytes").
type DocID string

// NewDocID generates a random document id, matching the teacher's
// kernel/utils.GenerateID (crypto/rand-backed hex), for collections where the
// caller doesn't supply its own id.
func NewDocID() DocID {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("store: crypto/rand failed: %v", err))
	}
	return DocID(hex.EncodeToString(b))
}

// DocIDFromBytes adapts the opaque-bytes PeerDocID carried in an
// ExecutionPlan into the DocID a Collection expects.
func DocIDFromBytes(b []byte) DocID {
	return DocID(hex.EncodeToString(b))
}

func (d DocID) Bytes() []byte {
	b, _ := hex.DecodeString(string(d))
	return b
}

// ObserverToken is returned by Subscribe and ObserveLocal; cancelling it
// stops delivery, matching spec.md §5's "subscriptions and observer tokens
// must outlive their usefulness; dropping them cancels delivery".
type ObserverToken struct {
	cancel func()
}

func (t ObserverToken) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

type dispatchEvent[T any] struct {
	id  DocID
	doc T
}

// Collection is a typed handle to a named collection of documents of type T.
type Collection[T any] struct {
	name string

	mu   sync.RWMutex
	docs map[DocID]*structpb.Struct

	obsMu     sync.Mutex
	observers map[int]func(DocID, T)
	nextObsID int

	events chan dispatchEvent[T]
}

func newCollection[T any](name string) *Collection[T] {
	c := &Collection[T]{
		name:      name,
		docs:      make(map[DocID]*structpb.Struct),
		observers: make(map[int]func(DocID, T)),
		events:    make(chan dispatchEvent[T], 256),
	}
	go c.dispatchLoop()
	return c
}

// dispatchLoop is the collection's own executor: observer callbacks run here,
// never on the writer's goroutine, matching spec.md §4.1's "invoked from the
// store's own executor" contract.
func (c *Collection[T]) dispatchLoop() {
	for ev := range c.events {
		c.obsMu.Lock()
		cbs := make([]func(DocID, T), 0, len(c.observers))
		for _, cb := range c.observers {
			cbs = append(cbs, cb)
		}
		c.obsMu.Unlock()
		for _, cb := range cbs {
			cb(ev.id, ev.doc)
		}
	}
}

func (c *Collection[T]) publish(id DocID, doc T) {
	select {
	case c.events <- dispatchEvent[T]{id: id, doc: doc}:
	default:
		go func() { c.events <- dispatchEvent[T]{id: id, doc: doc} }()
	}
}

// Upsert inserts or fully replaces the document at id. If id is empty, a
// fresh id is generated (the common case for singleton collections created
// at startup).
func (c *Collection[T]) Upsert(id DocID, doc T) (DocID, error) {
	if id == "" {
		id = NewDocID()
	}
	s, err := meshdoc.ToWire(doc)
	if err != nil {
		return "", fmt.Errorf("store: upsert into %s: %w", c.name, err)
	}
	c.mu.Lock()
	c.docs[id] = s
	c.mu.Unlock()
	c.publish(id, doc)
	return id, nil
}

// UpsertIfAbsent upserts doc only if id has no current value, matching
// spec.md §4.6's "upsert-if-absent semantics" for PeerDoc installation. It
// reports whether it actually wrote.
func (c *Collection[T]) UpsertIfAbsent(id DocID, doc T) (wrote bool, err error) {
	c.mu.Lock()
	if _, exists := c.docs[id]; exists {
		c.mu.Unlock()
		return false, nil
	}
	s, err := meshdoc.ToWire(doc)
	if err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("store: upsert-if-absent into %s: %w", c.name, err)
	}
	c.docs[id] = s
	c.mu.Unlock()
	c.publish(id, doc)
	return true, nil
}

// FindByID is the .exec() terminal of find_by_id(id): it returns the current
// document, or ok=false if absent or undecodable (a deserialization error is
// never fatal, spec.md §7; the caller sees only "absent").
func (c *Collection[T]) FindByID(id DocID) (doc T, ok bool) {
	c.mu.RLock()
	s, present := c.docs[id]
	c.mu.RUnlock()
	if !present {
		return doc, false
	}
	if err := meshdoc.FromWire(s, &doc); err != nil {
		return doc, false
	}
	return doc, true
}

// FindAll is the .exec() terminal of find_all(): every currently stored
// document, keyed by id. Deserialization failures are skipped, never fatal.
func (c *Collection[T]) FindAll() map[DocID]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[DocID]T, len(c.docs))
	for id, s := range c.docs {
		var v T
		if err := meshdoc.FromWire(s, &v); err == nil {
			out[id] = v
		}
	}
	return out
}

// Update performs an atomic read-modify-write: mutate receives the current
// document and edits it in place. It fails if the document is absent,
// matching spec.md §4.1. Because every writer in this protocol owns a
// disjoint sub-path of its document (beats[own_id] or logs[own_id].log[i]),
// holding the collection's own mutex across the whole read-modify-write is
// sufficient to give the same outcome as the real store's path-targeted LWW:
// no two callers ever contend on the same sub-path.
func (c *Collection[T]) Update(id DocID, mutate func(*T)) error {
	c.mu.Lock()
	s, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("store: update %s/%s: document absent", c.name, id)
	}
	var cur T
	if err := meshdoc.FromWire(s, &cur); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store: update %s/%s: decode: %w", c.name, id, err)
	}
	mutate(&cur)
	ns, err := meshdoc.ToWire(cur)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store: update %s/%s: encode: %w", c.name, id, err)
	}
	c.docs[id] = ns
	c.mu.Unlock()
	c.publish(id, cur)
	return nil
}

// ObserveLocal registers cb to be invoked (from the collection's own
// executor goroutine) on every insert, upsert, or update. The callback must
// not block (spec.md §5).
func (c *Collection[T]) ObserveLocal(cb func(id DocID, doc T)) ObserverToken {
	c.obsMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = cb
	c.obsMu.Unlock()
	return ObserverToken{cancel: func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}}
}

// Subscribe requests replication without a local callback. The in-process
// store has no remote peer to replicate to or from, so this is a no-op
// beyond returning a token callers are expected to retain for the lifetime
// of their interest (spec.md §4.1/§5), the same discipline the real store
// requires.
func (c *Collection[T]) Subscribe() ObserverToken {
	return ObserverToken{cancel: func() {}}
}

// Store is the top-level open_collection capability: repeated calls with the
// same name and type return the same underlying collection.
type Store struct {
	mu          sync.Mutex
	collections map[string]any
}

func NewStore() *Store {
	return &Store{collections: make(map[string]any)}
}

// OpenCollection returns the named collection, creating it on first use.
// Idempotent: distinct callers asking for the same name (and the same type
// parameter) receive the same handle.
func OpenCollection[T any](s *Store, name string) *Collection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.collections[name]; ok {
		return existing.(*Collection[T])
	}
	c := newCollection[T](name)
	s.collections[name] = c
	return c
}
