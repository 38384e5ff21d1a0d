// Package crdt implements the conflict-free replicated document shared by
// every participant of a room. A document is a set of named containers
// (maps, arrays, rich text) mutated through operations that commute, so
// replicas applying the same updates in any order converge byte for byte.
//
// Updates are opaque binary payloads. They can be relayed without parsing,
// merged out of order, and applied more than once: an operation that was
// already integrated is skipped.
//
// A Doc is not safe for concurrent use. Callers serialize access, which in
// this server is the owning room's lock.
package crdt

import (
	"math/rand/v2"
)

// UpdateHandler observes committed updates. The update slice carries the
// exact bytes a remote replica needs; origin identifies the source the
// mutation arrived from and is nil for server-local transactions.
type UpdateHandler func(update []byte, origin any)

// Doc is a replicated document: a keyed collection of CRDT containers
// plus the op log that reproduces them.
type Doc struct {
	actor      uint64
	counter    uint64
	lamport    uint64
	containers map[string]*container
	seen       map[opID]struct{}
	log        []op
	observers  []UpdateHandler
	cur        *txn
	destroyed  bool
}

// txn batches local mutations so one Transact commits as one update.
type txn struct {
	origin any
	ops    []op
	depth  int
}

// NewDoc returns an empty document with a random actor id.
func NewDoc() *Doc {
	return &Doc{
		actor:      uint64(rand.Uint32()) + 1,
		containers: make(map[string]*container),
		seen:       make(map[opID]struct{}),
	}
}

// GetMap returns the named root-level map, creating it lazily.
func (d *Doc) GetMap(name string) *Map {
	return &Map{doc: d, id: name}
}

// GetArray returns the named root-level array, creating it lazily.
func (d *Doc) GetArray(name string) *Array {
	return &Array{doc: d, id: name}
}

// GetText returns the named root-level text, creating it lazily.
func (d *Doc) GetText(name string) *Text {
	return &Text{doc: d, id: name}
}

// Transact runs fn as one transaction. All mutations made inside fn commit
// as a single update delivered to observers with the given origin. Nested
// calls join the outermost transaction.
func (d *Doc) Transact(origin any, fn func()) {
	if d.destroyed {
		return
	}
	if d.cur != nil {
		d.cur.depth++
		fn()
		d.cur.depth--
		return
	}
	d.cur = &txn{origin: origin}
	fn()
	t := d.cur
	d.cur = nil
	if len(t.ops) == 0 {
		return
	}
	update := encodeOps(t.ops)
	for _, h := range d.observers {
		h(update, t.origin)
	}
}

// mutate runs fn inside the current transaction, opening an implicit
// single-mutation transaction when none is active.
func (d *Doc) mutate(fn func(t *txn)) {
	if d.destroyed {
		return
	}
	if d.cur != nil {
		fn(d.cur)
		return
	}
	d.Transact(nil, func() { fn(d.cur) })
}

// nextID allocates the id and lamport stamp for a locally created op.
func (d *Doc) nextID() opID {
	d.counter++
	d.lamport++
	return opID{actor: d.actor, counter: d.counter}
}

// commit applies a locally stamped op and records it in the transaction.
func (d *Doc) commit(t *txn, o op) {
	d.applyOp(o)
	t.ops = append(t.ops, o)
}

// addOp stamps, applies, and records a locally generated op, returning the
// assigned id so sequence inserts can chain on it.
func (d *Doc) addOp(t *txn, o op) opID {
	o.id = d.nextID()
	o.lamport = d.lamport
	d.commit(t, o)
	return o.id
}

// applyOp integrates a single op, reporting whether it was new.
func (d *Doc) applyOp(o op) bool {
	if _, dup := d.seen[o.id]; dup {
		return false
	}
	d.seen[o.id] = struct{}{}
	d.log = append(d.log, o)
	if o.lamport > d.lamport {
		d.lamport = o.lamport
	}
	if o.id.actor == d.actor && o.id.counter > d.counter {
		d.counter = o.id.counter
	}
	c := d.getContainer(o.container)
	switch o.kind {
	case opMapSet:
		c.applyMapSet(o)
	case opMapDelete:
		c.applyMapDelete(o)
	case opSeqInsert:
		c.applySeqInsert(o)
	case opSeqDelete:
		c.applySeqDelete(o)
	}
	return true
}

func (d *Doc) getContainer(id string) *container {
	c, ok := d.containers[id]
	if !ok {
		c = &container{}
		d.containers[id] = c
	}
	return c
}

// ApplyUpdate integrates a remote update. Observers fire with the original
// update bytes exactly once, and only when the update contained at least
// one op this document had not seen.
func (d *Doc) ApplyUpdate(update []byte, origin any) error {
	if d.destroyed {
		return nil
	}
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}
	applied := 0
	for _, o := range ops {
		if d.applyOp(o) {
			applied++
		}
	}
	if applied == 0 {
		return nil
	}
	for _, h := range d.observers {
		h(update, origin)
	}
	return nil
}

// EncodeStateAsUpdate returns an update that reproduces the full document
// state, tombstones included, when applied to any replica.
func (d *Doc) EncodeStateAsUpdate() []byte {
	return encodeOps(d.log)
}

// OnUpdate registers a handler for committed updates.
func (d *Doc) OnUpdate(h UpdateHandler) {
	d.observers = append(d.observers, h)
}

// OpCount returns the number of integrated operations.
func (d *Doc) OpCount() int {
	return len(d.log)
}

// Destroy drops the document state and detaches all observers. Further
// mutations and updates are ignored.
func (d *Doc) Destroy() {
	d.destroyed = true
	d.observers = nil
	d.containers = make(map[string]*container)
	d.seen = make(map[opID]struct{})
	d.log = nil
}
