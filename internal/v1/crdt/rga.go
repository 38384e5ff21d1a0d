package crdt

import "sort"

// seqElem is one element of a replicated sequence. Deleted elements stay
// as tombstones so concurrent inserts anchored on them keep their position.
type seqElem struct {
	id      opID
	lamport uint64
	value   Value
	deleted bool
}

// rga is a replicated growable array. Elements form a tree rooted at the
// zero opID: each element's parent is the element it was inserted after.
// The document order is a depth-first walk with siblings visited in
// descending (lamport, actor) order, which places concurrent runs without
// interleaving them.
type rga struct {
	elems    map[opID]*seqElem
	children map[opID][]opID
}

func newRGA() *rga {
	return &rga{
		elems:    make(map[opID]*seqElem),
		children: make(map[opID][]opID),
	}
}

// integrate inserts a new element under its origin. Elements whose origin
// has not arrived yet stay parked in the children index and become visible
// once the origin integrates.
func (r *rga) integrate(e *seqElem, origin opID) {
	if _, ok := r.elems[e.id]; ok {
		return
	}
	r.elems[e.id] = e
	siblings := r.children[origin]
	idx := sort.Search(len(siblings), func(i int) bool {
		return r.before(e.id, siblings[i])
	})
	siblings = append(siblings, opID{})
	copy(siblings[idx+1:], siblings[idx:])
	siblings[idx] = e.id
	r.children[origin] = siblings
}

// before reports whether element a sorts ahead of element b among siblings.
// Higher lamport wins; ties break on the higher actor id.
func (r *rga) before(a, b opID) bool {
	la, lb := r.elems[a].lamport, r.elems[b].lamport
	if la != lb {
		return la > lb
	}
	return a.actor > b.actor
}

func (r *rga) remove(target opID) {
	if e, ok := r.elems[target]; ok {
		e.deleted = true
	}
}

// order returns element ids in document order, tombstones included.
// The walk is iterative: long runs of sequential inserts form deep chains.
func (r *rga) order() []opID {
	out := make([]opID, 0, len(r.elems))
	stack := make([]opID, 0, len(r.elems))
	pushChildren := func(parent opID) {
		kids := r.children[parent]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	pushChildren(opID{})
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, id)
		pushChildren(id)
	}
	return out
}

// visible returns the live elements in document order.
func (r *rga) visible() []*seqElem {
	out := make([]*seqElem, 0, len(r.elems))
	for _, id := range r.order() {
		if e := r.elems[id]; !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

func (r *rga) length() int {
	n := 0
	for _, e := range r.elems {
		if !e.deleted {
			n++
		}
	}
	return n
}
