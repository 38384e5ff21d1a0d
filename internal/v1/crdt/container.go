package crdt

import "sort"

// mapEntry is a last-writer-wins register. Deletions keep the winning
// stamp so a stale concurrent set cannot resurrect the key.
type mapEntry struct {
	value   Value
	lamport uint64
	actor   uint64
	present bool
}

// container holds the state of one addressable CRDT object. Map and
// sequence structures are initialized lazily, so a container can serve
// whichever access pattern its ops use.
type container struct {
	entries map[string]mapEntry
	seq     *rga
}

func (c *container) mapEntries() map[string]mapEntry {
	if c.entries == nil {
		c.entries = make(map[string]mapEntry)
	}
	return c.entries
}

func (c *container) sequence() *rga {
	if c.seq == nil {
		c.seq = newRGA()
	}
	return c.seq
}

// stampWins reports whether the (lamport, actor) stamp of o beats the
// entry currently stored under the op's key.
func stampWins(cur mapEntry, o op) bool {
	if o.lamport != cur.lamport {
		return o.lamport > cur.lamport
	}
	return o.id.actor > cur.actor
}

func (c *container) applyMapSet(o op) {
	entries := c.mapEntries()
	if cur, ok := entries[o.key]; ok && !stampWins(cur, o) {
		return
	}
	entries[o.key] = mapEntry{value: o.value, lamport: o.lamport, actor: o.id.actor, present: true}
}

func (c *container) applyMapDelete(o op) {
	entries := c.mapEntries()
	if cur, ok := entries[o.key]; ok && !stampWins(cur, o) {
		return
	}
	entries[o.key] = mapEntry{lamport: o.lamport, actor: o.id.actor, present: false}
}

func (c *container) applySeqInsert(o op) {
	c.sequence().integrate(&seqElem{id: o.id, lamport: o.lamport, value: o.value}, o.origin)
}

func (c *container) applySeqDelete(o op) {
	c.sequence().remove(o.target)
}

// liveKeys returns present map keys in sorted order.
func (c *container) liveKeys() []string {
	if c.entries == nil {
		return nil
	}
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if e.present {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
