// Package awareness tracks the ephemeral presence states of a room:
// cursors, selections, user colors. States are keyed by the numeric client
// id each editor instance picks for itself and versioned by a per-client
// clock, so stale updates never overwrite fresher ones.
//
// The wire format is a flat list of entries:
//
//	varUint count
//	count times: varUint clientID, varUint clock, varString state
//
// where state is a JSON document and the literal "null" marks removal.
// Like the document CRDT, an Awareness is not safe for concurrent use;
// the owning room's lock serializes access.
package awareness

import (
	"sort"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
)

// removedState marks a client as departed while remembering its clock.
const removedState = "null"

// UpdateHandler observes applied presence updates. The update contains
// only the entries that changed; origin identifies the source socket and
// is nil for server-initiated changes.
type UpdateHandler func(update []byte, origin any)

type entry struct {
	clock uint64
	state string
}

// Awareness holds the presence table of one room.
type Awareness struct {
	states    map[uint64]entry
	observers []UpdateHandler
	destroyed bool
}

// New returns an empty presence table.
func New() *Awareness {
	return &Awareness{states: make(map[uint64]entry)}
}

// OnUpdate registers a handler for applied updates.
func (a *Awareness) OnUpdate(h UpdateHandler) {
	a.observers = append(a.observers, h)
}

// ApplyUpdate merges a remote presence update. An entry applies when its
// clock is newer, or equal while marking a removal. Handlers receive a
// re-encoded update holding exactly the entries that changed.
func (a *Awareness) ApplyUpdate(update []byte, origin any) error {
	if a.destroyed {
		return nil
	}
	entries, err := decodeEntries(update)
	if err != nil {
		return err
	}
	changed := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		cur, known := a.states[e.clientID]
		if known {
			if e.clock < cur.clock {
				continue
			}
			if e.clock == cur.clock && e.state != removedState {
				continue
			}
		}
		a.states[e.clientID] = entry{clock: e.clock, state: e.state}
		changed = append(changed, e)
	}
	if len(changed) == 0 {
		return nil
	}
	a.emit(encodeEntries(changed), origin)
	return nil
}

// RemoveClients marks the given client ids as departed, bumping each
// clock so the removal outranks any state the client published before.
// Clients the table never saw are skipped.
func (a *Awareness) RemoveClients(clientIDs []uint64, origin any) {
	if a.destroyed {
		return
	}
	removed := make([]wireEntry, 0, len(clientIDs))
	for _, id := range clientIDs {
		cur, known := a.states[id]
		if !known || cur.state == removedState {
			continue
		}
		next := entry{clock: cur.clock + 1, state: removedState}
		a.states[id] = next
		removed = append(removed, wireEntry{clientID: id, clock: next.clock, state: next.state})
	}
	if len(removed) == 0 {
		return
	}
	a.emit(encodeEntries(removed), origin)
}

// EncodeAll returns an update carrying every present client's state,
// suitable as the initial snapshot for a newly attached socket.
func (a *Awareness) EncodeAll() []byte {
	entries := make([]wireEntry, 0, len(a.states))
	for id, e := range a.states {
		if e.state == removedState {
			continue
		}
		entries = append(entries, wireEntry{clientID: id, clock: e.clock, state: e.state})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].clientID < entries[j].clientID })
	return encodeEntries(entries)
}

// Count returns the number of present clients.
func (a *Awareness) Count() int {
	n := 0
	for _, e := range a.states {
		if e.state != removedState {
			n++
		}
	}
	return n
}

// States returns the present client states keyed by client id.
func (a *Awareness) States() map[uint64]string {
	out := make(map[uint64]string, len(a.states))
	for id, e := range a.states {
		if e.state != removedState {
			out[id] = e.state
		}
	}
	return out
}

// Destroy drops all presence state and detaches observers.
func (a *Awareness) Destroy() {
	a.destroyed = true
	a.observers = nil
	a.states = make(map[uint64]entry)
}

func (a *Awareness) emit(update []byte, origin any) {
	for _, h := range a.observers {
		h(update, origin)
	}
}

type wireEntry struct {
	clientID uint64
	clock    uint64
	state    string
}

func encodeEntries(entries []wireEntry) []byte {
	e := crdt.NewEncoder()
	e.WriteVarUint(uint64(len(entries)))
	for _, ent := range entries {
		e.WriteVarUint(ent.clientID)
		e.WriteVarUint(ent.clock)
		e.WriteVarString(ent.state)
	}
	return e.Bytes()
}

func decodeEntries(update []byte) ([]wireEntry, error) {
	d := crdt.NewDecoder(update)
	count, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	entries := make([]wireEntry, 0, min(count, 1024))
	for i := uint64(0); i < count; i++ {
		var ent wireEntry
		if ent.clientID, err = d.ReadVarUint(); err != nil {
			return nil, err
		}
		if ent.clock, err = d.ReadVarUint(); err != nil {
			return nil, err
		}
		if ent.state, err = d.ReadVarString(); err != nil {
			return nil, err
		}
		entries = append(entries, ent)
	}
	return entries, nil
}

// ReadUpdateClientIDs parses a presence update just far enough to list the
// client ids it mentions. The transport uses this to learn which ids a
// socket claims without applying the update.
func ReadUpdateClientIDs(update []byte) ([]uint64, error) {
	entries, err := decodeEntries(update)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.clientID)
	}
	return ids, nil
}
