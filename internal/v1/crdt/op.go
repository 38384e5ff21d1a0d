package crdt

import "fmt"

// opID uniquely identifies an operation as (actor, per-actor counter).
// The zero opID is the sequence head sentinel.
type opID struct {
	actor   uint64
	counter uint64
}

func (id opID) isZero() bool {
	return id.actor == 0 && id.counter == 0
}

// containerRef derives the container id owned by the operation that created
// it. The "$" prefix keeps generated ids disjoint from named root containers.
func (id opID) containerRef() string {
	return fmt.Sprintf("$%d:%d", id.actor, id.counter)
}

type opKind uint8

const (
	opMapSet opKind = iota + 1
	opMapDelete
	opSeqInsert
	opSeqDelete
)

// op is a single replicated mutation. Updates on the wire are flat lists
// of ops; applying an op twice is a no-op, so updates may overlap freely.
type op struct {
	id        opID
	lamport   uint64
	container string
	kind      opKind
	key       string // opMapSet, opMapDelete
	value     Value  // opMapSet, opSeqInsert
	origin    opID   // opSeqInsert: predecessor element, zero for head
	target    opID   // opSeqDelete
}

func encodeOps(ops []op) []byte {
	e := NewEncoder()
	e.WriteVarUint(uint64(len(ops)))
	for _, o := range ops {
		e.WriteVarUint(o.id.actor)
		e.WriteVarUint(o.id.counter)
		e.WriteVarUint(o.lamport)
		e.WriteUint8(byte(o.kind))
		e.WriteVarString(o.container)
		switch o.kind {
		case opMapSet:
			e.WriteVarString(o.key)
			writeValue(e, o.value)
		case opMapDelete:
			e.WriteVarString(o.key)
		case opSeqInsert:
			e.WriteVarUint(o.origin.actor)
			e.WriteVarUint(o.origin.counter)
			writeValue(e, o.value)
		case opSeqDelete:
			e.WriteVarUint(o.target.actor)
			e.WriteVarUint(o.target.counter)
		}
	}
	return e.Bytes()
}

func decodeOps(update []byte) ([]op, error) {
	d := NewDecoder(update)
	count, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	ops := make([]op, 0, min(count, 4096))
	for i := uint64(0); i < count; i++ {
		var o op
		if o.id.actor, err = d.ReadVarUint(); err != nil {
			return nil, err
		}
		if o.id.counter, err = d.ReadVarUint(); err != nil {
			return nil, err
		}
		if o.lamport, err = d.ReadVarUint(); err != nil {
			return nil, err
		}
		kind, err := d.ReadUint8()
		if err != nil {
			return nil, err
		}
		o.kind = opKind(kind)
		if o.container, err = d.ReadVarString(); err != nil {
			return nil, err
		}
		switch o.kind {
		case opMapSet:
			if o.key, err = d.ReadVarString(); err != nil {
				return nil, err
			}
			if o.value, err = readValue(d); err != nil {
				return nil, err
			}
		case opMapDelete:
			if o.key, err = d.ReadVarString(); err != nil {
				return nil, err
			}
		case opSeqInsert:
			if o.origin.actor, err = d.ReadVarUint(); err != nil {
				return nil, err
			}
			if o.origin.counter, err = d.ReadVarUint(); err != nil {
				return nil, err
			}
			if o.value, err = readValue(d); err != nil {
				return nil, err
			}
		case opSeqDelete:
			if o.target.actor, err = d.ReadVarUint(); err != nil {
				return nil, err
			}
			if o.target.counter, err = d.ReadVarUint(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("crdt: unknown op kind %d", kind)
		}
		ops = append(ops, o)
	}
	return ops, nil
}
