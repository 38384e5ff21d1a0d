package crdt

// Array is a handle on a replicated ordered list.
type Array struct {
	doc *Doc
	id  string
}

// Insert places a primitive value at index. Out-of-range indices clamp to
// the nearest end.
func (a *Array) Insert(index int, value any) {
	a.doc.mutate(func(t *txn) {
		a.doc.addOp(t, op{
			kind:      opSeqInsert,
			container: a.id,
			origin:    a.originFor(index),
			value:     toValue(value),
		})
	})
}

// Push appends a primitive value.
func (a *Array) Push(value any) {
	a.Insert(a.Len(), value)
}

// Delete removes the element at index. Out-of-range indices are ignored.
func (a *Array) Delete(index int) {
	a.doc.mutate(func(t *txn) {
		elems := a.seq().visible()
		if index < 0 || index >= len(elems) {
			return
		}
		a.doc.addOp(t, op{kind: opSeqDelete, container: a.id, target: elems[index].id})
	})
}

// Get returns the value at index.
func (a *Array) Get(index int) (Value, bool) {
	elems := a.seq().visible()
	if index < 0 || index >= len(elems) {
		return Value{}, false
	}
	return elems[index].value, true
}

// Len returns the number of live elements.
func (a *Array) Len() int {
	return a.seq().length()
}

// Strings returns the string elements in document order, skipping any
// non-string values.
func (a *Array) Strings() []string {
	elems := a.seq().visible()
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if e.value.Kind == ValueString {
			out = append(out, e.value.Str)
		}
	}
	return out
}

// originFor resolves the insert-after anchor for a clamped index.
func (a *Array) originFor(index int) opID {
	elems := a.seq().visible()
	if index <= 0 || len(elems) == 0 {
		return opID{}
	}
	if index > len(elems) {
		index = len(elems)
	}
	return elems[index-1].id
}

func (a *Array) seq() *rga {
	return a.doc.getContainer(a.id).sequence()
}
