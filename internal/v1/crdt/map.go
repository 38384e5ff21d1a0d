package crdt

// Map is a handle on a replicated key-value container. Concurrent writes
// to the same key resolve last-writer-wins on the (lamport, actor) stamp.
type Map struct {
	doc *Doc
	id  string
}

// Set stores a primitive value under key. Supported Go types are nil,
// bool, integers, float64, string, and Value itself.
func (m *Map) Set(key string, value any) {
	m.doc.mutate(func(t *txn) {
		m.doc.addOp(t, op{kind: opMapSet, container: m.id, key: key, value: toValue(value)})
	})
}

// SetMap stores a fresh nested map under key and returns its handle.
func (m *Map) SetMap(key string) *Map {
	return &Map{doc: m.doc, id: m.setRef(key, ValueMapRef)}
}

// SetArray stores a fresh nested array under key and returns its handle.
func (m *Map) SetArray(key string) *Array {
	return &Array{doc: m.doc, id: m.setRef(key, ValueArrayRef)}
}

// SetText stores a fresh nested text under key and returns its handle.
func (m *Map) SetText(key string) *Text {
	return &Text{doc: m.doc, id: m.setRef(key, ValueTextRef)}
}

func (m *Map) setRef(key string, kind ValueKind) string {
	var ref string
	m.doc.mutate(func(t *txn) {
		id := m.doc.nextID()
		ref = id.containerRef()
		m.doc.commit(t, op{
			id:        id,
			lamport:   m.doc.lamport,
			kind:      opMapSet,
			container: m.id,
			key:       key,
			value:     Value{Kind: kind, Str: ref},
		})
	})
	return ref
}

// Delete removes key. A concurrent set with a higher stamp wins.
func (m *Map) Delete(key string) {
	m.doc.mutate(func(t *txn) {
		m.doc.addOp(t, op{kind: opMapDelete, container: m.id, key: key})
	})
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	c, ok := m.doc.containers[m.id]
	if !ok || c.entries == nil {
		return Value{}, false
	}
	e, ok := c.entries[key]
	if !ok || !e.present {
		return Value{}, false
	}
	return e.value, true
}

// GetMap returns the nested map stored under key, or nil.
func (m *Map) GetMap(key string) *Map {
	if v, ok := m.Get(key); ok && v.Kind == ValueMapRef {
		return &Map{doc: m.doc, id: v.Str}
	}
	return nil
}

// GetArray returns the nested array stored under key, or nil.
func (m *Map) GetArray(key string) *Array {
	if v, ok := m.Get(key); ok && v.Kind == ValueArrayRef {
		return &Array{doc: m.doc, id: v.Str}
	}
	return nil
}

// GetText returns the nested text stored under key, or nil.
func (m *Map) GetText(key string) *Text {
	if v, ok := m.Get(key); ok && v.Kind == ValueTextRef {
		return &Text{doc: m.doc, id: v.Str}
	}
	return nil
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of present keys.
func (m *Map) Len() int {
	return len(m.Keys())
}

// Keys returns the present keys in sorted order.
func (m *Map) Keys() []string {
	c, ok := m.doc.containers[m.id]
	if !ok {
		return nil
	}
	return c.liveKeys()
}

// Str returns the string stored under key, or "" when absent or non-string.
func (m *Map) Str(key string) string {
	if v, ok := m.Get(key); ok && v.Kind == ValueString {
		return v.Str
	}
	return ""
}

// Int returns the integer stored under key, or 0 when absent or non-integer.
func (m *Map) Int(key string) int64 {
	if v, ok := m.Get(key); ok && v.Kind == ValueInt {
		return v.Int
	}
	return 0
}

// Bool returns the boolean stored under key, or false when absent.
func (m *Map) Bool(key string) bool {
	if v, ok := m.Get(key); ok && v.Kind == ValueBool {
		return v.Bool
	}
	return false
}
