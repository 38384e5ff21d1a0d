package crdt

import "strings"

// Text is a handle on a replicated rune sequence. Indices count runes,
// not bytes, matching how collaborative editors address positions.
type Text struct {
	doc *Doc
	id  string
}

// Insert places s at the given rune index. The runes chain on each other,
// so a remote replica integrates the whole run contiguously.
func (t *Text) Insert(index int, s string) {
	if s == "" {
		return
	}
	t.doc.mutate(func(tx *txn) {
		prev := t.originFor(index)
		for _, r := range s {
			prev = t.doc.addOp(tx, op{
				kind:      opSeqInsert,
				container: t.id,
				origin:    prev,
				value:     Value{Kind: ValueString, Str: string(r)},
			})
		}
	})
}

// Delete removes n runes starting at index. The range clamps to the
// visible text.
func (t *Text) Delete(index int, n int) {
	if n <= 0 {
		return
	}
	t.doc.mutate(func(tx *txn) {
		elems := t.seq().visible()
		if index < 0 {
			index = 0
		}
		for i := index; i < index+n && i < len(elems); i++ {
			t.doc.addOp(tx, op{kind: opSeqDelete, container: t.id, target: elems[i].id})
		}
	})
}

// String materializes the visible text.
func (t *Text) String() string {
	var b strings.Builder
	for _, e := range t.seq().visible() {
		if e.value.Kind == ValueString {
			b.WriteString(e.value.Str)
		}
	}
	return b.String()
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	return t.seq().length()
}

func (t *Text) originFor(index int) opID {
	elems := t.seq().visible()
	if index <= 0 || len(elems) == 0 {
		return opID{}
	}
	if index > len(elems) {
		index = len(elems)
	}
	return elems[index-1].id
}

func (t *Text) seq() *rga {
	return t.doc.getContainer(t.id).sequence()
}
