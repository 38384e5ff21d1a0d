package crdt

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Binary primitives shared by document updates and the presence protocol.
// Unsigned integers use LEB128 variable-length encoding, strings are
// length-prefixed UTF-8, floats are fixed 8-byte big endian.

// ErrVarintOverflow reports a variable-length integer wider than 64 bits.
var ErrVarintOverflow = errors.New("crdt: varint overflows 64 bits")

// Encoder accumulates binary protocol data.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// WriteUint8 appends a single byte.
func (e *Encoder) WriteUint8(v byte) {
	e.buf = append(e.buf, v)
}

// WriteVarUint appends v in LEB128 encoding.
func (e *Encoder) WriteVarUint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// WriteVarInt appends v using zigzag LEB128 encoding.
func (e *Encoder) WriteVarInt(v int64) {
	e.WriteVarUint(uint64((v << 1) ^ (v >> 63)))
}

// WriteVarString appends a length-prefixed UTF-8 string.
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteFloat64 appends f as 8 bytes, big endian.
func (e *Encoder) WriteFloat64(f float64) {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], math.Float64bits(f))
	e.buf = append(e.buf, raw[:]...)
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Decoder reads binary protocol data produced by Encoder.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps p for reading. The Decoder does not copy p.
func NewDecoder(p []byte) *Decoder {
	return &Decoder{buf: p}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// ReadUint8 consumes a single byte.
func (d *Decoder) ReadUint8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// ReadVarUint consumes a LEB128-encoded unsigned integer.
func (d *Decoder) ReadVarUint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, io.ErrUnexpectedEOF
		}
		b := d.buf[d.pos]
		d.pos++
		if shift == 63 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, ErrVarintOverflow
		}
	}
}

// ReadVarInt consumes a zigzag LEB128-encoded signed integer.
func (d *Decoder) ReadVarInt() (int64, error) {
	u, err := d.ReadVarUint()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// ReadVarString consumes a length-prefixed UTF-8 string.
func (d *Decoder) ReadVarString() (string, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return "", err
	}
	if n > uint64(d.Remaining()) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

// ReadFloat64 consumes 8 bytes as a big endian float.
func (d *Decoder) ReadFloat64() (float64, error) {
	if d.Remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return math.Float64frombits(bits), nil
}
