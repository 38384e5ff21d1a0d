package crdt

import "fmt"

// ValueKind discriminates the payload carried by a Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueString
	ValueMapRef   // reference to a nested Map container
	ValueArrayRef // reference to a nested Array container
	ValueTextRef  // reference to a nested Text container
)

// Value is the tagged union stored in map entries and sequence elements.
// Reference kinds point at a child container by id.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string // string payload, or container id for reference kinds
}

// Null returns the null Value.
func Null() Value { return Value{Kind: ValueNull} }

// toValue converts supported Go primitives into a Value. Unsupported types
// degrade to null rather than panicking.
func toValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Value{Kind: ValueBool, Bool: x}
	case int:
		return Value{Kind: ValueInt, Int: int64(x)}
	case int32:
		return Value{Kind: ValueInt, Int: int64(x)}
	case int64:
		return Value{Kind: ValueInt, Int: x}
	case uint64:
		return Value{Kind: ValueInt, Int: int64(x)}
	case float64:
		return Value{Kind: ValueFloat, Float: x}
	case string:
		return Value{Kind: ValueString, Str: x}
	default:
		return Null()
	}
}

// IsRef reports whether the value references a child container.
func (v Value) IsRef() bool {
	return v.Kind == ValueMapRef || v.Kind == ValueArrayRef || v.Kind == ValueTextRef
}

// String renders the value for debugging.
func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValueString:
		return fmt.Sprintf("%q", v.Str)
	case ValueMapRef:
		return "map(" + v.Str + ")"
	case ValueArrayRef:
		return "array(" + v.Str + ")"
	case ValueTextRef:
		return "text(" + v.Str + ")"
	default:
		return "invalid"
	}
}

func writeValue(e *Encoder, v Value) {
	e.WriteUint8(byte(v.Kind))
	switch v.Kind {
	case ValueNull:
	case ValueBool:
		if v.Bool {
			e.WriteUint8(1)
		} else {
			e.WriteUint8(0)
		}
	case ValueInt:
		e.WriteVarInt(v.Int)
	case ValueFloat:
		e.WriteFloat64(v.Float)
	case ValueString, ValueMapRef, ValueArrayRef, ValueTextRef:
		e.WriteVarString(v.Str)
	}
}

func readValue(d *Decoder) (Value, error) {
	kind, err := d.ReadUint8()
	if err != nil {
		return Value{}, err
	}
	v := Value{Kind: ValueKind(kind)}
	switch v.Kind {
	case ValueNull:
	case ValueBool:
		b, err := d.ReadUint8()
		if err != nil {
			return Value{}, err
		}
		v.Bool = b != 0
	case ValueInt:
		v.Int, err = d.ReadVarInt()
		if err != nil {
			return Value{}, err
		}
	case ValueFloat:
		v.Float, err = d.ReadFloat64()
		if err != nil {
			return Value{}, err
		}
	case ValueString, ValueMapRef, ValueArrayRef, ValueTextRef:
		v.Str, err = d.ReadVarString()
		if err != nil {
			return Value{}, err
		}
	default:
		return Value{}, fmt.Errorf("crdt: unknown value kind %d", kind)
	}
	return v, nil
}
