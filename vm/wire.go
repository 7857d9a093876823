package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is a canonical encoding mode so that equal values always encode
// to equal bytes on both sides of the bridge.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// WireKind tags the variant held by a WireValue.
type WireKind uint8

const (
	WireNone WireKind = iota
	WireBool
	WireInt
	WireFloat
	WireString
	WireList
	WireTuple
	WireDict
	WireRecord
)

// WireValue is the serialisable form of a Value. Only the fields relevant to
// Kind are set. F is always encoded: omitting it would turn -0.0 into 0.0.
type WireValue struct {
	Kind   WireKind             `cbor:"k"`
	B      bool                 `cbor:"b,omitempty"`
	I      int64                `cbor:"i,omitempty"`
	F      float64              `cbor:"f"`
	S      string               `cbor:"s,omitempty"`
	Items  []WireValue          `cbor:"l,omitempty"`
	Fields map[string]WireValue `cbor:"m,omitempty"`
	Names  []string             `cbor:"n,omitempty"`
}

// ToWire converts v into its serialisable form. Values outside the shared
// serialisation format fail with UnmarshalableArgumentError.
func ToWire(v Value) (WireValue, error) {
	switch x := v.(type) {
	case nil:
		return WireValue{Kind: WireNone}, nil
	case bool:
		return WireValue{Kind: WireBool, B: x}, nil
	case int64:
		return WireValue{Kind: WireInt, I: x}, nil
	case float64:
		return WireValue{Kind: WireFloat, F: x}, nil
	case string:
		return WireValue{Kind: WireString, S: x}, nil
	case *List:
		items, err := toWireItems(x.Items)
		return WireValue{Kind: WireList, Items: items}, err
	case Tuple:
		items, err := toWireItems(x)
		return WireValue{Kind: WireTuple, Items: items}, err
	case Dict:
		fields := make(map[string]WireValue, len(x))
		for k, item := range x {
			w, err := ToWire(item)
			if err != nil {
				return WireValue{}, err
			}
			fields[k] = w
		}
		return WireValue{Kind: WireDict, Fields: fields}, nil
	case *Record:
		items, err := toWireItems(x.Values)
		return WireValue{Kind: WireRecord, S: x.Type, Names: append([]string(nil), x.Fields...), Items: items}, err
	}
	return WireValue{}, Errorf(UnmarshalableArgumentError, "cannot serialise value of type '%s'", TypeName(v))
}

func toWireItems(items []Value) ([]WireValue, error) {
	out := make([]WireValue, len(items))
	for i, item := range items {
		w, err := ToWire(item)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// FromWire rebuilds a Value. Lists come back as fresh lists: data crossing
// the bridge is copied, never shared.
func FromWire(w WireValue) Value {
	switch w.Kind {
	case WireBool:
		return w.B
	case WireInt:
		return w.I
	case WireFloat:
		return w.F
	case WireString:
		return w.S
	case WireList:
		return NewList(fromWireItems(w.Items)...)
	case WireTuple:
		return Tuple(fromWireItems(w.Items))
	case WireDict:
		d := make(Dict, len(w.Fields))
		for k, item := range w.Fields {
			d[k] = FromWire(item)
		}
		return d
	case WireRecord:
		return &Record{Type: w.S, Fields: append([]string(nil), w.Names...), Values: fromWireItems(w.Items)}
	}
	return nil
}

func fromWireItems(items []WireValue) []Value {
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = FromWire(item)
	}
	return out
}

// ToWireArgs converts an argument list, failing on the first value that
// cannot be serialised.
func ToWireArgs(args []Value) ([]WireValue, error) {
	return toWireItems(args)
}

// FromWireArgs is the inverse of ToWireArgs.
func FromWireArgs(args []WireValue) []Value {
	return fromWireItems(args)
}

// Copy returns a deep copy of v made through the wire form. Values that cannot
// be serialised fail the same way an RPC argument would.
func Copy(v Value) (Value, error) {
	w, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return FromWire(w), nil
}
