// Package types holds small data-model primitives shared across the core's
// packages — value types with no natural owner package of their own.
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MetaValueKind tags the concrete type held by a MetaValue.
type MetaValueKind int

const (
	MetaNull MetaValueKind = iota
	MetaBool
	MetaInt
	MetaFloat
	MetaString
	MetaBytes
	MetaList
	MetaMap
)

// MetaValue is a tagged union standing in for the source's untyped
// metadata.any field (DESIGN NOTES: "Dynamic typing of metadata.any"). It lets
// conflict-rule conditions and semantic-merge schema policies inspect
// metadata values without reflection.
type MetaValue struct {
	Kind MetaValueKind

	boolVal   bool
	intVal    int64
	floatVal  float64
	stringVal string
	bytesVal  []byte
	listVal   []MetaValue
	mapVal    map[string]MetaValue
}

func NullValue() MetaValue               { return MetaValue{Kind: MetaNull} }
func BoolValue(b bool) MetaValue         { return MetaValue{Kind: MetaBool, boolVal: b} }
func IntValue(i int64) MetaValue         { return MetaValue{Kind: MetaInt, intVal: i} }
func FloatValue(f float64) MetaValue     { return MetaValue{Kind: MetaFloat, floatVal: f} }
func StringValue(s string) MetaValue     { return MetaValue{Kind: MetaString, stringVal: s} }
func BytesValue(b []byte) MetaValue      { return MetaValue{Kind: MetaBytes, bytesVal: b} }
func ListValue(l []MetaValue) MetaValue  { return MetaValue{Kind: MetaList, listVal: l} }
func MapValue(m map[string]MetaValue) MetaValue {
	return MetaValue{Kind: MetaMap, mapVal: m}
}

func (v MetaValue) Bool() (bool, bool)     { return v.boolVal, v.Kind == MetaBool }
func (v MetaValue) Int() (int64, bool)     { return v.intVal, v.Kind == MetaInt }
func (v MetaValue) Float() (float64, bool) { return v.floatVal, v.Kind == MetaFloat }
func (v MetaValue) String() (string, bool) { return v.stringVal, v.Kind == MetaString }
func (v MetaValue) Bytes() ([]byte, bool)  { return v.bytesVal, v.Kind == MetaBytes }
func (v MetaValue) List() ([]MetaValue, bool) { return v.listVal, v.Kind == MetaList }
func (v MetaValue) Map() (map[string]MetaValue, bool) { return v.mapVal, v.Kind == MetaMap }

// GoString renders the value for logging/debugging.
func (v MetaValue) GoString() string {
	switch v.Kind {
	case MetaNull:
		return "null"
	case MetaBool:
		return fmt.Sprintf("%v", v.boolVal)
	case MetaInt:
		return fmt.Sprintf("%d", v.intVal)
	case MetaFloat:
		return fmt.Sprintf("%g", v.floatVal)
	case MetaString:
		return v.stringVal
	case MetaBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytesVal))
	case MetaList:
		return fmt.Sprintf("list(%d)", len(v.listVal))
	case MetaMap:
		return fmt.Sprintf("map(%d)", len(v.mapVal))
	default:
		return "?"
	}
}

// Equal reports deep equality between two MetaValues.
func (v MetaValue) Equal(o MetaValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case MetaNull:
		return true
	case MetaBool:
		return v.boolVal == o.boolVal
	case MetaInt:
		return v.intVal == o.intVal
	case MetaFloat:
		return v.floatVal == o.floatVal
	case MetaString:
		return v.stringVal == o.stringVal
	case MetaBytes:
		if len(v.bytesVal) != len(o.bytesVal) {
			return false
		}
		for i := range v.bytesVal {
			if v.bytesVal[i] != o.bytesVal[i] {
				return false
			}
		}
		return true
	case MetaList:
		if len(v.listVal) != len(o.listVal) {
			return false
		}
		for i := range v.listVal {
			if !v.listVal[i].Equal(o.listVal[i]) {
				return false
			}
		}
		return true
	case MetaMap:
		if len(v.mapVal) != len(o.mapVal) {
			return false
		}
		for k, mv := range v.mapVal {
			ov, ok := o.mapVal[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// wireMetaValue is the JSON-visible shadow of MetaValue; MetaValue's own
// fields are unexported so callers can't construct invalid combinations,
// which means the wire transport needs an explicit (un)marshaler.
type wireMetaValue struct {
	Kind  MetaValueKind            `json:"kind"`
	Bool  bool                     `json:"bool,omitempty"`
	Int   int64                    `json:"int,omitempty"`
	Float float64                  `json:"float,omitempty"`
	Str   string                   `json:"str,omitempty"`
	Bytes string                   `json:"bytes,omitempty"` // base64
	List  []MetaValue              `json:"list,omitempty"`
	Map   map[string]MetaValue     `json:"map,omitempty"`
}

// MarshalJSON implements json.Marshaler so MetaValue survives the gossip
// wire format and persistence snapshots.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	w := wireMetaValue{Kind: v.Kind}
	switch v.Kind {
	case MetaBool:
		w.Bool = v.boolVal
	case MetaInt:
		w.Int = v.intVal
	case MetaFloat:
		w.Float = v.floatVal
	case MetaString:
		w.Str = v.stringVal
	case MetaBytes:
		w.Bytes = base64.StdEncoding.EncodeToString(v.bytesVal)
	case MetaList:
		w.List = v.listVal
	case MetaMap:
		w.Map = v.mapVal
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var w wireMetaValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case MetaNull:
		*v = NullValue()
	case MetaBool:
		*v = BoolValue(w.Bool)
	case MetaInt:
		*v = IntValue(w.Int)
	case MetaFloat:
		*v = FloatValue(w.Float)
	case MetaString:
		*v = StringValue(w.Str)
	case MetaBytes:
		raw, err := base64.StdEncoding.DecodeString(w.Bytes)
		if err != nil {
			return err
		}
		*v = BytesValue(raw)
	case MetaList:
		*v = ListValue(w.List)
	case MetaMap:
		*v = MapValue(w.Map)
	default:
		*v = NullValue()
	}
	return nil
}
