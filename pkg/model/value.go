package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind enumerates the closed set of property value variants. Every
// serialization or comparison site switches exhaustively over these.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a tagged union over the property value variants. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	List  []Value
	Map   map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// B wraps a bool.
func B(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// I wraps an int64.
func I(v int64) Value { return Value{Kind: KindInt, Int: v} }

// F wraps a float64.
func F(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// S wraps a string.
func S(v string) Value { return Value{Kind: KindString, Str: v} }

// L wraps a list.
func L(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// M wraps a map.
func M(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// Equal reports deep structural equality. Int and Float compare equal when
// they represent the same number, matching canonical JSON semantics.
func (v Value) Equal(o Value) bool {
	if v.numeric() && o.numeric() {
		return v.asFloat() == o.asFloat()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, vv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) numeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// MarshalJSON emits the plain JSON value, dropping the tag. Canonical key
// ordering is handled downstream by the cid package.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil, fmt.Errorf("model: non-finite float is not serializable")
		}
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	}
	return nil, fmt.Errorf("model: unknown value kind %v", v.Kind)
}

// UnmarshalJSON parses a plain JSON value into the union. Numbers decode to
// KindInt when they are integral and representable, KindFloat otherwise.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return B(t), nil
	case string:
		return S(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return I(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("model: bad number %q: %w", t.String(), err)
		}
		return F(f), nil
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			list[i] = ev
		}
		return L(list...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return M(m), nil
	}
	return Value{}, fmt.Errorf("model: unsupported JSON value %T", raw)
}

// SortedKeys returns the map keys in lexical order. Used wherever iteration
// order must be deterministic.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
