package confmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one node of a configuration document.
type Value interface {
	Kind() Kind
}

// Scalar holds a leaf value: nil, bool, string, int64, float64,
// json.Number or time.Time.
type Scalar struct {
	V any
}

// List is an ordered sequence of values.
type List []Value

// Mapping is a string-keyed table of values.
type Mapping map[string]Value

func (Scalar) Kind() Kind  { return KindScalar }
func (List) Kind() Kind    { return KindList }
func (Mapping) Kind() Kind { return KindMapping }

// Keys returns the mapping keys in sorted order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Native converts the mapping back to plain Go maps and slices.
func (m Mapping) Native() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToNative(v)
	}
	return out
}

// FromNative converts a decoded document value into the model.
func FromNative(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Scalar{}, nil
	case bool, string, float64, json.Number, time.Time:
		return Scalar{V: t}, nil
	case int:
		return Scalar{V: int64(t)}, nil
	case int8:
		return Scalar{V: int64(t)}, nil
	case int16:
		return Scalar{V: int64(t)}, nil
	case int32:
		return Scalar{V: int64(t)}, nil
	case int64:
		return Scalar{V: t}, nil
	case uint8:
		return Scalar{V: int64(t)}, nil
	case uint16:
		return Scalar{V: int64(t)}, nil
	case uint32:
		return Scalar{V: int64(t)}, nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", t)
		}
		return Scalar{V: int64(t)}, nil
	case float32:
		return Scalar{V: float64(t)}, nil
	case map[string]any:
		return FromNativeMap(t)
	case []any:
		list := make(List, 0, len(t))
		for i, item := range t {
			converted, err := FromNative(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list = append(list, converted)
		}
		return list, nil
	case []map[string]any:
		list := make(List, 0, len(t))
		for i, item := range t {
			converted, err := FromNativeMap(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list = append(list, converted)
		}
		return list, nil
	case Value:
		return Clone(t), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// FromNativeMap converts a decoded document root into a Mapping.
func FromNativeMap(m map[string]any) (Mapping, error) {
	out := make(Mapping, len(m))
	for k, v := range m {
		converted, err := FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = converted
	}
	return out, nil
}

// ToNative converts a Value to plain Go values suitable for encoders.
func ToNative(v Value) any {
	switch t := v.(type) {
	case Scalar:
		return t.V
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToNative(item)
		}
		return out
	case Mapping:
		return t.Native()
	default:
		return nil
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch t := v.(type) {
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case Mapping:
		return cloneMapping(t)
	default:
		return v
	}
}

func cloneMapping(m Mapping) Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports deep equality. Numbers compare by value regardless of
// their integer or floating representation.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Scalar:
		return scalarEqual(x.V, b.(Scalar).V)
	case List:
		y := b.(List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Mapping:
		y := b.(Mapping)
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

func scalarEqual(a, b any) bool {
	if ai, ok := integer(a); ok {
		if bi, ok := integer(b); ok {
			return ai.Cmp(bi) == 0
		}
	}
	if an, ok := number(a); ok {
		if bn, ok := number(b); ok {
			return an == bn
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// integer returns v exactly when it is an integral number. Integers past
// 2^53 do not survive a float64 round trip.
func integer(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case int64:
		return big.NewInt(n), true
	case json.Number:
		return new(big.Int).SetString(n.String(), 10)
	}
	return nil, false
}
