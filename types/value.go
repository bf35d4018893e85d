package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind 标识 Value 的变体类型
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindSequence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Value 是记录字段的封闭变体：null、字符串、数值、布尔或 Value 序列。
// 零值为 null。Value 构造后不可变，可在 goroutine 间安全共享。
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	seq  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Sequence creates a sequence value. The elements are copied.
func Sequence(elems ...Value) Value {
	seq := make([]Value, len(elems))
	copy(seq, elems)
	return Value{kind: KindSequence, seq: seq}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether v is a string, number or boolean.
func (v Value) IsScalar() bool {
	return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool
}

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the boolean payload.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Elements returns a copy of the sequence elements, or nil when v is not a sequence.
func (v Value) Elements() []Value {
	if v.kind != KindSequence {
		return nil
	}
	out := make([]Value, len(v.seq))
	copy(out, v.seq)
	return out
}

// Len returns the number of sequence elements, 1 for a scalar and 0 for null.
func (v Value) Len() int {
	switch v.kind {
	case KindNull:
		return 0
	case KindSequence:
		return len(v.seq)
	default:
		return 1
	}
}

// AsFloat coerces v to a number. Strings are parsed; booleans map to 0/1.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsBool coerces v to a boolean. Strings accept the strconv.ParseBool forms.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.str))
		if err != nil {
			return false, false
		}
		return b, true
	case KindNumber:
		return v.num != 0, true
	default:
		return false, false
	}
}

// String renders v as text. Sequences are rendered as a JSON array.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindSequence:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(data)
	default:
		return ""
	}
}

// Equal reports deep equality. Numbers compare by value; NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindBool:
		return v.b == o.b
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v into plain Go values: nil, string, float64, bool or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts a plain Go value into a Value.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []Value:
		return Sequence(t...), nil
	case []string:
		seq := make([]Value, len(t))
		for i, s := range t {
			seq[i] = String(s)
		}
		return Value{kind: KindSequence, seq: seq}, nil
	case []any:
		seq := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromInterface(e)
			if err != nil {
				return Null(), err
			}
			seq[i] = ev
		}
		return Value{kind: KindSequence, seq: seq}, nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return json.Marshal(formatNumber(v.num))
		}
		return []byte(formatNumber(v.num)), nil
	case KindSequence:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Record 是字段名到 Value 的映射，用作评估的输入与输出
type Record map[string]Value

// Get returns the value of field and whether it is present.
func (r Record) Get(field string) (Value, bool) {
	v, ok := r[field]
	return v, ok
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of r. Values are immutable so sharing them is safe.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether r and o hold the same fields with equal values.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// RecordFromMap converts a map of plain Go values.
func RecordFromMap(m map[string]any) (Record, error) {
	out := make(Record, len(m))
	for k, x := range m {
		v, err := FromInterface(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
