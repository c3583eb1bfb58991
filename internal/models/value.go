package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

// ValueKind enumerates the scalar kinds a result cell can hold.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a single result cell. The zero Value is null.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    bool
}

func Null() Value                { return Value{} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Str() (string, bool)    { return v.s, v.kind == KindString }
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }

// Number returns the value as float64 for int and float kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Interface returns the underlying Go scalar, or nil for null.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// String renders the value the way it appears in prompts and CLI tables.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "NULL"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// ValueOf normalizes a driver value into the closed scalar set.
// Byte slices become strings, times become RFC3339 strings (dates when the
// clock part is zero), sized and unsigned
// integers become int, decimals become float. Anything else is stringified.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case []byte:
		return StringValue(string(t))
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return IntValue(cast.ToInt64(t))
	case uint, uint64:
		u := cast.ToUint64(t)
		if u > 1<<63-1 {
			return FloatValue(float64(u))
		}
		return IntValue(int64(u))
	case float32, float64:
		return FloatValue(cast.ToFloat64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return StringValue(t.Format(time.DateOnly))
		}
		return StringValue(t.Format(time.RFC3339))
	case *big.Int:
		if t == nil {
			return Null()
		}
		if t.IsInt64() {
			return IntValue(t.Int64())
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return FloatValue(f)
	case *big.Rat:
		if t == nil {
			return Null()
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case interface{ Float64() float64 }:
		return FloatValue(t.Float64())
	case fmt.Stringer:
		return StringValue(t.String())
	default:
		if str, err := cast.ToStringE(t); err == nil {
			return StringValue(str)
		}
		return StringValue(fmt.Sprint(t))
	}
}

// Row maps column name to cell value.
type Row map[string]Value

// RowFromValues zips column names with raw driver values.
func RowFromValues(columns []string, values []any) Row {
	row := make(Row, len(columns))
	for i, col := range columns {
		if i < len(values) {
			row[col] = ValueOf(values[i])
		} else {
			row[col] = Null()
		}
	}
	return row
}
