// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/govalues/decimal"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindTime
	// KindUnknown carries a payload from an external driver that has no natural ordering here.
	KindUnknown
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindUnknown:
		return "unknown"
	default:
		panic("usp")
	}
}

// Value is one nullable cell of a shard row.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	Bool  bool
	I64   int64
	F64   float64
	Dec   decimal.Decimal
	Str   string
	Bytes []byte
	Time  time.Time
	Any   any
}

func Null() Value {
	return Value{Kind: KindNull}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func IntValue(i int64) Value {
	return Value{Kind: KindInt, I64: i}
}

func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, F64: f}
}

func DecimalValue(d decimal.Decimal) Value {
	return Value{Kind: KindDecimal, Dec: d}
}

func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: b}
}

func TimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

func UnknownValue(v any) Value {
	return Value{Kind: KindUnknown, Any: v}
}

// ParseDecimalValue parses the text form of a NUMERIC column.
func ParseDecimalValue(s string) (Value, error) {
	d, err := decimal.Parse(s)
	if err != nil {
		return Null(), err
	}
	return DecimalValue(d), nil
}

// FromAny converts a driver value into a Value.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case int:
		return IntValue(int64(x))
	case int8:
		return IntValue(int64(x))
	case int16:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case uint8:
		return IntValue(int64(x))
	case uint16:
		return IntValue(int64(x))
	case uint32:
		return IntValue(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			d, err := decimal.Parse(strconv.FormatUint(x, 10))
			if err != nil {
				return UnknownValue(x)
			}
			return DecimalValue(d)
		}
		return IntValue(int64(x))
	case float32:
		return FloatValue(float64(x))
	case float64:
		return FloatValue(x)
	case decimal.Decimal:
		return DecimalValue(x)
	case string:
		return StringValue(x)
	case []byte:
		return BytesValue(bytes.Clone(x))
	case time.Time:
		return TimeValue(x)
	default:
		return UnknownValue(v)
	}
}

func (val Value) IsNull() bool {
	return val.Kind == KindNull
}

func (val Value) IsNumeric() bool {
	return val.Kind == KindInt || val.Kind == KindFloat || val.Kind == KindDecimal
}

// ToDecimal converts a numeric value into a decimal.
func (val Value) ToDecimal() (decimal.Decimal, error) {
	switch val.Kind {
	case KindInt:
		return decimal.New(val.I64, 0)
	case KindDecimal:
		return val.Dec, nil
	case KindFloat:
		return decimal.NewFromFloat64(val.F64)
	case KindString:
		return decimal.Parse(val.Str)
	case KindBytes:
		return decimal.Parse(string(val.Bytes))
	default:
		return decimal.Decimal{}, fmt.Errorf("value of kind %s is not numeric", val.Kind)
	}
}

// ToFloat converts a numeric value into a float64.
func (val Value) ToFloat() (float64, error) {
	switch val.Kind {
	case KindInt:
		return float64(val.I64), nil
	case KindFloat:
		return val.F64, nil
	case KindDecimal:
		f, ok := val.Dec.Float64()
		if !ok {
			return 0, fmt.Errorf("decimal %s overflows float64", val.Dec)
		}
		return f, nil
	case KindString:
		return strconv.ParseFloat(val.Str, 64)
	case KindBytes:
		return strconv.ParseFloat(string(val.Bytes), 64)
	default:
		return 0, fmt.Errorf("value of kind %s is not numeric", val.Kind)
	}
}

// ToInt64 converts an integral value into an int64.
func (val Value) ToInt64() (int64, error) {
	switch val.Kind {
	case KindInt:
		return val.I64, nil
	case KindFloat:
		if val.F64 != math.Trunc(val.F64) {
			return 0, fmt.Errorf("%v is not integral", val.F64)
		}
		return int64(val.F64), nil
	case KindDecimal:
		whole, frac, ok := val.Dec.Int64(0)
		if !ok || frac != 0 {
			return 0, fmt.Errorf("%s is not an int64", val.Dec)
		}
		return whole, nil
	case KindString:
		return strconv.ParseInt(strings.TrimSpace(val.Str), 10, 64)
	case KindBytes:
		return strconv.ParseInt(strings.TrimSpace(string(val.Bytes)), 10, 64)
	default:
		return 0, fmt.Errorf("value of kind %s is not an integer", val.Kind)
	}
}

func (val Value) String() string {
	switch val.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(val.Bool)
	case KindInt:
		return strconv.FormatInt(val.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(val.F64, 'g', -1, 64)
	case KindDecimal:
		return val.Dec.String()
	case KindString:
		return val.Str
	case KindBytes:
		return string(val.Bytes)
	case KindTime:
		return val.Time.Format(time.RFC3339Nano)
	case KindUnknown:
		return fmt.Sprintf("%v", val.Any)
	default:
		panic("usp")
	}
}

// Native returns the value in the form database/sql and the wire writer expect.
func (val Value) Native() any {
	switch val.Kind {
	case KindNull:
		return nil
	case KindBool:
		return val.Bool
	case KindInt:
		return val.I64
	case KindFloat:
		return val.F64
	case KindDecimal:
		return val.Dec.String()
	case KindString:
		return val.Str
	case KindBytes:
		return val.Bytes
	case KindTime:
		return val.Time
	case KindUnknown:
		return val.Any
	default:
		panic("usp")
	}
}

// GroupKey is the canonical text of the value used to bucket group by rows.
// Case insensitive strings are folded to upper case.
func (val Value) GroupKey(caseSensitive bool) string {
	switch val.Kind {
	case KindNull:
		return "n:"
	case KindString:
		if !caseSensitive {
			return "s:" + strings.ToUpper(val.Str)
		}
		return "s:" + val.Str
	case KindDecimal:
		return "d:" + val.Dec.Trim(0).String()
	case KindTime:
		return "t:" + val.Time.UTC().Format(time.RFC3339Nano)
	default:
		return val.Kind.String() + ":" + val.String()
	}
}
