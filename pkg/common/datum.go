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
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/govalues/decimal"
)

// Datum is a scalar literal.
type Datum struct {
	Typ    LType
	IsNull bool
	Bool   bool
	I64    int64
	F64    float64
	Dec    decimal.Decimal
	Str    string
}

type Row []Datum

func NullDatum(typ LType) Datum {
	return Datum{Typ: typ, IsNull: true}
}

func BoolDatum(b bool) Datum {
	return Datum{Typ: BooleanType(), Bool: b}
}

func IntegerDatum(v int64) Datum {
	return Datum{Typ: IntegerType(), I64: v}
}

func BigintDatum(v int64) Datum {
	return Datum{Typ: BigintType(), I64: v}
}

func DecimalDatum(d decimal.Decimal) Datum {
	return Datum{Typ: DecimalType(0, d.Scale()), Dec: d}
}

func DoubleDatum(f float64) Datum {
	return Datum{Typ: DoubleType(), F64: f}
}

func VarcharDatum(s string) Datum {
	return Datum{Typ: VarcharType(), Str: s}
}

func (d Datum) String() string {
	if d.IsNull {
		return "null"
	}
	switch d.Typ.Id {
	case LTID_BOOLEAN:
		return strconv.FormatBool(d.Bool)
	case LTID_INTEGER, LTID_BIGINT:
		return strconv.FormatInt(d.I64, 10)
	case LTID_DECIMAL:
		return d.Dec.String()
	case LTID_DOUBLE:
		return strconv.FormatFloat(d.F64, 'g', -1, 64)
	case LTID_VARCHAR, LTID_DATE, LTID_TIMESTAMP, LTID_INTERVAL:
		return strconv.Quote(d.Str)
	default:
		panic(fmt.Sprintf("usp datum type %s", d.Typ))
	}
}

// AsDecimal converts an integer or decimal datum.
func (d Datum) AsDecimal() (decimal.Decimal, bool) {
	switch d.Typ.Id {
	case LTID_INTEGER, LTID_BIGINT:
		return decimal.MustNew(d.I64, 0), true
	case LTID_DECIMAL:
		return d.Dec, true
	}
	return decimal.Decimal{}, false
}

// AsFloat converts any numeric datum.
func (d Datum) AsFloat() (float64, bool) {
	switch d.Typ.Id {
	case LTID_INTEGER, LTID_BIGINT:
		return float64(d.I64), true
	case LTID_DECIMAL:
		return d.Dec.Float64()
	case LTID_DOUBLE:
		return d.F64, true
	}
	return 0, false
}

// Compare orders datums of one column. Nulls sort last.
func (d Datum) Compare(o Datum) int {
	switch {
	case d.IsNull && o.IsNull:
		return 0
	case d.IsNull:
		return 1
	case o.IsNull:
		return -1
	}
	if d.Typ.IsNumeric() && o.Typ.IsNumeric() {
		if d.Typ.Id != LTID_DOUBLE && o.Typ.Id != LTID_DOUBLE {
			if d.Typ.Id != LTID_DECIMAL && o.Typ.Id != LTID_DECIMAL {
				return cmp.Compare(d.I64, o.I64)
			}
			l, _ := d.AsDecimal()
			r, _ := o.AsDecimal()
			return l.Cmp(r)
		}
		l, _ := d.AsFloat()
		r, _ := o.AsFloat()
		return cmp.Compare(l, r)
	}
	switch d.Typ.Id {
	case LTID_BOOLEAN:
		switch {
		case d.Bool == o.Bool:
			return 0
		case !d.Bool:
			return -1
		default:
			return 1
		}
	default:
		return strings.Compare(d.Str, o.Str)
	}
}

func (d Datum) Equal(o Datum) bool {
	if d.IsNull != o.IsNull {
		return false
	}
	if d.IsNull {
		return true
	}
	return d.Compare(o) == 0
}

func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (r Row) Compare(o Row) int {
	for i := 0; i < len(r) && i < len(o); i++ {
		if c := r[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(r), len(o))
}

func (r Row) String() string {
	parts := make([]string, len(r))
	for i, d := range r {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
