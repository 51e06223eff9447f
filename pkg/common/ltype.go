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
	"fmt"
	"strings"
)

type LTypeId int

const (
	LTID_INVALID LTypeId = iota
	LTID_NULL
	LTID_BOOLEAN
	LTID_INTEGER
	LTID_BIGINT
	LTID_DECIMAL
	LTID_DOUBLE
	LTID_VARCHAR
	LTID_DATE
	LTID_TIMESTAMP
	LTID_INTERVAL
)

func (id LTypeId) String() string {
	switch id {
	case LTID_INVALID:
		return "invalid"
	case LTID_NULL:
		return "null"
	case LTID_BOOLEAN:
		return "bool"
	case LTID_INTEGER:
		return "int4"
	case LTID_BIGINT:
		return "int8"
	case LTID_DECIMAL:
		return "numeric"
	case LTID_DOUBLE:
		return "float8"
	case LTID_VARCHAR:
		return "text"
	case LTID_DATE:
		return "date"
	case LTID_TIMESTAMP:
		return "timestamp"
	case LTID_INTERVAL:
		return "interval"
	default:
		panic(fmt.Sprintf("usp type id %d", id))
	}
}

// LType is the scalar type of a column or an expression.
type LType struct {
	Id    LTypeId
	Width int
	Scale int
}

func MakeLType(id LTypeId) LType {
	return LType{Id: id}
}

func Null() LType {
	return MakeLType(LTID_NULL)
}

func BooleanType() LType {
	return MakeLType(LTID_BOOLEAN)
}

func IntegerType() LType {
	return MakeLType(LTID_INTEGER)
}

func BigintType() LType {
	return MakeLType(LTID_BIGINT)
}

func DecimalType(width, scale int) LType {
	ret := MakeLType(LTID_DECIMAL)
	ret.Width = width
	ret.Scale = scale
	return ret
}

func DoubleType() LType {
	return MakeLType(LTID_DOUBLE)
}

func VarcharType() LType {
	return MakeLType(LTID_VARCHAR)
}

func DateType() LType {
	return MakeLType(LTID_DATE)
}

func TimestampType() LType {
	return MakeLType(LTID_TIMESTAMP)
}

func IntervalType() LType {
	return MakeLType(LTID_INTERVAL)
}

func (lt LType) String() string {
	return lt.Id.String()
}

func (lt LType) Equal(o LType) bool {
	return lt.Id == o.Id
}

func (lt LType) IsNumeric() bool {
	switch lt.Id {
	case LTID_INTEGER, LTID_BIGINT, LTID_DECIMAL, LTID_DOUBLE:
		return true
	default:
		return false
	}
}

func (lt LType) IsNull() bool {
	return lt.Id == LTID_NULL
}

func numericRank(id LTypeId) int {
	switch id {
	case LTID_INTEGER:
		return 1
	case LTID_BIGINT:
		return 2
	case LTID_DECIMAL:
		return 3
	case LTID_DOUBLE:
		return 4
	default:
		return 0
	}
}

// MaxLType returns the common type both sides implicitly cast to.
// The second result is false if there is none.
func MaxLType(left, right LType) (LType, bool) {
	switch {
	case left.Id == right.Id:
		return left, true
	case left.IsNull():
		return right, true
	case right.IsNull():
		return left, true
	case left.IsNumeric() && right.IsNumeric():
		if numericRank(left.Id) >= numericRank(right.Id) {
			return left, true
		}
		return right, true
	case left.Id == LTID_DATE && right.Id == LTID_TIMESTAMP:
		return right, true
	case left.Id == LTID_TIMESTAMP && right.Id == LTID_DATE:
		return left, true
	}
	return LType{}, false
}

// LTypeFromName maps a SQL type name to its LType.
func LTypeFromName(name string) (LType, bool) {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return BooleanType(), true
	case "int", "int4", "integer", "int2", "smallint":
		return IntegerType(), true
	case "int8", "bigint":
		return BigintType(), true
	case "numeric", "decimal":
		return DecimalType(0, 0), true
	case "float", "float4", "float8", "real", "double":
		return DoubleType(), true
	case "text", "varchar", "bpchar", "char", "string":
		return VarcharType(), true
	case "date":
		return DateType(), true
	case "timestamp", "timestamptz":
		return TimestampType(), true
	case "interval":
		return IntervalType(), true
	}
	return LType{}, false
}

// ColumnType is a scalar type plus nullability.
type ColumnType struct {
	Typ      LType
	Nullable bool
}

func (ct ColumnType) String() string {
	if ct.Nullable {
		return ct.Typ.String() + "?"
	}
	return ct.Typ.String()
}

func (ct ColumnType) WithNullable(nullable bool) ColumnType {
	ct.Nullable = nullable
	return ct
}

// Union is the least upper bound of two column types.
func (ct ColumnType) Union(o ColumnType) ColumnType {
	typ, ok := MaxLType(ct.Typ, o.Typ)
	if !ok {
		typ = ct.Typ
	}
	return ColumnType{Typ: typ, Nullable: ct.Nullable || o.Nullable}
}
