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

package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/storage"
)

func intColumn(nullable bool) common.ColumnType {
	return common.ColumnType{Typ: common.IntegerType(), Nullable: nullable}
}

func textColumn(nullable bool) common.ColumnType {
	return common.ColumnType{Typ: common.VarcharType(), Nullable: nullable}
}

func intDatum(v int64) common.Datum {
	return common.IntegerDatum(v)
}

// intRows builds one row per argument list.
func intRows(rows ...[]int64) []common.Row {
	ret := make([]common.Row, len(rows))
	for i, vals := range rows {
		ret[i] = make(common.Row, len(vals))
		for j, v := range vals {
			ret[i][j] = intDatum(v)
		}
	}
	return ret
}

func intConstant(arity int, rows ...[]int64) *RelationExpr {
	cols := make([]common.ColumnType, arity)
	for i := range cols {
		cols[i] = intColumn(false)
	}
	return Constant(intRows(rows...), common.NewRelationType(cols))
}

func testGet(id uint64, name string, typ common.RelationType) *RelationExpr {
	return GetGlobal(&storage.CatalogEntry{
		Id:       storage.GlobalId(id),
		Kind:     storage.ItemTable,
		Database: "materialize",
		Schema:   "public",
		Name:     name,
		Typ:      typ,
	})
}

func TestConstantType(t *testing.T) {
	typ := intConstant(2, []int64{1, 2}, []int64{3, 4}).Type()
	assert.Equal(t, "int4, int4", typ.TypesString())
	assert.Equal(t, "(#0, #1)", typ.KeysString())

	//duplicates give no key
	typ = intConstant(1, []int64{1}, []int64{1}).Type()
	assert.Equal(t, "", typ.KeysString())

	rows := []common.Row{
		{intDatum(1), common.NullDatum(common.VarcharType())},
		{intDatum(2), common.VarcharDatum("a")},
	}
	declared := common.NewRelationType([]common.ColumnType{intColumn(true), textColumn(false)})
	typ = Constant(rows, declared).Type()
	assert.Equal(t, "int4, text?", typ.TypesString())

	//no rows keep the declared nullability
	typ = Empty(declared).Type()
	assert.Equal(t, "int4?, text", typ.TypesString())
	assert.Empty(t, typ.Keys)

	typ = Unit().Type()
	assert.Equal(t, 0, typ.Arity())
	assert.Equal(t, "()", typ.KeysString())
}

func TestJoinTypeNullability(t *testing.T) {
	left := testGet(1, "l", common.NewRelationType([]common.ColumnType{intColumn(false), textColumn(true)}).WithKey([]int{0}))
	right := testGet(2, "r", common.NewRelationType([]common.ColumnType{intColumn(false)}).WithKey([]int{0}))

	cases := []struct {
		jt    JoinType
		types string
		keys  string
	}{
		{JT_Inner, "int4, text?, int4", "(#0, #2)"},
		{JT_Left, "int4, text?, int4?", ""},
		{JT_Right, "int4?, text?, int4", ""},
		{JT_Full, "int4?, text?, int4?", ""},
	}
	for _, c := range cases {
		typ := Join(left, right, c.jt, Eq(Col(0), Col(2))).Type()
		assert.Equal(t, c.types, typ.TypesString(), c.jt.String())
		assert.Equal(t, c.keys, typ.KeysString(), c.jt.String())
	}
}

// The nullability of a column never decreases across Join and Union.
func TestNullabilityMonotonicity(t *testing.T) {
	inputs := []*RelationExpr{
		intConstant(2, []int64{1, 2}),
		Empty(common.NewRelationType([]common.ColumnType{intColumn(true), intColumn(false)})),
		testGet(1, "a", common.NewRelationType([]common.ColumnType{intColumn(false), intColumn(true)})),
		testGet(2, "b", common.NewRelationType([]common.ColumnType{intColumn(true), intColumn(true)})),
	}
	for _, l := range inputs {
		for _, r := range inputs {
			lt, rt := l.Type(), r.Type()
			for _, jt := range []JoinType{JT_Inner, JT_Left, JT_Right, JT_Full} {
				typ := Join(l, r, jt, nil).Type()
				require.Equal(t, lt.Arity()+rt.Arity(), typ.Arity())
				for i, col := range lt.Columns {
					assert.True(t, !col.Nullable || typ.Columns[i].Nullable)
				}
				for i, col := range rt.Columns {
					assert.True(t, !col.Nullable || typ.Columns[lt.Arity()+i].Nullable)
				}
			}
			typ := Union(l, r).Type()
			for i := range typ.Columns {
				assert.True(t, !lt.Columns[i].Nullable || typ.Columns[i].Nullable)
				assert.True(t, !rt.Columns[i].Nullable || typ.Columns[i].Nullable)
			}
		}
	}
}

func TestOperatorTypes(t *testing.T) {
	base := testGet(1, "t", common.NewRelationType([]common.ColumnType{intColumn(false), intColumn(true)}).WithKey([]int{0}))

	typ := base.Project([]int{1, 0}).Type()
	assert.Equal(t, "int4?, int4", typ.TypesString())
	assert.Equal(t, "(#1)", typ.KeysString())
	typ = base.Project([]int{1}).Type()
	assert.Equal(t, "", typ.KeysString())

	typ = base.Map(Col(1), Lit(common.NullDatum(common.VarcharType()))).Type()
	assert.Equal(t, "int4, int4?, int4?, text?", typ.TypesString())
	assert.Equal(t, "(#0)", typ.KeysString())

	typ = base.Filter(Eq(Col(0), Col(1))).Type()
	assert.Equal(t, "int4, int4?", typ.TypesString())

	aggs := []*AggregateExpr{
		{Func: AGG_Count},
		{Func: AGG_Sum, Expr: Col(0)},
		{Func: AGG_Max, Expr: Col(1)},
	}
	typ = base.Reduce([]int{1}, aggs).Type()
	assert.Equal(t, "int4?, int8, int8, int4?", typ.TypesString())
	assert.Equal(t, "(#0)", typ.KeysString())
	//without grouping an empty input still gives a row
	typ = base.Reduce(nil, aggs).Type()
	assert.Equal(t, "int8, int8?, int4?", typ.TypesString())
	assert.Equal(t, "()", typ.KeysString())

	typ = base.Project([]int{1}).Distinct().Type()
	assert.Equal(t, "(#0)", typ.KeysString())

	typ = base.TopK([]int{1}, []ColumnOrder{{Column: 0}}, 1, 0).Type()
	assert.Equal(t, "(#0), (#1)", typ.KeysString())
	typ = base.TopK(nil, nil, 5, 0).Type()
	assert.Equal(t, "(#0)", typ.KeysString())

	typ = base.Negate().Type()
	assert.Equal(t, "int4, int4?", typ.TypesString())
	assert.Empty(t, typ.Keys)

	typ = Let(LocalId(3), base, GetLocal(LocalId(3), base.Type()).Project([]int{0})).Type()
	assert.Equal(t, "int4", typ.TypesString())
	assert.Equal(t, "(#0)", typ.KeysString())
}

func TestScalarColumnType(t *testing.T) {
	input := []common.ColumnType{intColumn(false), intColumn(true)}
	add, err := BindFunction("+", []*ScalarExpr{Col(0), Col(1)},
		[]common.LType{common.IntegerType(), common.IntegerType()})
	require.NoError(t, err)
	assert.Equal(t, "int4?", add.ColumnType(input).String())

	isnull := callFunc("isnull", common.BooleanType(), Col(1))
	assert.Equal(t, "bool", isnull.ColumnType(input).String())

	coalesce := callFunc("coalesce", common.IntegerType(), Col(1), Col(0))
	assert.Equal(t, "int4", coalesce.ColumnType(input).String())

	cond := If(Eq(Col(0), Col(1)), Col(0), Lit(common.NullDatum(common.IntegerType())))
	assert.Equal(t, "int4?", cond.ColumnType(input).String())

	sel := Select(intConstant(1, []int64{1}))
	assert.Equal(t, "int4?", sel.ColumnType(input).String())
	assert.Equal(t, "bool", Exists(Unit()).ColumnType(input).String())

	outer := OuterCol(1, 4, textColumn(true))
	assert.Equal(t, "text?", outer.ColumnType(nil).String())
}
