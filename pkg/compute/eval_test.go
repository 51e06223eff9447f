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
	"math"
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/relplan/pkg/common"
)

// call binds name over literal arguments and evaluates it.
func call(t *testing.T, name string, args ...common.Datum) (common.Datum, error) {
	lits := make([]*ScalarExpr, len(args))
	typs := make([]common.LType, len(args))
	for i, arg := range args {
		lits[i] = Lit(arg)
		typs[i] = arg.Typ
	}
	e, err := BindFunction(name, lits, typs)
	require.NoError(t, err)
	return e.Eval(nil)
}

func nullBool() common.Datum {
	return common.NullDatum(common.BooleanType())
}

func TestEvalArithmetic(t *testing.T) {
	d, err := call(t, "+", intDatum(2), intDatum(3))
	require.NoError(t, err)
	assert.Equal(t, intDatum(5), d)

	d, err = call(t, "*", intDatum(2), common.BigintDatum(4))
	require.NoError(t, err)
	assert.Equal(t, common.BigintDatum(8), d)

	d, err = call(t, "/", intDatum(7), intDatum(2))
	require.NoError(t, err)
	assert.Equal(t, intDatum(3), d)

	d, err = call(t, "-", intDatum(1), common.NullDatum(common.IntegerType()))
	require.NoError(t, err)
	assert.True(t, d.IsNull)

	d, err = call(t, "+", common.DecimalDatum(decimal.MustNew(15, 1)), intDatum(1))
	require.NoError(t, err)
	assert.Equal(t, "2.5", d.String())

	d, err = call(t, "*", common.DoubleDatum(1.5), intDatum(2))
	require.NoError(t, err)
	assert.Equal(t, common.DoubleDatum(3), d)
}

func TestEvalArithmeticErrors(t *testing.T) {
	_, err := call(t, "+", intDatum(math.MaxInt32), intDatum(1))
	require.Error(t, err)
	assert.True(t, ErrNumericOverflow.Is(err))

	_, err = call(t, "*", common.BigintDatum(math.MaxInt64), common.BigintDatum(2))
	require.Error(t, err)
	assert.True(t, ErrNumericOverflow.Is(err))

	_, err = call(t, "-", common.BigintDatum(math.MinInt64), common.BigintDatum(1))
	require.Error(t, err)
	assert.True(t, ErrNumericOverflow.Is(err))

	_, err = call(t, "/", intDatum(1), intDatum(0))
	require.Error(t, err)
	assert.True(t, ErrDivisionByZero.Is(err))

	_, err = call(t, "%", common.BigintDatum(1), common.BigintDatum(0))
	require.Error(t, err)
	assert.True(t, ErrDivisionByZero.Is(err))

	_, err = call(t, "neg", common.BigintDatum(math.MinInt64))
	require.Error(t, err)
	assert.True(t, ErrNumericOverflow.Is(err))
}

func TestEvalThreeValuedLogic(t *testing.T) {
	cases := []struct {
		op   string
		l, r common.Datum
		want common.Datum
	}{
		{"and", common.BoolDatum(true), common.BoolDatum(true), common.BoolDatum(true)},
		{"and", common.BoolDatum(true), nullBool(), nullBool()},
		{"and", common.BoolDatum(false), nullBool(), common.BoolDatum(false)},
		{"and", nullBool(), common.BoolDatum(false), common.BoolDatum(false)},
		{"or", common.BoolDatum(false), common.BoolDatum(false), common.BoolDatum(false)},
		{"or", common.BoolDatum(false), nullBool(), nullBool()},
		{"or", nullBool(), common.BoolDatum(true), common.BoolDatum(true)},
	}
	for _, c := range cases {
		d, err := call(t, c.op, c.l, c.r)
		require.NoError(t, err)
		assert.Equal(t, c.want, d, "%s %s %s", c.l, c.op, c.r)
	}

	d, err := call(t, "not", nullBool())
	require.NoError(t, err)
	assert.True(t, d.IsNull)
}

func TestEvalComparison(t *testing.T) {
	d, err := call(t, "<", intDatum(1), common.BigintDatum(2))
	require.NoError(t, err)
	assert.Equal(t, common.BoolDatum(true), d)

	d, err = call(t, "=", common.DecimalDatum(decimal.MustNew(10, 1)), intDatum(1))
	require.NoError(t, err)
	assert.Equal(t, common.BoolDatum(true), d)

	d, err = call(t, ">=", common.VarcharDatum("a"), common.VarcharDatum("b"))
	require.NoError(t, err)
	assert.Equal(t, common.BoolDatum(false), d)

	d, err = call(t, "<>", intDatum(1), common.NullDatum(common.IntegerType()))
	require.NoError(t, err)
	assert.True(t, d.IsNull)
}

func TestEvalNullSafeEquality(t *testing.T) {
	null := common.NullDatum(common.IntegerType())
	cases := []struct {
		l, r common.Datum
		want bool
	}{
		{null, null, true},
		{null, intDatum(1), false},
		{intDatum(1), null, false},
		{intDatum(1), common.BigintDatum(1), true},
		{intDatum(1), intDatum(2), false},
	}
	for _, c := range cases {
		d, err := call(t, "<=>", c.l, c.r)
		require.NoError(t, err)
		assert.Equal(t, common.BoolDatum(c.want), d, "%s <=> %s", c.l, c.r)
	}
}

func TestEvalNullFunctions(t *testing.T) {
	null := common.NullDatum(common.IntegerType())

	d, err := call(t, "coalesce", null, intDatum(2), intDatum(3))
	require.NoError(t, err)
	assert.Equal(t, intDatum(2), d)

	d, err = call(t, "coalesce", intDatum(1), common.BigintDatum(2))
	require.NoError(t, err)
	assert.Equal(t, common.BigintDatum(1), d)

	d, err = call(t, "nullif", intDatum(1), intDatum(1))
	require.NoError(t, err)
	assert.True(t, d.IsNull)

	d, err = call(t, "nullif", intDatum(1), intDatum(2))
	require.NoError(t, err)
	assert.Equal(t, intDatum(1), d)

	d, err = call(t, "isnull", null)
	require.NoError(t, err)
	assert.Equal(t, common.BoolDatum(true), d)
}

func TestEvalText(t *testing.T) {
	d, err := call(t, "concat", common.VarcharDatum("a"), common.NullDatum(common.VarcharType()), intDatum(1))
	require.NoError(t, err)
	assert.Equal(t, common.VarcharDatum("a1"), d)

	d, err = call(t, "||", common.VarcharDatum("a"), common.NullDatum(common.VarcharType()))
	require.NoError(t, err)
	assert.True(t, d.IsNull)

	d, err = call(t, "upper", common.VarcharDatum("abc"))
	require.NoError(t, err)
	assert.Equal(t, common.VarcharDatum("ABC"), d)

	d, err = call(t, "length", common.VarcharDatum("héllo"))
	require.NoError(t, err)
	assert.Equal(t, intDatum(5), d)

	substr := []struct {
		args []common.Datum
		want string
	}{
		{[]common.Datum{common.VarcharDatum("hello"), intDatum(2)}, "ello"},
		{[]common.Datum{common.VarcharDatum("hello"), intDatum(2), intDatum(3)}, "ell"},
		{[]common.Datum{common.VarcharDatum("hello"), intDatum(0), intDatum(3)}, "he"},
		{[]common.Datum{common.VarcharDatum("hello"), intDatum(-5), intDatum(3)}, ""},
		{[]common.Datum{common.VarcharDatum("hello"), intDatum(9)}, ""},
	}
	for _, c := range substr {
		d, err := call(t, "substr", c.args...)
		require.NoError(t, err)
		assert.Equal(t, common.VarcharDatum(c.want), d, "%v", c.args)
	}

	_, err = call(t, "substr", common.VarcharDatum("hello"), intDatum(1), intDatum(-1))
	require.Error(t, err)
	assert.True(t, ErrInvalidArgument.Is(err))
}

func TestEvalCasts(t *testing.T) {
	cast := func(d common.Datum, to common.LType) (common.Datum, error) {
		e, err := BindCast(Lit(d), d.Typ, to)
		require.NoError(t, err)
		return e.Eval(nil)
	}

	d, err := cast(common.VarcharDatum(" 42 "), common.IntegerType())
	require.NoError(t, err)
	assert.Equal(t, intDatum(42), d)

	d, err = cast(intDatum(7), common.VarcharType())
	require.NoError(t, err)
	assert.Equal(t, common.VarcharDatum("7"), d)

	d, err = cast(common.DoubleDatum(2.5), common.BigintType())
	require.NoError(t, err)
	assert.Equal(t, common.BigintDatum(2), d)

	d, err = cast(common.VarcharDatum("true"), common.BooleanType())
	require.NoError(t, err)
	assert.Equal(t, common.BoolDatum(true), d)

	d, err = cast(common.NullDatum(common.Null()), common.VarcharType())
	require.NoError(t, err)
	assert.Equal(t, common.NullDatum(common.VarcharType()), d)

	_, err = cast(common.VarcharDatum("abc"), common.IntegerType())
	require.Error(t, err)
	assert.True(t, ErrInvalidCast.Is(err))

	_, err = cast(common.BigintDatum(math.MaxInt64), common.IntegerType())
	require.Error(t, err)
	assert.True(t, ErrNumericOverflow.Is(err))

	_, err = BindCast(Lit(common.BoolDatum(true)), common.BooleanType(), common.DateType())
	require.Error(t, err)
	assert.True(t, ErrNoOverload.Is(err))
}

func TestEvalBindErrors(t *testing.T) {
	_, err := BindFunction("nope", nil, nil)
	require.Error(t, err)
	assert.True(t, ErrUnknownFunction.Is(err))

	_, err = BindFunction("+",
		[]*ScalarExpr{Lit(common.VarcharDatum("a")), Lit(intDatum(1))},
		[]common.LType{common.VarcharType(), common.IntegerType()})
	require.Error(t, err)
	assert.True(t, ErrNoOverload.Is(err))
	assert.Contains(t, err.Error(), "text + int4")
}

func TestEvalIf(t *testing.T) {
	e := If(Eq(Col(0), Lit(intDatum(1))), Lit(common.VarcharDatum("one")), Lit(common.VarcharDatum("other")))
	d, err := e.Eval(common.Row{intDatum(1)})
	require.NoError(t, err)
	assert.Equal(t, common.VarcharDatum("one"), d)

	d, err = e.Eval(common.Row{common.NullDatum(common.IntegerType())})
	require.NoError(t, err)
	assert.Equal(t, common.VarcharDatum("other"), d)

	_, err = OuterCol(1, 0, intColumn(false)).Eval(common.Row{intDatum(1)})
	assert.ErrorIs(t, err, errNotConstant)
}

func TestEvalTopK(t *testing.T) {
	rows := intRows([]int64{1, 5}, []int64{2, 3}, []int64{1, 4}, []int64{2, 9}, []int64{1, 6})

	ret := evalTopK(rows, nil, []ColumnOrder{{Column: 1, Desc: true}}, 2, 1)
	assert.Equal(t, intRows([]int64{1, 6}, []int64{1, 5}), ret)

	ret = evalTopK(rows, []int{0}, []ColumnOrder{{Column: 1}}, 1, 0)
	assert.Equal(t, intRows([]int64{1, 4}, []int64{2, 3}), ret)

	ret = evalTopK(rows, []int{0}, nil, -1, 2)
	assert.Equal(t, intRows([]int64{1, 6}), ret)
}

func TestEvalReduce(t *testing.T) {
	rows := intRows([]int64{1, 5}, []int64{2, 3}, []int64{1, 4}, []int64{1, 4})
	aggs := []*AggregateExpr{
		{Func: AGG_Count},
		{Func: AGG_Sum, Expr: Col(1)},
		{Func: AGG_Count, Expr: Col(1), Distinct: true},
		{Func: AGG_Max, Expr: Col(1)},
	}
	typ := common.NewRelationType([]common.ColumnType{
		intColumn(false),
		{Typ: common.BigintType()},
		{Typ: common.BigintType()},
		{Typ: common.BigintType()},
		intColumn(true),
	})
	ret, err := evalReduce(rows, []int{0}, aggs, typ)
	require.NoError(t, err)
	require.Len(t, ret, 2)
	assert.Equal(t, common.Row{intDatum(1), common.BigintDatum(3), common.BigintDatum(13), common.BigintDatum(2), intDatum(5)}, ret[0])
	assert.Equal(t, common.Row{intDatum(2), common.BigintDatum(1), common.BigintDatum(3), common.BigintDatum(1), intDatum(3)}, ret[1])

	ret, err = evalReduce(nil, nil, aggs[:1], common.NewRelationType([]common.ColumnType{{Typ: common.BigintType()}}))
	require.NoError(t, err)
	assert.Empty(t, ret)
}

func TestEvalAvg(t *testing.T) {
	rows := intRows([]int64{1}, []int64{2})
	avg := &AggregateExpr{Func: AGG_Avg, Expr: Col(0)}
	d, err := avg.Eval(rows, common.DecimalType(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "1.5", d.String())

	d, err = avg.Eval(nil, common.DecimalType(0, 0))
	require.NoError(t, err)
	assert.True(t, d.IsNull)
}

func TestEvalJoin(t *testing.T) {
	left := intRows([]int64{1}, []int64{2})
	right := intRows([]int64{2}, []int64{3})
	typ := common.NewRelationType([]common.ColumnType{intColumn(false)})
	on := Eq(Col(0), Col(1))
	null := common.NullDatum(common.IntegerType())

	ret, err := evalJoin(left, right, typ, typ, JT_Inner, on)
	require.NoError(t, err)
	assert.Equal(t, intRows([]int64{2, 2}), ret)

	ret, err = evalJoin(left, right, typ, typ, JT_Full, on)
	require.NoError(t, err)
	assert.Equal(t, []common.Row{
		{intDatum(1), null},
		{intDatum(2), intDatum(2)},
		{null, intDatum(3)},
	}, ret)

	ret, err = evalJoin(left, right, typ, typ, JT_Inner, nil)
	require.NoError(t, err)
	assert.Len(t, ret, 4)
}

func TestEvalDifference(t *testing.T) {
	pos := [][]common.Row{intRows([]int64{1}, []int64{2}, []int64{1}), intRows([]int64{3})}
	neg := [][]common.Row{intRows([]int64{1}, []int64{3}, []int64{3}, []int64{4})}
	assert.Equal(t, intRows([]int64{1}, []int64{2}), evalDifference(pos, neg))
}

func TestEvalDistinct(t *testing.T) {
	rows := intRows([]int64{2}, []int64{1}, []int64{2})
	assert.Equal(t, intRows([]int64{1}, []int64{2}), evalDistinct(rows))
}
