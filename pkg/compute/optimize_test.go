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

	"github.com/daviszhen/relplan/pkg/common"
)

func twoInts() common.RelationType {
	return common.NewRelationType([]common.ColumnType{intColumn(false), intColumn(true)})
}

func TestOptimizeFoldsConstants(t *testing.T) {
	join := Join(intConstant(1, []int64{1}, []int64{2}), intConstant(1, []int64{10}), JT_Inner, nil)
	assert.Equal(t, `%0 =
| Constant (1, 10) (2, 10)
`, Explain(Optimize(join), nil, false))

	add, err := BindFunction("+", []*ScalarExpr{Col(0), Col(1)},
		[]common.LType{common.IntegerType(), common.IntegerType()})
	assert.NoError(t, err)
	plan := Join(intConstant(1, []int64{1}, []int64{2}), intConstant(1, []int64{10}), JT_Inner, nil).
		Map(add).
		Filter(callFunc(">", common.BooleanType(), Col(2), Lit(intDatum(11)))).
		Project([]int{2})
	assert.Equal(t, `%0 =
| Constant (12)
`, Explain(Optimize(plan), nil, false))

	left := Join(intConstant(1, []int64{1}, []int64{2}), intConstant(1, []int64{2}), JT_Left, Eq(Col(0), Col(1)))
	assert.Equal(t, `%0 =
| Constant (1, null) (2, 2)
| | types = (int4, int4?)
| | keys = ((#0, #1))
`, Explain(Optimize(left), nil, true))
}

func TestOptimizeFoldsAggregates(t *testing.T) {
	aggs := []*AggregateExpr{
		{Func: AGG_Count},
		{Func: AGG_Sum, Expr: Col(0)},
		{Func: AGG_Max, Expr: Col(0)},
	}
	plan := intConstant(1, []int64{1}, []int64{2}, []int64{2}).Reduce(nil, aggs)
	assert.Equal(t, `%0 =
| Constant (3, 5, 2)
`, Explain(Optimize(plan), nil, false))

	grouped := intConstant(2, []int64{1, 5}, []int64{2, 7}, []int64{1, 6}).
		Reduce([]int{0}, []*AggregateExpr{{Func: AGG_Sum, Expr: Col(1)}})
	assert.Equal(t, `%0 =
| Constant (1, 11) (2, 7)
`, Explain(Optimize(grouped), nil, false))

	distinct := intConstant(1, []int64{2}, []int64{1}, []int64{2}).Distinct()
	assert.Equal(t, `%0 =
| Constant (1) (2)
`, Explain(Optimize(distinct), nil, false))

	topk := intConstant(1, []int64{2}, []int64{1}, []int64{3}).TopK(nil, []ColumnOrder{{Column: 0, Desc: true}}, 2, 0)
	assert.Equal(t, `%0 =
| Constant (3) (2)
`, Explain(Optimize(topk), nil, false))
}

func TestOptimizeFilters(t *testing.T) {
	get := func() *RelationExpr {
		return testGet(1, "t", twoInts())
	}
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
`, Explain(Optimize(get().Filter(True())), nil, false))

	assert.Equal(t, `%0 =
| Constant
| | types = (int4, int4?)
| | keys = ()
`, Explain(Optimize(get().Filter(Eq(Col(0), Col(1)), False())), nil, true))

	assert.Equal(t, `%0 =
| Constant
`, Explain(Optimize(get().Filter(Lit(common.NullDatum(common.BooleanType())))), nil, false))

	merged := get().Filter(Eq(Col(0), Col(1))).Filter(True(), Eq(Col(1), Col(0)))
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
| Filter (#0 = #1), (#1 = #0)
`, Explain(Optimize(merged), nil, false))
}

func TestOptimizeProjectsAndMaps(t *testing.T) {
	get := testGet(1, "t", twoInts())
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
`, Explain(Optimize(get.Project([]int{0, 1})), nil, false))

	get = testGet(1, "t", twoInts())
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
| Project (#0)
`, Explain(Optimize(get.Project([]int{1, 0}).Project([]int{1})), nil, false))

	get = testGet(1, "t", twoInts())
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
| Map #1, #2
`, Explain(Optimize(get.Map(Col(1)).Map(Col(2))), nil, false))
}

func TestOptimizeLets(t *testing.T) {
	typ := twoInts()
	gen := &IdGen{}

	id := gen.Next()
	unused := Let(id, testGet(1, "t", typ), intConstant(1, []int64{1}))
	assert.Equal(t, `%0 =
| Constant (1)
`, Explain(Optimize(unused), nil, false))

	id = gen.Next()
	single := Let(id, testGet(1, "t", typ).Filter(Eq(Col(0), Col(1))), GetLocal(id, typ).Project([]int{1}))
	assert.Equal(t, `%0 =
| Get materialize.public.t (u1)
| Filter (#0 = #1)
| Project (#1)
`, Explain(Optimize(single), nil, false))

	id = gen.Next()
	value := testGet(1, "t", typ).Filter(Eq(Col(0), Col(1)))
	twice := Let(id, value, Union(GetLocal(id, typ), GetLocal(id, typ).Negate()))
	assert.Equal(t, `%0 = Let l2 =
| Get materialize.public.t (u1)
| Filter (#0 = #1)

%1 =
| Get %0 (l2)

%2 =
| Get %0 (l2)
| Negate

%3 =
| Union %1 %2
`, Explain(Optimize(twice), nil, false))
}

func TestOptimizeJoinImplementation(t *testing.T) {
	a := func() *RelationExpr {
		return testGet(1, "a", twoInts())
	}
	b := func() *RelationExpr {
		return testGet(2, "b", twoInts())
	}
	assert.Equal(t, `%0 =
| Get materialize.public.a (u1)

%1 =
| Get materialize.public.b (u2)

%2 =
| Join %0 %1
| | on = (#0 = #2)
| | implementation = Hash
`, Explain(Optimize(Join(a(), b(), JT_Inner, Eq(Col(0), Col(2)))), nil, false))

	assert.Equal(t, `%0 =
| Get materialize.public.a (u1)

%1 =
| Get materialize.public.b (u2)

%2 =
| Join %0 %1
| | implementation = CrossProduct
`, Explain(Optimize(Join(a(), b(), JT_Inner, True())), nil, false))

	cases := []struct {
		jt   JoinType
		on   *ScalarExpr
		impl JoinImpl
	}{
		{JT_Inner, Eq(Col(0), Col(1)), JI_Unimplemented},
		{JT_Inner, And(Eq(Col(0), Col(1)), Eq(Col(3), Col(1))), JI_Hash},
		{JT_Inner, NullSafeEq(Col(1), Col(2)), JI_Hash},
		{JT_Left, Eq(Col(0), Col(2)), JI_Unimplemented},
		{JT_Full, nil, JI_Unimplemented},
	}
	for _, c := range cases {
		got := Optimize(Join(a(), b(), c.jt, c.on))
		assert.Equal(t, ROT_Join, got.Typ)
		assert.Equal(t, c.impl, got.Impl, c.jt.String())
	}
}

func TestOptimizeEmptyJoinInputs(t *testing.T) {
	typ := twoInts()
	got := Optimize(Join(testGet(1, "a", typ), Empty(typ), JT_Inner, nil))
	assert.True(t, got.IsEmpty())
	assert.Equal(t, 4, got.Arity())

	got = Optimize(Join(testGet(1, "a", typ), Empty(typ), JT_Left, Eq(Col(0), Col(2))))
	assert.Equal(t, `%0 =
| Get materialize.public.a (u1)
| | types = (int4, int4?)
| | keys = ()
| Map null, null
| | types = (int4, int4?, int4?, int4?)
| | keys = ()
`, Explain(got, nil, true))

	got = Optimize(Join(Unit(), testGet(1, "a", typ), JT_Inner, Eq(Col(0), Col(1))))
	assert.Equal(t, `%0 =
| Get materialize.public.a (u1)
| Filter (#0 = #1)
`, Explain(got, nil, false))
}

func TestOptimizeSetOperations(t *testing.T) {
	typ := twoInts()
	nested := Union(
		Union(testGet(1, "a", typ), Empty(typ)),
		testGet(2, "b", typ),
	)
	assert.Equal(t, `%0 =
| Get materialize.public.a (u1)

%1 =
| Get materialize.public.b (u2)

%2 =
| Union %0 %1
`, Explain(Optimize(nested), nil, false))

	constants := Union(intConstant(1, []int64{1}), intConstant(1, []int64{2}), intConstant(1, []int64{1}))
	assert.Equal(t, `%0 =
| Constant (1) (2) (1)
`, Explain(Optimize(constants), nil, false))

	except := Union(
		intConstant(1, []int64{1}, []int64{2}, []int64{2}),
		intConstant(1, []int64{2}, []int64{3}).Negate(),
	).Threshold()
	assert.Equal(t, `%0 =
| Constant (1) (2)
`, Explain(Optimize(except), nil, false))

	assert.True(t, Optimize(Empty(typ).Negate()).IsEmpty())
	get := testGet(1, "a", typ)
	assert.Same(t, get, Optimize(get.Negate().Negate()))
	get = testGet(1, "a", typ)
	assert.Equal(t, ROT_Threshold, Optimize(get.Threshold().Threshold()).Typ)
}

// Optimizing an optimized plan renders the same text.
func TestOptimizeIdempotent(t *testing.T) {
	p := newTestPlanner(t)
	queries := append([]string{
		"SELECT * FROM (SELECT 1)",
		"SELECT (SELECT (SELECT 1))",
		"SELECT * FROM ordered ORDER BY y asc, x desc LIMIT 5",
		"SELECT a, b FROM t1 JOIN t2 ON a = c WHERE b > 2",
		"SELECT count(*) FROM t1",
		"SELECT count(*) FROM (SELECT 1 WHERE false) AS s",
		"SELECT 1 UNION SELECT 2 UNION ALL SELECT 1",
		"SELECT x FROM ordered INTERSECT SELECT c FROM t2",
		"VALUES (1, 'a'), (2, NULL)",
		"SELECT a FROM t1 LEFT JOIN t2 ON a = c",
	}, correlatedQueries...)
	for _, sql := range queries {
		plans := planSQL(t, p, sql)
		once := Explain(plans.Optimized, plans.Finishing, true)
		twice := Explain(Optimize(copyRelation(plans.Optimized)), plans.Finishing, true)
		assert.Equal(t, once, twice, sql)
	}
}

func TestOptimizeGlobalAggregateOverEmptyInput(t *testing.T) {
	p := newTestPlanner(t)
	plans := planSQL(t, p, "SELECT count(*), sum(x) FROM (SELECT 1 AS x WHERE false) AS s")
	assert.Equal(t, `%0 =
| Constant (0, null)
`, Explain(plans.Optimized, plans.Finishing, false))

	plans = planSQL(t, p, "SELECT count(*) FROM (VALUES (1), (2)) AS v")
	assert.Equal(t, `%0 =
| Constant (2)
`, Explain(plans.Optimized, plans.Finishing, false))
}
