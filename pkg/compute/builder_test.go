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
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/daviszhen/relplan/pkg/storage"
)

func TestBuildErrors(t *testing.T) {
	p := newTestPlanner(t)
	cases := []struct {
		sql  string
		kind *errors.Kind
	}{
		{"SELECT z FROM t1", ErrUnknownColumn},
		{"SELECT t9.a FROM t1", ErrUnknownTable},
		{"SELECT * FROM nope", storage.ErrUnknownCatalogItem},
		{"SELECT $1", ErrUnknownParameterType},
		{"SELECT y + 1 FROM ordered", ErrNoOverload},
		{"SELECT nosuchfn(1)", ErrUnknownFunction},
		{"SELECT 1::nosuchtype", ErrUnknownType},
		{"SELECT a, count(*) FROM t1 GROUP BY b", ErrGrouping},
		{"SELECT a FROM t1 WHERE count(*) > 1", ErrAggregateNotAllowed},
		{"SELECT a FROM t1, t1 AS x", ErrAmbiguousColumn},
		{"SELECT * FROM t1, t1", ErrDuplicateAlias},
		{"SELECT (SELECT 1, 2)", ErrSubqueryColumns},
		{"SELECT a FROM t1 UNION SELECT c, d FROM t2", ErrColumnCountMismatch},
		{"SELECT a FROM t1 UNION SELECT d FROM t2", ErrSetOpTypeMismatch},
		{"VALUES (1), (1, 2)", ErrColumnCountMismatch},
		{"SELECT a FROM t1 WHERE a", ErrInvalidArgument},
		{"SELECT a FROM t1 LIMIT -1", ErrInvalidArgument},
		{"SELECT a FROM t1 WHERE a IN (SELECT c FROM t2)", ErrUnsupported},
		{"WITH RECURSIVE r AS (SELECT 1) SELECT * FROM r", ErrUnsupported},
		{"SELECT * FROM t1 JOIN t2 USING (a)", ErrUnsupported},
		{"SELECT a FROM t1 ORDER BY 3", ErrInvalidArgument},
	}
	for _, c := range cases {
		err := planErr(p, c.sql)
		require.Error(t, err, c.sql)
		assert.True(t, c.kind.Is(err), "%s: %v", c.sql, err)
	}
}

func TestBuildGroupBy(t *testing.T) {
	p := newTestPlanner(t)

	assert.Equal(t, `%0 =
| Get materialize.public.t1 (u2)
| Reduce group=(#1) aggregates=(count(*))
`, explain(t, p, "EXPLAIN RAW PLAN FOR SELECT b, count(*) FROM t1 GROUP BY b"))

	out := explain(t, p, "EXPLAIN RAW PLAN FOR SELECT b + 1, sum(a) FROM t1 GROUP BY b + 1 HAVING sum(a) > 2")
	assert.Contains(t, out, "| Map (#1 + 1)\n")
	assert.Contains(t, out, "| Reduce group=(#2) aggregates=(sum(#0))\n")
	assert.Contains(t, out, "| Filter (#1 > ")

	plans := planSQL(t, p, "SELECT count(DISTINCT b) AS n FROM t1")
	assert.Equal(t, []string{"n"}, plans.Names)
	assert.Equal(t, "int8", plans.Raw.Type().TypesString())
}

func TestBuildGroupByNonLeadingColumn(t *testing.T) {
	p := newTestPlanner(t)

	assert.Equal(t, `%0 =
| Get materialize.public.t1 (u2)
| Reduce group=(#1) aggregates=()
`, explain(t, p, "EXPLAIN RAW PLAN FOR SELECT b FROM t1 GROUP BY b"))

	assert.Equal(t, `%0 =
| Get materialize.public.t1 (u2)
| Reduce group=(#1) aggregates=(count(*))
| Project (#1, #0)
`, explain(t, p, "EXPLAIN RAW PLAN FOR SELECT count(*), b FROM t1 GROUP BY b"))

	plans := planSQL(t, p, "SELECT b FROM t1 GROUP BY b")
	assert.NoError(t, Validate(plans.Optimized))
	assert.Equal(t, "int4?", plans.Optimized.Type().TypesString())
}

func TestBuildSetOperations(t *testing.T) {
	p := newTestPlanner(t)

	assert.Equal(t, `%0 =
| Get materialize.public.t1 (u2)
| Project (#0)

%1 =
| Get materialize.public.t2 (u3)
| Project (#0)

%2 =
| Union %0 %1
`, explain(t, p, "EXPLAIN RAW PLAN FOR SELECT a FROM t1 UNION ALL SELECT c FROM t2"))

	out := explain(t, p, "EXPLAIN RAW PLAN FOR SELECT a FROM t1 UNION SELECT c FROM t2")
	assert.Contains(t, out, "| Union %0 %1\n| Distinct\n")

	out = explain(t, p, "EXPLAIN RAW PLAN FOR SELECT a FROM t1 EXCEPT ALL SELECT c FROM t2")
	assert.Contains(t, out, "| Negate\n")
	assert.Contains(t, out, "| Threshold\n")

	out = explain(t, p, "EXPLAIN RAW PLAN FOR SELECT a FROM t1 INTERSECT SELECT c FROM t2")
	assert.Contains(t, out, "= Let l")

	plans := planSQL(t, p, "SELECT 1 UNION ALL SELECT 2::int8")
	assert.Equal(t, "int8", plans.Raw.Type().TypesString())
}

func TestBuildValues(t *testing.T) {
	p := newTestPlanner(t)

	assert.Equal(t, `%0 =
| Constant (1, "a") (2, null)
`, explain(t, p, "EXPLAIN RAW PLAN FOR VALUES (1, 'a'), (2, NULL)"))

	plans := planSQL(t, p, "VALUES (1, 'a'), (2, NULL)")
	assert.Equal(t, []string{"column1", "column2"}, plans.Names)
	assert.Equal(t, "int4, text?", plans.Raw.Type().TypesString())

	out := explain(t, p, "EXPLAIN RAW PLAN FOR VALUES (1), (1 + 1)")
	assert.Contains(t, out, "| Constant (1)\n")
	assert.Contains(t, out, "| Constant ()\n| Map (1 + 1)\n")
	assert.Equal(t, `%0 =
| Constant (1) (2)
`, explain(t, p, "EXPLAIN OPTIMIZED PLAN FOR VALUES (1), (1 + 1)"))
}

func TestBuildCommonTableExpressions(t *testing.T) {
	p := newTestPlanner(t)

	out := explain(t, p, "EXPLAIN RAW PLAN FOR WITH w AS (SELECT a FROM t1) SELECT * FROM w, w AS v")
	assert.Contains(t, out, "%0 = Let l0 =\n| Get materialize.public.t1 (u2)\n| Project (#0)\n")
	assert.Contains(t, out, "| Get %0 (l0)\n")

	plans := planSQL(t, p, "WITH w (x) AS (SELECT a FROM t1) SELECT x FROM w")
	assert.Equal(t, []string{"x"}, plans.Names)

	err := planErr(p, "WITH w AS (SELECT 1), w AS (SELECT 2) SELECT * FROM w")
	require.Error(t, err)
	assert.True(t, ErrDuplicateAlias.Is(err))
}

func TestBuildExpressions(t *testing.T) {
	p := newTestPlanner(t)

	out := explain(t, p, "EXPLAIN RAW PLAN FOR SELECT CASE WHEN a > 1 THEN 'big' ELSE 'small' END FROM t1")
	assert.Contains(t, out, "| Map if (#0 > 1) then {\"big\"} else {\"small\"}\n")

	out = explain(t, p, "EXPLAIN RAW PLAN FOR SELECT a IS NOT DISTINCT FROM b, a IS DISTINCT FROM b FROM t1")
	assert.Contains(t, out, "| Map (#0 <=> #1), not((#0 <=> #1))\n")

	plans := planSQL(t, p, "SELECT coalesce(b, 0), a IS NULL, d FROM t1, t2")
	assert.Equal(t, []string{"coalesce", "?column?", "d"}, plans.Names)
	assert.Equal(t, "int4, bool, text?", plans.Raw.Type().TypesString())
}
