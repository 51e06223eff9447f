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
	"errors"
	"fmt"
	"slices"

	"github.com/daviszhen/relplan/pkg/common"
)

// errNotConstant marks expressions that need an input the folder does
// not have.
var errNotConstant = errors.New("expression is not constant")

// Eval evaluates e over one row.
func (e *ScalarExpr) Eval(row common.Row) (common.Datum, error) {
	switch e.Typ {
	case ET_Column:
		if e.Level != 0 || e.Index >= len(row) {
			return common.Datum{}, errNotConstant
		}
		return row[e.Index], nil
	case ET_Literal:
		return e.Datum, nil
	case ET_Func:
		args := make([]common.Datum, len(e.Children))
		for i, child := range e.Children {
			arg, err := child.Eval(row)
			if err != nil {
				return common.Datum{}, err
			}
			args[i] = arg
		}
		return getFunction(e.FuncName).Eval(e.DataTyp.Typ, args)
	case ET_If:
		cond, err := e.Children[0].Eval(row)
		if err != nil {
			return common.Datum{}, err
		}
		if !cond.IsNull && cond.Bool {
			return e.Children[1].Eval(row)
		}
		return e.Children[2].Eval(row)
	case ET_Select, ET_Exists:
		return common.Datum{}, errNotConstant
	default:
		panic(fmt.Sprintf("usp et %d", e.Typ))
	}
}

// isTrue is the filter semantics. null drops the row.
func isTrue(d common.Datum) bool {
	return !d.IsNull && d.Typ.Id == common.LTID_BOOLEAN && d.Bool
}

// evalMap appends the scalars to every row. Later scalars see the
// earlier ones.
func evalMap(rows []common.Row, scalars []*ScalarExpr) ([]common.Row, error) {
	ret := make([]common.Row, 0, len(rows))
	for _, row := range rows {
		out := make(common.Row, len(row), len(row)+len(scalars))
		copy(out, row)
		for _, s := range scalars {
			d, err := s.Eval(out)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		ret = append(ret, out)
	}
	return ret, nil
}

func evalFilter(rows []common.Row, preds []*ScalarExpr) ([]common.Row, error) {
	ret := make([]common.Row, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, p := range preds {
			d, err := p.Eval(row)
			if err != nil {
				return nil, err
			}
			if !isTrue(d) {
				keep = false
				break
			}
		}
		if keep {
			ret = append(ret, row)
		}
	}
	return ret, nil
}

func evalProject(rows []common.Row, outputs []int) []common.Row {
	ret := make([]common.Row, len(rows))
	for i, row := range rows {
		out := make(common.Row, len(outputs))
		for j, col := range outputs {
			out[j] = row[col]
		}
		ret[i] = out
	}
	return ret
}

// evalJoin runs a nested loop join. Unmatched rows of outer joins are
// padded with nulls of the other side.
func evalJoin(left, right []common.Row, ltyp, rtyp common.RelationType, jt JoinType, on *ScalarExpr) ([]common.Row, error) {
	var ret []common.Row
	rightMatched := make([]bool, len(right))
	for _, l := range left {
		matched := false
		for j, r := range right {
			row := make(common.Row, 0, len(l)+len(r))
			row = append(append(row, l...), r...)
			if on != nil {
				d, err := on.Eval(row)
				if err != nil {
					return nil, err
				}
				if !isTrue(d) {
					continue
				}
			}
			matched = true
			rightMatched[j] = true
			ret = append(ret, row)
		}
		if !matched && (jt == JT_Left || jt == JT_Full) {
			ret = append(ret, append(slices.Clone(l), nullRow(rtyp)...))
		}
	}
	if jt == JT_Right || jt == JT_Full {
		for j, r := range right {
			if !rightMatched[j] {
				ret = append(ret, append(nullRow(ltyp), r...))
			}
		}
	}
	return ret, nil
}

func nullRow(typ common.RelationType) common.Row {
	ret := make(common.Row, typ.Arity())
	for i, col := range typ.Columns {
		ret[i] = common.NullDatum(col.Typ)
	}
	return ret
}

// evalDistinct keeps the first of equal rows in sorted order.
func evalDistinct(rows []common.Row) []common.Row {
	ret := slices.Clone(rows)
	slices.SortStableFunc(ret, common.Row.Compare)
	return slices.CompactFunc(ret, common.Row.Equal)
}

// evalTopK orders each group and cuts it to offset and limit.
func evalTopK(rows []common.Row, group []int, order []ColumnOrder, limit, offset int) []common.Row {
	groups := groupRows(rows, group)
	var ret []common.Row
	for _, g := range groups {
		sorted := slices.Clone(g.rows)
		slices.SortStableFunc(sorted, func(a, b common.Row) int {
			for _, o := range order {
				c := a[o.Column].Compare(b[o.Column])
				if o.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
		if offset >= len(sorted) {
			continue
		}
		sorted = sorted[offset:]
		if limit >= 0 && limit < len(sorted) {
			sorted = sorted[:limit]
		}
		ret = append(ret, sorted...)
	}
	return ret
}

type rowGroup struct {
	key  common.Row
	rows []common.Row
}

// groupRows partitions rows by the key columns, ordered by key.
func groupRows(rows []common.Row, key []int) []*rowGroup {
	var groups []*rowGroup
	for _, row := range rows {
		k := make(common.Row, len(key))
		for i, col := range key {
			k[i] = row[col]
		}
		idx, found := slices.BinarySearchFunc(groups, k, func(g *rowGroup, k common.Row) int {
			return g.key.Compare(k)
		})
		if !found {
			groups = slices.Insert(groups, idx, &rowGroup{key: k})
		}
		groups[idx].rows = append(groups[idx].rows, row)
	}
	return groups
}

// evalReduce groups the rows. Without input there is no group, even
// without a group key.
func evalReduce(rows []common.Row, key []int, aggs []*AggregateExpr, typ common.RelationType) ([]common.Row, error) {
	groups := groupRows(rows, key)
	ret := make([]common.Row, 0, len(groups))
	for _, g := range groups {
		out := slices.Clone(g.key)
		for i, agg := range aggs {
			d, err := agg.Eval(g.rows, typ.Columns[len(key)+i].Typ)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		ret = append(ret, out)
	}
	return ret, nil
}

// Eval computes the aggregate over a group of rows.
func (agg *AggregateExpr) Eval(rows []common.Row, ret common.LType) (common.Datum, error) {
	if agg.Expr == nil {
		return common.BigintDatum(int64(len(rows))), nil
	}
	vals := make([]common.Datum, 0, len(rows))
	for _, row := range rows {
		d, err := agg.Expr.Eval(row)
		if err != nil {
			return common.Datum{}, err
		}
		if !d.IsNull {
			vals = append(vals, d)
		}
	}
	if agg.Distinct {
		slices.SortFunc(vals, common.Datum.Compare)
		vals = slices.CompactFunc(vals, common.Datum.Equal)
	}
	if agg.Func == AGG_Count {
		return common.BigintDatum(int64(len(vals))), nil
	}
	if len(vals) == 0 {
		return common.NullDatum(ret), nil
	}
	switch agg.Func {
	case AGG_Sum, AGG_Avg:
		add := evalArith("+")
		sum, err := castDatum(vals[0], ret)
		if err != nil {
			return common.Datum{}, err
		}
		for _, v := range vals[1:] {
			if v, err = castDatum(v, ret); err != nil {
				return common.Datum{}, err
			}
			if sum, err = add(ret, []common.Datum{sum, v}); err != nil {
				return common.Datum{}, err
			}
		}
		if agg.Func == AGG_Sum {
			return sum, nil
		}
		cnt, err := castDatum(common.BigintDatum(int64(len(vals))), ret)
		if err != nil {
			return common.Datum{}, err
		}
		return evalArith("/")(ret, []common.Datum{sum, cnt})
	case AGG_Min, AGG_Max:
		best := vals[0]
		for _, v := range vals[1:] {
			c := v.Compare(best)
			if (agg.Func == AGG_Min && c < 0) || (agg.Func == AGG_Max && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		panic(fmt.Sprintf("usp agg func %s", agg.Func))
	}
}

// evalDifference computes the positive part of the multiset sum of the
// positive and negated inputs. Rows keep their first appearance order.
func evalDifference(pos, neg [][]common.Row) []common.Row {
	var order []common.Row
	counts := make([]int, 0)
	find := func(row common.Row) int {
		return slices.IndexFunc(order, row.Equal)
	}
	for _, rows := range pos {
		for _, row := range rows {
			if i := find(row); i >= 0 {
				counts[i]++
				continue
			}
			order = append(order, row)
			counts = append(counts, 1)
		}
	}
	for _, rows := range neg {
		for _, row := range rows {
			if i := find(row); i >= 0 {
				counts[i]--
			}
		}
	}
	var ret []common.Row
	for i, row := range order {
		for c := 0; c < counts[i]; c++ {
			ret = append(ret, slices.Clone(row))
		}
	}
	return ret
}
