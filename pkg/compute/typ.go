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
	"fmt"
	"slices"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

// TypeCache annotates relations with their types and keys. Types are a
// function of the subtree, so a relation is typed at most once.
type TypeCache struct {
	_types map[*RelationExpr]common.RelationType
}

func NewTypeCache() *TypeCache {
	return &TypeCache{_types: make(map[*RelationExpr]common.RelationType)}
}

// Type computes the types and keys of e.
func (e *RelationExpr) Type() common.RelationType {
	return NewTypeCache().Type(e)
}

func (tc *TypeCache) Type(e *RelationExpr) common.RelationType {
	if typ, ok := tc._types[e]; ok {
		return typ
	}
	typ := tc.derive(e)
	tc._types[e] = typ
	return typ
}

func (tc *TypeCache) derive(e *RelationExpr) common.RelationType {
	switch e.Typ {
	case ROT_Constant:
		return constantType(e)
	case ROT_Get:
		return e.RelTyp
	case ROT_Let:
		tc.Type(e.Children[0])
		return tc.Type(e.Children[1])
	case ROT_Project:
		input := tc.Type(e.Children[0])
		cols := make([]common.ColumnType, len(e.Outputs))
		for i, out := range e.Outputs {
			cols[i] = input.Columns[out]
		}
		ret := common.NewRelationType(cols)
		for _, key := range input.Keys {
			if newKey, ok := projectKey(key, e.Outputs); ok {
				ret = ret.WithKey(newKey)
			}
		}
		return ret
	case ROT_Map:
		input := tc.Type(e.Children[0])
		cols := util.CopyTo(input.Columns)
		for _, s := range e.Scalars {
			cols = append(cols, s.ColumnType(cols))
		}
		return common.NewRelationType(cols).WithKeys(input.Keys)
	case ROT_Filter:
		return tc.Type(e.Children[0])
	case ROT_Join:
		return joinType(tc.Type(e.Children[0]), tc.Type(e.Children[1]), e.JoinTyp)
	case ROT_Reduce:
		input := tc.Type(e.Children[0])
		cols := make([]common.ColumnType, 0, len(e.GroupKey)+len(e.Aggregates))
		for _, g := range e.GroupKey {
			cols = append(cols, input.Columns[g])
		}
		for _, agg := range e.Aggregates {
			cols = append(cols, agg.ColumnType(input.Columns, len(e.GroupKey) == 0))
		}
		return common.NewRelationType(cols).WithKey(util.Seq(0, len(e.GroupKey)))
	case ROT_Distinct:
		input := tc.Type(e.Children[0])
		return common.NewRelationType(input.Columns).WithKeys(input.Keys).WithKey(util.Seq(0, input.Arity()))
	case ROT_TopK:
		input := tc.Type(e.Children[0])
		if e.Limit == 1 {
			return input.WithKey(e.GroupKey)
		}
		return input
	case ROT_Negate:
		return common.NewRelationType(tc.Type(e.Children[0]).Columns)
	case ROT_Threshold:
		return tc.Type(e.Children[0])
	case ROT_Union:
		cols := util.CopyTo(tc.Type(e.Children[0]).Columns)
		for _, child := range e.Children[1:] {
			typ := tc.Type(child)
			for i := range cols {
				cols[i] = cols[i].Union(typ.Columns[i])
			}
		}
		return common.NewRelationType(cols)
	default:
		panic(fmt.Sprintf("usp rot %d", e.Typ))
	}
}

// constantType derives nullability from the rows. Distinct rows make
// the whole row a key.
func constantType(e *RelationExpr) common.RelationType {
	cols := util.CopyTo(e.RelTyp.Columns)
	if len(e.Rows) != 0 {
		for i := range cols {
			cols[i].Nullable = false
			for _, row := range e.Rows {
				if row[i].IsNull {
					cols[i].Nullable = true
					break
				}
			}
		}
	}
	ret := common.NewRelationType(cols)
	if len(e.Rows) == 0 {
		return ret
	}
	rows := slices.Clone(e.Rows)
	slices.SortFunc(rows, common.Row.Compare)
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Equal(rows[i]) {
			return ret
		}
	}
	return ret.WithKey(util.Seq(0, len(cols)))
}

// projectKey maps a key through a projection. A key survives only if
// all its columns do.
func projectKey(key []int, outputs []int) ([]int, bool) {
	ret := make([]int, 0, len(key))
	for _, k := range key {
		pos := slices.Index(outputs, k)
		if pos < 0 {
			return nil, false
		}
		ret = append(ret, pos)
	}
	return ret, true
}

func joinType(left, right common.RelationType, jt JoinType) common.RelationType {
	cols := make([]common.ColumnType, 0, left.Arity()+right.Arity())
	for _, col := range left.Columns {
		cols = append(cols, col.WithNullable(col.Nullable || jt == JT_Right || jt == JT_Full))
	}
	for _, col := range right.Columns {
		cols = append(cols, col.WithNullable(col.Nullable || jt == JT_Left || jt == JT_Full))
	}
	ret := common.NewRelationType(cols)
	if jt != JT_Inner {
		return ret
	}
	for _, lk := range left.Keys {
		for _, rk := range right.Keys {
			key := slices.Clone(lk)
			for _, k := range rk {
				key = append(key, k+left.Arity())
			}
			ret = ret.WithKey(key)
		}
	}
	return ret
}

// ColumnType of an aggregate. Without grouping an empty input still
// yields one row, so only count stays non-null.
func (agg *AggregateExpr) ColumnType(input []common.ColumnType, global bool) common.ColumnType {
	if agg.Func == AGG_Count {
		return common.ColumnType{Typ: common.BigintType()}
	}
	arg := agg.Expr.ColumnType(input)
	typ, _ := aggResultType(agg.Func, arg.Typ)
	return common.ColumnType{Typ: typ, Nullable: arg.Nullable || global}
}

func aggResultType(fun AggFunc, arg common.LType) (common.LType, bool) {
	switch fun {
	case AGG_Count:
		return common.BigintType(), true
	case AGG_Sum:
		switch arg.Id {
		case common.LTID_INTEGER, common.LTID_NULL:
			return common.BigintType(), true
		case common.LTID_BIGINT, common.LTID_DECIMAL:
			return common.DecimalType(0, 0), true
		case common.LTID_DOUBLE:
			return common.DoubleType(), true
		}
	case AGG_Avg:
		switch arg.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT, common.LTID_DECIMAL, common.LTID_NULL:
			return common.DecimalType(0, 0), true
		case common.LTID_DOUBLE:
			return common.DoubleType(), true
		}
	case AGG_Min, AGG_Max:
		return arg, true
	}
	return common.LType{}, false
}

func (agg *AggregateExpr) String() string {
	return agg.format(func(*RelationExpr) string { return "?" })
}

func (agg *AggregateExpr) format(sub func(*RelationExpr) string) string {
	if agg.Expr == nil {
		return agg.Func.String() + "(*)"
	}
	distinct := ""
	if agg.Distinct {
		distinct = "distinct "
	}
	return fmt.Sprintf("%s(%s%s)", agg.Func, distinct, agg.Expr.format(sub))
}
