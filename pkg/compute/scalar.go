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
	"strings"

	"github.com/daviszhen/relplan/pkg/common"
)

// ET is the kind of a scalar expression.
type ET int

const (
	ET_Column ET = iota
	ET_Literal
	ET_Func
	ET_If
	//nested plans. only in raw plans
	ET_Select
	ET_Exists
)

func (et ET) String() string {
	switch et {
	case ET_Column:
		return "column"
	case ET_Literal:
		return "literal"
	case ET_Func:
		return "func"
	case ET_If:
		return "if"
	case ET_Select:
		return "select"
	case ET_Exists:
		return "exists"
	default:
		panic(fmt.Sprintf("usp et %d", et))
	}
}

// ScalarExpr computes one value per input row.
//
// A column is addressed by Level and Index. Level 0 is the input of the
// operator owning the expression, level d is the row of the relation d
// subquery boundaries outward.
type ScalarExpr struct {
	Typ ET
	//type of outer columns and function results.
	//function nullability is derived from the arguments
	DataTyp  common.ColumnType
	Level    int
	Index    int
	Datum    common.Datum
	FuncName string
	Children []*ScalarExpr
	Subquery *RelationExpr
}

func Col(idx int) *ScalarExpr {
	return &ScalarExpr{Typ: ET_Column, Index: idx}
}

func OuterCol(level, idx int, typ common.ColumnType) *ScalarExpr {
	return &ScalarExpr{Typ: ET_Column, Level: level, Index: idx, DataTyp: typ}
}

func Lit(d common.Datum) *ScalarExpr {
	return &ScalarExpr{Typ: ET_Literal, Datum: d}
}

func True() *ScalarExpr {
	return Lit(common.BoolDatum(true))
}

func False() *ScalarExpr {
	return Lit(common.BoolDatum(false))
}

func If(cond, then, els *ScalarExpr) *ScalarExpr {
	return &ScalarExpr{Typ: ET_If, Children: []*ScalarExpr{cond, then, els}}
}

func Select(sub *RelationExpr) *ScalarExpr {
	return &ScalarExpr{Typ: ET_Select, Subquery: sub}
}

func Exists(sub *RelationExpr) *ScalarExpr {
	return &ScalarExpr{Typ: ET_Exists, Subquery: sub}
}

// callFunc builds a call whose argument types are known to be valid.
func callFunc(name string, typ common.LType, args ...*ScalarExpr) *ScalarExpr {
	return &ScalarExpr{
		Typ:      ET_Func,
		FuncName: name,
		DataTyp:  common.ColumnType{Typ: typ},
		Children: args,
	}
}

func Eq(l, r *ScalarExpr) *ScalarExpr {
	return callFunc("=", common.BooleanType(), l, r)
}

// NullSafeEq is true when both sides are null or equal.
func NullSafeEq(l, r *ScalarExpr) *ScalarExpr {
	return callFunc("<=>", common.BooleanType(), l, r)
}

// And folds the conjuncts. It returns nil for none.
func And(conds ...*ScalarExpr) *ScalarExpr {
	var ret *ScalarExpr
	for _, cond := range conds {
		if cond == nil {
			continue
		}
		if ret == nil {
			ret = cond
		} else {
			ret = callFunc("and", common.BooleanType(), ret, cond)
		}
	}
	return ret
}

// Conjuncts splits nested ands.
func (e *ScalarExpr) Conjuncts() []*ScalarExpr {
	if e.Typ == ET_Func && e.FuncName == "and" {
		return append(e.Children[0].Conjuncts(), e.Children[1].Conjuncts()...)
	}
	return []*ScalarExpr{e}
}

func (e *ScalarExpr) IsLiteralTrue() bool {
	return e.Typ == ET_Literal && !e.Datum.IsNull &&
		e.Datum.Typ.Id == common.LTID_BOOLEAN && e.Datum.Bool
}

// IsLiteralFalseOrNull is a predicate that never holds.
func (e *ScalarExpr) IsLiteralFalseOrNull() bool {
	if e.Typ != ET_Literal {
		return false
	}
	return e.Datum.IsNull || (e.Datum.Typ.Id == common.LTID_BOOLEAN && !e.Datum.Bool)
}

// ColumnType computes the type against the input columns.
func (e *ScalarExpr) ColumnType(input []common.ColumnType) common.ColumnType {
	switch e.Typ {
	case ET_Column:
		if e.Level > 0 {
			return e.DataTyp
		}
		if e.Index >= len(input) {
			panic(fmt.Sprintf("usp column #%d over %d columns", e.Index, len(input)))
		}
		return input[e.Index]
	case ET_Literal:
		return common.ColumnType{Typ: e.Datum.Typ, Nullable: e.Datum.IsNull}
	case ET_Func:
		fn := getFunction(e.FuncName)
		args := make([]common.ColumnType, len(e.Children))
		for i, child := range e.Children {
			args[i] = child.ColumnType(input)
		}
		return common.ColumnType{Typ: e.DataTyp.Typ, Nullable: fn.nullable(args)}
	case ET_If:
		then := e.Children[1].ColumnType(input)
		els := e.Children[2].ColumnType(input)
		return then.Union(els)
	case ET_Select:
		typ := e.Subquery.Type()
		if typ.Arity() == 0 {
			panic("usp select over zero columns")
		}
		//no row gives null
		return typ.Columns[typ.Arity()-1].WithNullable(true)
	case ET_Exists:
		return common.ColumnType{Typ: common.BooleanType()}
	default:
		panic(fmt.Sprintf("usp et %d", e.Typ))
	}
}

// VisitColumns calls fun for every column reference, entering nested
// plans. depth is the number of subquery boundaries crossed from e.
func (e *ScalarExpr) VisitColumns(depth int, fun func(depth int, col *ScalarExpr)) {
	switch e.Typ {
	case ET_Column:
		fun(depth, e)
	case ET_Select, ET_Exists:
		e.Subquery.VisitColumns(depth+1, fun)
	}
	for _, child := range e.Children {
		child.VisitColumns(depth, fun)
	}
}

// VisitColumns calls fun for every column reference of every scalar in
// the plan, entering nested plans.
func (e *RelationExpr) VisitColumns(depth int, fun func(depth int, col *ScalarExpr)) {
	e.Visit(func(rel *RelationExpr) {
		rel.VisitScalars(func(s *ScalarExpr) {
			s.VisitColumns(depth, fun)
		})
	})
}

// VisitSubqueries calls fun for the nested plans directly under e.
func (e *ScalarExpr) VisitSubqueries(fun func(*RelationExpr)) {
	if e.Typ == ET_Select || e.Typ == ET_Exists {
		fun(e.Subquery)
	}
	for _, child := range e.Children {
		child.VisitSubqueries(fun)
	}
}

func (e *ScalarExpr) HasSubquery() bool {
	has := false
	e.VisitSubqueries(func(*RelationExpr) {
		has = true
	})
	return has
}

// MaxColumn is one past the largest local column referenced.
func (e *ScalarExpr) MaxColumn() int {
	ret := 0
	e.VisitColumns(0, func(depth int, col *ScalarExpr) {
		if col.Level == depth && col.Index+1 > ret {
			ret = col.Index + 1
		}
	})
	return ret
}

// Permute rewrites the local columns in place.
func (e *ScalarExpr) Permute(fun func(idx int) int) {
	e.VisitColumns(0, func(depth int, col *ScalarExpr) {
		if col.Level == depth {
			col.Index = fun(col.Index)
		}
	})
}

// IsCorrelated reports references outside of the local input.
func (e *ScalarExpr) IsCorrelated() bool {
	ret := false
	e.VisitColumns(0, func(depth int, col *ScalarExpr) {
		if col.Level > depth {
			ret = true
		}
	})
	return ret
}

func (e *ScalarExpr) String() string {
	return e.format(func(*RelationExpr) string {
		return "?"
	})
}

// format renders the expression. sub names nested plans.
func (e *ScalarExpr) format(sub func(*RelationExpr) string) string {
	switch e.Typ {
	case ET_Column:
		return "#" + strings.Repeat("^", e.Level) + fmt.Sprint(e.Index)
	case ET_Literal:
		return e.Datum.String()
	case ET_Func:
		args := make([]string, len(e.Children))
		for i, child := range e.Children {
			args[i] = child.format(sub)
		}
		return getFunction(e.FuncName).format(args)
	case ET_If:
		return fmt.Sprintf("if %s then {%s} else {%s}",
			e.Children[0].format(sub),
			e.Children[1].format(sub),
			e.Children[2].format(sub))
	case ET_Select:
		return "select(" + sub(e.Subquery) + ")"
	case ET_Exists:
		return "exists(" + sub(e.Subquery) + ")"
	default:
		panic(fmt.Sprintf("usp et %d", e.Typ))
	}
}

func formatScalars(exprs []*ScalarExpr, sub func(*RelationExpr) string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.format(sub)
	}
	return strings.Join(parts, ", ")
}
