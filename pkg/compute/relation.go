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

	"github.com/huandu/go-clone"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

// ROT is the kind of a relation operator.
type ROT int

const (
	ROT_Constant ROT = iota
	ROT_Get
	ROT_Let
	ROT_Project
	ROT_Map
	ROT_Filter
	ROT_Join
	ROT_Reduce
	ROT_Distinct
	ROT_TopK
	ROT_Negate
	ROT_Threshold
	ROT_Union
)

func (rot ROT) String() string {
	switch rot {
	case ROT_Constant:
		return "Constant"
	case ROT_Get:
		return "Get"
	case ROT_Let:
		return "Let"
	case ROT_Project:
		return "Project"
	case ROT_Map:
		return "Map"
	case ROT_Filter:
		return "Filter"
	case ROT_Join:
		return "Join"
	case ROT_Reduce:
		return "Reduce"
	case ROT_Distinct:
		return "Distinct"
	case ROT_TopK:
		return "TopK"
	case ROT_Negate:
		return "Negate"
	case ROT_Threshold:
		return "Threshold"
	case ROT_Union:
		return "Union"
	default:
		panic(fmt.Sprintf("usp rot %d", rot))
	}
}

// unary operators keep their input in Children[0]
func (rot ROT) isUnary() bool {
	switch rot {
	case ROT_Project, ROT_Map, ROT_Filter, ROT_Reduce,
		ROT_Distinct, ROT_TopK, ROT_Negate, ROT_Threshold:
		return true
	default:
		return false
	}
}

type JoinType int

const (
	JT_Inner JoinType = iota
	JT_Left
	JT_Right
	JT_Full
)

func (jt JoinType) String() string {
	switch jt {
	case JT_Inner:
		return "inner"
	case JT_Left:
		return "left_outer"
	case JT_Right:
		return "right_outer"
	case JT_Full:
		return "full_outer"
	default:
		panic(fmt.Sprintf("usp join type %d", jt))
	}
}

// JoinImpl is the execution strategy chosen for a join.
// JI_Unimplemented means no strategy was chosen. The relation is still
// well defined but an executor must refuse to run it.
type JoinImpl int

const (
	JI_Unimplemented JoinImpl = iota
	JI_CrossProduct
	JI_Hash
)

func (ji JoinImpl) String() string {
	switch ji {
	case JI_Unimplemented:
		return "Unimplemented"
	case JI_CrossProduct:
		return "CrossProduct"
	case JI_Hash:
		return "Hash"
	default:
		panic(fmt.Sprintf("usp join implementation %d", ji))
	}
}

type LocalId int

func (id LocalId) String() string {
	return fmt.Sprintf("l%d", int(id))
}

// IdGen hands out let binding ids for one compilation.
type IdGen struct {
	next LocalId
}

func (gen *IdGen) Next() LocalId {
	ret := gen.next
	gen.next++
	return ret
}

type GetInfo struct {
	Local bool
	Id    storage.GlobalId
	Name  string //qualified name of the catalog item
}

type JoinInfo struct {
	JoinTyp JoinType
	On      *ScalarExpr //nil for cross join
	Impl    JoinImpl
}

type AggFunc int

const (
	AGG_Count AggFunc = iota
	AGG_Sum
	AGG_Min
	AGG_Max
	AGG_Avg
)

func (af AggFunc) String() string {
	switch af {
	case AGG_Count:
		return "count"
	case AGG_Sum:
		return "sum"
	case AGG_Min:
		return "min"
	case AGG_Max:
		return "max"
	case AGG_Avg:
		return "avg"
	default:
		panic(fmt.Sprintf("usp agg func %d", af))
	}
}

func aggFuncByName(name string) (AggFunc, bool) {
	switch name {
	case "count":
		return AGG_Count, true
	case "sum":
		return AGG_Sum, true
	case "min":
		return AGG_Min, true
	case "max":
		return AGG_Max, true
	case "avg":
		return AGG_Avg, true
	}
	return 0, false
}

type AggregateExpr struct {
	Func     AggFunc
	Expr     *ScalarExpr //nil for count(*)
	Distinct bool
}

type ColumnOrder struct {
	Column int
	Desc   bool
}

func (co ColumnOrder) String() string {
	if co.Desc {
		return fmt.Sprintf("#%d desc", co.Column)
	}
	return fmt.Sprintf("#%d asc", co.Column)
}

// RelationExpr is a node of the relational plan.
//
// Let keeps the bound value in Children[0] and the body in Children[1].
// Join keeps left and right inputs. Union has any number of inputs.
type RelationExpr struct {
	Typ      ROT
	Children []*RelationExpr

	//for Constant. Rows are never shared between nodes
	Rows []common.Row
	//declared type of Constant and Get
	RelTyp common.RelationType

	GetInfo
	//for Let and local Get
	LetId LocalId

	//for Project
	Outputs []int
	//for Map
	Scalars []*ScalarExpr
	//for Filter
	Predicates []*ScalarExpr

	JoinInfo

	//for Reduce and TopK
	GroupKey   []int
	Aggregates []*AggregateExpr

	//for TopK
	Order  []ColumnOrder
	Limit  int //negative means no limit
	Offset int
}

func Constant(rows []common.Row, typ common.RelationType) *RelationExpr {
	for _, row := range rows {
		if len(row) != typ.Arity() {
			panic(fmt.Sprintf("usp constant row %s with arity %d", row, typ.Arity()))
		}
	}
	return &RelationExpr{Typ: ROT_Constant, Rows: rows, RelTyp: typ}
}

// Unit is the single row of zero columns.
func Unit() *RelationExpr {
	return Constant([]common.Row{{}}, common.NewRelationType(nil))
}

// Empty has no rows.
func Empty(typ common.RelationType) *RelationExpr {
	typ.Keys = nil
	return Constant(nil, typ)
}

func GetGlobal(ent *storage.CatalogEntry) *RelationExpr {
	return &RelationExpr{
		Typ:    ROT_Get,
		RelTyp: ent.Typ,
		GetInfo: GetInfo{
			Id:   ent.Id,
			Name: ent.FullName(),
		},
	}
}

func GetLocal(id LocalId, typ common.RelationType) *RelationExpr {
	return &RelationExpr{
		Typ:     ROT_Get,
		RelTyp:  typ,
		GetInfo: GetInfo{Local: true},
		LetId:   id,
	}
}

func Let(id LocalId, value, body *RelationExpr) *RelationExpr {
	return &RelationExpr{Typ: ROT_Let, LetId: id, Children: []*RelationExpr{value, body}}
}

func (e *RelationExpr) Project(outputs []int) *RelationExpr {
	return &RelationExpr{Typ: ROT_Project, Outputs: outputs, Children: []*RelationExpr{e}}
}

func (e *RelationExpr) Map(scalars ...*ScalarExpr) *RelationExpr {
	if len(scalars) == 0 {
		return e
	}
	return &RelationExpr{Typ: ROT_Map, Scalars: scalars, Children: []*RelationExpr{e}}
}

func (e *RelationExpr) Filter(preds ...*ScalarExpr) *RelationExpr {
	if len(preds) == 0 {
		return e
	}
	return &RelationExpr{Typ: ROT_Filter, Predicates: preds, Children: []*RelationExpr{e}}
}

func Join(left, right *RelationExpr, jt JoinType, on *ScalarExpr) *RelationExpr {
	return &RelationExpr{
		Typ:      ROT_Join,
		Children: []*RelationExpr{left, right},
		JoinInfo: JoinInfo{JoinTyp: jt, On: on, Impl: JI_Unimplemented},
	}
}

// Product is the inner join without predicate.
func Product(left, right *RelationExpr) *RelationExpr {
	return Join(left, right, JT_Inner, nil)
}

func (e *RelationExpr) Reduce(groupKey []int, aggs []*AggregateExpr) *RelationExpr {
	return &RelationExpr{Typ: ROT_Reduce, GroupKey: groupKey, Aggregates: aggs, Children: []*RelationExpr{e}}
}

func (e *RelationExpr) Distinct() *RelationExpr {
	return &RelationExpr{Typ: ROT_Distinct, Children: []*RelationExpr{e}}
}

func (e *RelationExpr) TopK(groupKey []int, order []ColumnOrder, limit, offset int) *RelationExpr {
	return &RelationExpr{
		Typ:      ROT_TopK,
		GroupKey: groupKey,
		Order:    order,
		Limit:    limit,
		Offset:   offset,
		Children: []*RelationExpr{e},
	}
}

func (e *RelationExpr) Negate() *RelationExpr {
	return &RelationExpr{Typ: ROT_Negate, Children: []*RelationExpr{e}}
}

func (e *RelationExpr) Threshold() *RelationExpr {
	return &RelationExpr{Typ: ROT_Threshold, Children: []*RelationExpr{e}}
}

func Union(inputs ...*RelationExpr) *RelationExpr {
	if len(inputs) == 1 {
		return inputs[0]
	}
	return &RelationExpr{Typ: ROT_Union, Children: inputs}
}

// Arity is the number of output columns.
func (e *RelationExpr) Arity() int {
	switch e.Typ {
	case ROT_Constant, ROT_Get:
		return e.RelTyp.Arity()
	case ROT_Let:
		return e.Children[1].Arity()
	case ROT_Project:
		return len(e.Outputs)
	case ROT_Map:
		return e.Children[0].Arity() + len(e.Scalars)
	case ROT_Filter, ROT_Distinct, ROT_TopK, ROT_Negate, ROT_Threshold, ROT_Union:
		return e.Children[0].Arity()
	case ROT_Join:
		return e.Children[0].Arity() + e.Children[1].Arity()
	case ROT_Reduce:
		return len(e.GroupKey) + len(e.Aggregates)
	default:
		panic(fmt.Sprintf("usp rot %d", e.Typ))
	}
}

// IsUnit reports a constant of exactly one empty row.
func (e *RelationExpr) IsUnit() bool {
	return e.Typ == ROT_Constant && len(e.Rows) == 1 && e.RelTyp.Arity() == 0
}

// IsEmpty reports a constant without rows.
func (e *RelationExpr) IsEmpty() bool {
	return e.Typ == ROT_Constant && len(e.Rows) == 0
}

// Visit calls fun for every relation in pre-order. Nested plans of
// scalar subqueries are not entered.
func (e *RelationExpr) Visit(fun func(*RelationExpr)) {
	fun(e)
	for _, child := range e.Children {
		child.Visit(fun)
	}
}

// VisitScalars calls fun for every scalar expression owned by e itself.
func (e *RelationExpr) VisitScalars(fun func(*ScalarExpr)) {
	for _, s := range e.Scalars {
		fun(s)
	}
	for _, s := range e.Predicates {
		fun(s)
	}
	if e.Typ == ROT_Join && e.On != nil {
		fun(e.On)
	}
	for _, agg := range e.Aggregates {
		if agg.Expr != nil {
			fun(agg.Expr)
		}
	}
}

// LetUses counts the Gets of every local binding in e.
func (e *RelationExpr) LetUses() map[LocalId]int {
	uses := make(map[LocalId]int)
	var walk func(*RelationExpr)
	walk = func(rel *RelationExpr) {
		if rel.Typ == ROT_Get && rel.Local {
			uses[rel.LetId]++
		}
		for _, child := range rel.Children {
			walk(child)
		}
		rel.VisitScalars(func(s *ScalarExpr) {
			s.VisitSubqueries(walk)
		})
	}
	walk(e)
	return uses
}

func identity(n int) []int {
	return util.Seq(0, n)
}

func isIdentity(outputs []int, arity int) bool {
	return len(outputs) == arity && slices.Equal(outputs, identity(arity))
}

func copyRelation(e *RelationExpr) *RelationExpr {
	return clone.Clone(e).(*RelationExpr)
}
