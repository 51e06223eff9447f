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

	treemap "github.com/liyue201/gostl/ds/map"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

type colRef struct {
	level int
	col   int
}

func cmpColRef(a, b colRef) int {
	switch {
	case a.level != b.level:
		return a.level - b.level
	default:
		return a.col - b.col
	}
}

// ColumnMap maps outer column references (level, column) to columns of
// the relation a plan is applied to. Levels are relative to the plan.
type ColumnMap struct {
	refs *treemap.Map[colRef, int]
}

func NewColumnMap() *ColumnMap {
	return &ColumnMap{refs: treemap.New[colRef, int](cmpColRef)}
}

func (cm *ColumnMap) Len() int {
	return cm.refs.Size()
}

func (cm *ColumnMap) Insert(level, col, pos int) {
	cm.refs.Insert(colRef{level: level, col: col}, pos)
}

func (cm *ColumnMap) Get(level, col int) int {
	pos, err := cm.refs.Get(colRef{level: level, col: col})
	if err != nil {
		panic(fmt.Sprintf("usp unbound outer column level %d #%d", level, col))
	}
	return pos
}

// Keys returns the references ordered by level then column.
func (cm *ColumnMap) Keys() []colRef {
	ret := make([]colRef, 0, cm.Len())
	for iter := cm.refs.Begin(); iter.IsValid(); iter.Next() {
		ret = append(ret, iter.Key())
	}
	return ret
}

func (cm *ColumnMap) String() string {
	ret := "{"
	for i, ref := range cm.Keys() {
		if i > 0 {
			ret += ", "
		}
		ret += fmt.Sprintf("(%d, #%d) -> #%d", ref.level, ref.col, cm.Get(ref.level, ref.col))
	}
	return ret + "}"
}

// escapingRefs collects the references of a nested plan that leave it.
// Levels are made relative to the scope owning the nested plan.
func escapingRefs(sub *RelationExpr) *ColumnMap {
	refs := NewColumnMap()
	sub.VisitColumns(1, func(depth int, col *ScalarExpr) {
		if col.Level >= depth {
			refs.Insert(col.Level-depth, col.Index, 0)
		}
	})
	return refs
}

func isCorrelated(rel *RelationExpr) bool {
	ret := false
	rel.VisitColumns(0, func(depth int, col *ScalarExpr) {
		if col.Level > depth {
			ret = true
		}
	})
	return ret
}

type decorrelator struct {
	gen *IdGen
	//types of lets whose values carry the outer columns
	appliedLets map[LocalId]common.RelationType
}

// Decorrelate lowers the nested plans of scalar subqueries into joins.
// The result has no Select or Exists and no outer column references.
// It never fails.
func Decorrelate(e *RelationExpr, gen *IdGen) *RelationExpr {
	d := &decorrelator{
		gen:         gen,
		appliedLets: make(map[LocalId]common.RelationType),
	}
	return d.applied(e, Unit, NewColumnMap())
}

// applied computes e for every row of the outer relation. The result
// has the outer columns first, then the columns of e. cm places the
// outer references of e among the outer columns.
func (d *decorrelator) applied(e *RelationExpr, getOuter func() *RelationExpr, cm *ColumnMap) *RelationExpr {
	oa := getOuter().Arity()
	prefix := identity(oa)
	shift := func(cols []int) []int {
		ret := make([]int, 0, oa+len(cols))
		ret = append(ret, prefix...)
		for _, c := range cols {
			ret = append(ret, oa+c)
		}
		return ret
	}
	switch e.Typ {
	case ROT_Constant:
		return Product(getOuter(), Constant(cloneRows(e.Rows), e.RelTyp))
	case ROT_Get:
		if e.Local {
			if typ, ok := d.appliedLets[e.LetId]; ok {
				return GetLocal(e.LetId, typ)
			}
			return Product(getOuter(), GetLocal(e.LetId, e.RelTyp))
		}
		get := *e
		return Product(getOuter(), &get)
	case ROT_Let:
		value := e.Children[0]
		if isCorrelated(value) {
			value = d.applied(value, getOuter, cm)
			d.appliedLets[e.LetId] = value.Type()
		} else {
			value = d.applied(value, Unit, NewColumnMap())
		}
		return Let(e.LetId, value, d.applied(e.Children[1], getOuter, cm))
	case ROT_Project:
		return d.applied(e.Children[0], getOuter, cm).Project(shift(e.Outputs))
	case ROT_Map:
		rel := d.applied(e.Children[0], getOuter, cm)
		var pending []*ScalarExpr
		for _, s := range e.Scalars {
			if !s.HasSubquery() {
				pending = append(pending, remap(s, oa, cm))
				continue
			}
			rel = rel.Map(pending...)
			pending = nil
			n := rel.Arity()
			lowered := d.lower(&rel, s, oa, cm)
			if rel.Arity() == n+1 && lowered.Typ == ET_Column && lowered.Index == n {
				continue
			}
			rel = rel.Map(lowered).Project(append(identity(n), rel.Arity()))
		}
		return rel.Map(pending...)
	case ROT_Filter:
		rel := d.applied(e.Children[0], getOuter, cm)
		var pending []*ScalarExpr
		for _, p := range e.Predicates {
			if !p.HasSubquery() {
				pending = append(pending, remap(p, oa, cm))
				continue
			}
			rel = rel.Filter(pending...)
			pending = nil
			n := rel.Arity()
			lowered := d.lower(&rel, p, oa, cm)
			rel = rel.Filter(lowered).Project(identity(n))
		}
		return rel.Filter(pending...)
	case ROT_Join:
		return d.appliedJoin(e, getOuter, cm)
	case ROT_Reduce:
		rel := d.applied(e.Children[0], getOuter, cm)
		aggs := make([]*AggregateExpr, len(e.Aggregates))
		for i, agg := range e.Aggregates {
			aggs[i] = &AggregateExpr{Func: agg.Func, Distinct: agg.Distinct}
			if agg.Expr != nil {
				aggs[i].Expr = remap(agg.Expr, oa, cm)
			}
		}
		reduce := rel.Reduce(shift(e.GroupKey), aggs)
		if len(e.GroupKey) != 0 {
			return reduce
		}
		return d.withDefaults(reduce, getOuter, oa)
	case ROT_Distinct:
		return d.applied(e.Children[0], getOuter, cm).Distinct()
	case ROT_TopK:
		order := make([]ColumnOrder, len(e.Order))
		for i, o := range e.Order {
			order[i] = ColumnOrder{Column: oa + o.Column, Desc: o.Desc}
		}
		return d.applied(e.Children[0], getOuter, cm).TopK(shift(e.GroupKey), order, e.Limit, e.Offset)
	case ROT_Negate:
		return d.applied(e.Children[0], getOuter, cm).Negate()
	case ROT_Threshold:
		return d.applied(e.Children[0], getOuter, cm).Threshold()
	case ROT_Union:
		inputs := make([]*RelationExpr, len(e.Children))
		for i, child := range e.Children {
			inputs[i] = d.applied(child, getOuter, cm)
		}
		return Union(inputs...)
	default:
		panic(fmt.Sprintf("usp rot %s", e.Typ))
	}
}

// withDefaults adds the row a reduction without grouping yields for
// outer rows whose input is empty.
func (d *decorrelator) withDefaults(reduce *RelationExpr, getOuter func() *RelationExpr, oa int) *RelationExpr {
	typ := reduce.Type()
	defaults := make([]*ScalarExpr, len(reduce.Aggregates))
	for i, agg := range reduce.Aggregates {
		if agg.Func == AGG_Count {
			defaults[i] = Lit(common.BigintDatum(0))
		} else {
			defaults[i] = Lit(common.NullDatum(typ.Columns[oa+i].Typ))
		}
	}
	return d.letIn(reduce, func(get func() *RelationExpr) *RelationExpr {
		missing := Union(getOuter(), get().Project(identity(oa)).Negate()).Threshold()
		return Union(get(), missing.Map(defaults...))
	})
}

func (d *decorrelator) appliedJoin(e *RelationExpr, getOuter func() *RelationExpr, cm *ColumnMap) *RelationExpr {
	oa := getOuter().Arity()
	left := d.applied(e.Children[0], getOuter, cm)
	right := d.applied(e.Children[1], getOuter, cm)
	la := e.Children[0].Arity()
	ra := e.Children[1].Arity()

	conds := make([]*ScalarExpr, 0, oa+1)
	if oa != 0 {
		ltyp := left.Type()
		for i := 0; i < oa; i++ {
			conds = append(conds, keyEq(Col(i), Col(oa+la+i), ltyp.Columns[i].Nullable))
		}
	}
	if e.On != nil {
		if e.On.HasSubquery() {
			panic("usp subquery in join condition")
		}
		on := remap(e.On, oa, cm)
		on.Permute(func(idx int) int {
			//right columns move behind the outer columns of the right input
			if idx >= oa+la {
				return idx + oa
			}
			return idx
		})
		conds = append(conds, on)
	}
	join := Join(left, right, e.JoinTyp, And(conds...))
	if oa == 0 {
		return join
	}

	outputs := make([]int, 0, oa+la+ra)
	switch e.JoinTyp {
	case JT_Right:
		outputs = append(outputs, util.Seq(oa+la, 2*oa+la)...)
	case JT_Full:
		//unmatched rows of either side keep their own outer columns
		coalesce := make([]*ScalarExpr, oa)
		for i := 0; i < oa; i++ {
			coalesce[i] = callFunc("coalesce", join.Type().Columns[i].Typ, Col(i), Col(oa+la+i))
		}
		arity := 2*oa + la + ra
		join = join.Map(coalesce...)
		outputs = append(outputs, util.Seq(arity, arity+oa)...)
	default:
		outputs = append(outputs, identity(oa)...)
	}
	outputs = append(outputs, util.Seq(oa, oa+la)...)
	outputs = append(outputs, util.Seq(2*oa+la, 2*oa+la+ra)...)
	return join.Project(outputs)
}

// letIn binds rel to a local id unless it is a local Get already.
func (d *decorrelator) letIn(rel *RelationExpr, body func(get func() *RelationExpr) *RelationExpr) *RelationExpr {
	if rel.Typ == ROT_Get && rel.Local {
		return body(func() *RelationExpr {
			return GetLocal(rel.LetId, rel.RelTyp)
		})
	}
	id := d.gen.Next()
	typ := rel.Type()
	return Let(id, rel, body(func() *RelationExpr {
		return GetLocal(id, typ)
	}))
}

// lower replaces the subqueries of e by columns appended to *rel.
func (d *decorrelator) lower(rel **RelationExpr, e *ScalarExpr, oa int, cm *ColumnMap) *ScalarExpr {
	switch e.Typ {
	case ET_Column, ET_Literal:
		return remap(e, oa, cm)
	case ET_Select, ET_Exists:
		var col int
		*rel, col = d.lowerSubquery(*rel, e, oa, cm)
		if e.Typ == ET_Exists {
			return callFunc("coalesce", common.BooleanType(), Col(col), False())
		}
		return Col(col)
	}
	children := make([]*ScalarExpr, len(e.Children))
	for i, child := range e.Children {
		children[i] = d.lower(rel, child, oa, cm)
	}
	return &ScalarExpr{Typ: e.Typ, FuncName: e.FuncName, DataTyp: e.DataTyp, Children: children}
}

// lowerSubquery appends the value of the nested plan of e to every row
// of rel. The nested plan is applied to the distinct values of the
// columns it references, then left joined back on them.
func (d *decorrelator) lowerSubquery(rel *RelationExpr, e *ScalarExpr, oa int, cm *ColumnMap) (*RelationExpr, int) {
	n := rel.Arity()
	refs := escapingRefs(e.Subquery)
	inner := NewColumnMap()
	positions := make([]int, 0, refs.Len())
	for _, ref := range refs.Keys() {
		pos := oa + ref.col
		if ref.level > 0 {
			pos = cm.Get(ref.level, ref.col)
		}
		inner.Insert(ref.level+1, ref.col, len(positions))
		positions = append(positions, pos)
	}
	k := len(positions)
	typ := rel.Type()

	ret := d.letIn(rel, func(get func() *RelationExpr) *RelationExpr {
		keyed := get().Project(positions).Distinct()
		return d.letIn(keyed, func(getKeyed func() *RelationExpr) *RelationExpr {
			sub := d.applied(e.Subquery, getKeyed, inner)
			if e.Typ == ET_Exists {
				sub = sub.Project(identity(k)).Distinct().Map(True())
			}
			conds := make([]*ScalarExpr, k)
			for i, pos := range positions {
				conds[i] = keyEq(Col(pos), Col(n+i), typ.Columns[pos].Nullable)
			}
			join := Join(get(), sub, JT_Left, And(conds...))
			return join.Project(append(identity(n), n+sub.Arity()-1))
		})
	})
	return ret, n
}

// keyEq matches an outer column with its correlation key. Null keys
// match each other.
func keyEq(l, r *ScalarExpr, nullable bool) *ScalarExpr {
	if nullable {
		return NullSafeEq(l, r)
	}
	return Eq(l, r)
}

// remap moves a scalar without subqueries onto the applied relation.
func remap(e *ScalarExpr, oa int, cm *ColumnMap) *ScalarExpr {
	switch e.Typ {
	case ET_Column:
		if e.Level == 0 {
			return Col(oa + e.Index)
		}
		return Col(cm.Get(e.Level, e.Index))
	case ET_Literal:
		return Lit(e.Datum)
	case ET_Select, ET_Exists:
		panic("usp remap of subquery")
	}
	children := make([]*ScalarExpr, len(e.Children))
	for i, child := range e.Children {
		children[i] = remap(child, oa, cm)
	}
	return &ScalarExpr{Typ: e.Typ, FuncName: e.FuncName, DataTyp: e.DataTyp, Children: children}
}

func cloneRows(rows []common.Row) []common.Row {
	ret := make([]common.Row, len(rows))
	for i, row := range rows {
		ret[i] = append(common.Row{}, row...)
	}
	return ret
}
