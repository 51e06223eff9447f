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
	"go.uber.org/zap"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

const maxOptimizeRounds = 100

// Optimize rewrites the plan until no rule applies. Running it on its
// own output changes nothing.
func Optimize(e *RelationExpr) *RelationExpr {
	for round := 0; round < maxOptimizeRounds; round++ {
		opt := &optimizer{}
		e = opt.optimize(e)
		if !opt.changed {
			return e
		}
	}
	util.Warn("optimizer did not reach a fixed point",
		zap.Int("rounds", maxOptimizeRounds))
	return e
}

type optimizer struct {
	changed bool
}

func (opt *optimizer) optimize(e *RelationExpr) *RelationExpr {
	for i, child := range e.Children {
		e.Children[i] = opt.optimize(child)
	}
	ret := opt.apply(e)
	if ret != e {
		opt.changed = true
	}
	return ret
}

func (opt *optimizer) apply(e *RelationExpr) *RelationExpr {
	switch e.Typ {
	case ROT_Let:
		return opt.optimizeLet(e)
	case ROT_Map:
		return opt.optimizeMap(e)
	case ROT_Filter:
		return opt.optimizeFilter(e)
	case ROT_Project:
		return opt.optimizeProject(e)
	case ROT_Join:
		return opt.optimizeJoin(e)
	case ROT_Reduce:
		child := e.Children[0]
		if child.Typ == ROT_Constant {
			rows, err := evalReduce(child.Rows, e.GroupKey, e.Aggregates, e.Type())
			if err == nil {
				return foldedConstant(e, rows)
			}
		}
	case ROT_Distinct:
		child := e.Children[0]
		switch child.Typ {
		case ROT_Constant:
			return foldedConstant(e, evalDistinct(child.Rows))
		case ROT_Distinct:
			return child
		}
	case ROT_TopK:
		child := e.Children[0]
		if child.Typ == ROT_Constant {
			return foldedConstant(e, evalTopK(child.Rows, e.GroupKey, e.Order, e.Limit, e.Offset))
		}
	case ROT_Negate:
		child := e.Children[0]
		if child.Typ == ROT_Negate {
			return child.Children[0]
		}
		if child.IsEmpty() {
			return child
		}
	case ROT_Threshold:
		return opt.optimizeThreshold(e)
	case ROT_Union:
		return opt.optimizeUnion(e)
	}
	return e
}

// foldedConstant replaces e by its rows.
func foldedConstant(e *RelationExpr, rows []common.Row) *RelationExpr {
	typ := e.Type()
	return Constant(rows, common.NewRelationType(typ.Columns))
}

func (opt *optimizer) optimizeLet(e *RelationExpr) *RelationExpr {
	value, body := e.Children[0], e.Children[1]
	uses := body.LetUses()[e.LetId]
	switch {
	case uses == 0:
		return body
	case uses == 1, value.Typ == ROT_Constant, value.Typ == ROT_Get:
		return substituteLet(body, e.LetId, value)
	}
	return e
}

// substituteLet replaces the gets of id by copies of value.
func substituteLet(e *RelationExpr, id LocalId, value *RelationExpr) *RelationExpr {
	if e.Typ == ROT_Get && e.Local && e.LetId == id {
		return copyRelation(value)
	}
	for i, child := range e.Children {
		e.Children[i] = substituteLet(child, id, value)
	}
	return e
}

func (opt *optimizer) optimizeMap(e *RelationExpr) *RelationExpr {
	child := e.Children[0]
	switch child.Typ {
	case ROT_Constant:
		rows, err := evalMap(child.Rows, e.Scalars)
		if err == nil {
			return foldedConstant(e, rows)
		}
	case ROT_Map:
		//later scalars see the earlier ones
		scalars := append(append([]*ScalarExpr{}, child.Scalars...), e.Scalars...)
		return child.Children[0].Map(scalars...)
	}
	return e
}

func (opt *optimizer) optimizeFilter(e *RelationExpr) *RelationExpr {
	child := e.Children[0]
	preds := make([]*ScalarExpr, 0, len(e.Predicates))
	for _, p := range e.Predicates {
		switch {
		case p.IsLiteralTrue():
			continue
		case p.IsLiteralFalseOrNull():
			return Empty(e.Type())
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return child
	}
	switch child.Typ {
	case ROT_Constant:
		rows, err := evalFilter(child.Rows, preds)
		if err == nil {
			return foldedConstant(e, rows)
		}
	case ROT_Filter:
		return child.Children[0].Filter(append(append([]*ScalarExpr{}, child.Predicates...), preds...)...)
	}
	if len(preds) != len(e.Predicates) {
		return child.Filter(preds...)
	}
	return e
}

func (opt *optimizer) optimizeProject(e *RelationExpr) *RelationExpr {
	child := e.Children[0]
	if isIdentity(e.Outputs, child.Arity()) {
		return child
	}
	switch child.Typ {
	case ROT_Constant:
		return foldedConstant(e, evalProject(child.Rows, e.Outputs))
	case ROT_Project:
		outputs := make([]int, len(e.Outputs))
		for i, col := range e.Outputs {
			outputs[i] = child.Outputs[col]
		}
		return child.Children[0].Project(outputs)
	}
	return e
}

func (opt *optimizer) optimizeJoin(e *RelationExpr) *RelationExpr {
	left, right := e.Children[0], e.Children[1]
	if e.On != nil && e.On.IsLiteralTrue() {
		e.On = nil
		opt.changed = true
	}
	if left.Typ == ROT_Constant && right.Typ == ROT_Constant {
		rows, err := evalJoin(left.Rows, right.Rows, left.Type(), right.Type(), e.JoinTyp, e.On)
		if err == nil {
			return foldedConstant(e, rows)
		}
	}
	switch e.JoinTyp {
	case JT_Inner:
		if left.IsEmpty() || right.IsEmpty() {
			return Empty(e.Type())
		}
		if left.IsUnit() {
			return right.Filter(onConjuncts(e.On)...)
		}
		if right.IsUnit() {
			return left.Filter(onConjuncts(e.On)...)
		}
	case JT_Left:
		if left.IsEmpty() {
			return Empty(e.Type())
		}
		if right.IsEmpty() {
			return left.Map(nullColumns(right.Type())...)
		}
	case JT_Right:
		if right.IsEmpty() {
			return Empty(e.Type())
		}
	case JT_Full:
		if left.IsEmpty() && right.IsEmpty() {
			return Empty(e.Type())
		}
	}
	if impl := chooseJoinImpl(e); impl != e.Impl {
		e.Impl = impl
		opt.changed = true
	}
	return e
}

func onConjuncts(on *ScalarExpr) []*ScalarExpr {
	if on == nil {
		return nil
	}
	return on.Conjuncts()
}

func nullColumns(typ common.RelationType) []*ScalarExpr {
	ret := make([]*ScalarExpr, typ.Arity())
	for i, col := range typ.Columns {
		ret[i] = Lit(common.NullDatum(col.Typ))
	}
	return ret
}

// chooseJoinImpl picks the implementation of inner joins. Outer joins
// are never implemented.
func chooseJoinImpl(e *RelationExpr) JoinImpl {
	if e.JoinTyp != JT_Inner {
		return JI_Unimplemented
	}
	if e.On == nil {
		return JI_CrossProduct
	}
	la := e.Children[0].Arity()
	for _, conj := range e.On.Conjuncts() {
		if conj.Typ != ET_Func || (conj.FuncName != "=" && conj.FuncName != "<=>") {
			continue
		}
		l, r := conj.Children[0], conj.Children[1]
		if l.Typ != ET_Column || r.Typ != ET_Column || l.Level != 0 || r.Level != 0 {
			continue
		}
		if (l.Index < la) != (r.Index < la) {
			return JI_Hash
		}
	}
	return JI_Unimplemented
}

func (opt *optimizer) optimizeUnion(e *RelationExpr) *RelationExpr {
	var inputs []*RelationExpr
	flattened := false
	for _, child := range e.Children {
		switch {
		case child.Typ == ROT_Union:
			inputs = append(inputs, child.Children...)
			flattened = true
		case child.IsEmpty():
			flattened = true
		default:
			inputs = append(inputs, child)
		}
	}
	if len(inputs) == 0 {
		return Empty(e.Type())
	}
	allConstant := true
	for _, input := range inputs {
		if input.Typ != ROT_Constant {
			allConstant = false
			break
		}
	}
	if allConstant && len(inputs) > 1 {
		var rows []common.Row
		for _, input := range inputs {
			rows = append(rows, input.Rows...)
		}
		return foldedConstant(e, rows)
	}
	if !flattened {
		return e
	}
	if len(inputs) == 1 {
		return inputs[0]
	}
	return &RelationExpr{Typ: ROT_Union, Children: inputs}
}

// optimizeThreshold folds the difference of constants.
func (opt *optimizer) optimizeThreshold(e *RelationExpr) *RelationExpr {
	child := e.Children[0]
	switch child.Typ {
	case ROT_Constant:
		return child
	case ROT_Threshold:
		return child
	case ROT_Union:
	default:
		return e
	}
	var pos, neg [][]common.Row
	for _, input := range child.Children {
		switch {
		case input.Typ == ROT_Constant:
			pos = append(pos, input.Rows)
		case input.Typ == ROT_Negate && input.Children[0].Typ == ROT_Constant:
			neg = append(neg, input.Children[0].Rows)
		default:
			return e
		}
	}
	return foldedConstant(e, evalDifference(pos, neg))
}
