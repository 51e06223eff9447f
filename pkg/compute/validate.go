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
)

// Validate checks the shape of a decorrelated plan. Nested plans and
// outer references must be gone, columns must be in range and every
// local Get must be bound by an enclosing Let.
func Validate(e *RelationExpr) error {
	return validate(e, make(map[LocalId]int))
}

func validate(e *RelationExpr, scope map[LocalId]int) error {
	if e.Typ == ROT_Let {
		if err := validate(e.Children[0], scope); err != nil {
			return err
		}
		scope[e.LetId]++
		defer func() {
			scope[e.LetId]--
		}()
		return validate(e.Children[1], scope)
	}
	for _, child := range e.Children {
		if err := validate(child, scope); err != nil {
			return err
		}
	}

	input := 0
	if len(e.Children) > 0 {
		input = e.Children[0].Arity()
	}
	checkCols := func(what string, cols []int, arity int) error {
		for _, c := range cols {
			if c < 0 || c >= arity {
				return ErrInvalidPlan.New(fmt.Sprintf("%s column #%d over %d columns", what, c, arity))
			}
		}
		return nil
	}
	switch e.Typ {
	case ROT_Constant:
		for _, row := range e.Rows {
			if len(row) != e.RelTyp.Arity() {
				return ErrInvalidPlan.New(fmt.Sprintf("constant row %s has arity %d", row, e.RelTyp.Arity()))
			}
		}
	case ROT_Get:
		if e.Local && scope[e.LetId] == 0 {
			return ErrInvalidPlan.New("unbound " + e.LetId.String())
		}
	case ROT_Project:
		return checkCols("Project", e.Outputs, input)
	case ROT_Map:
		for i, s := range e.Scalars {
			if err := validateScalar(s, input+i); err != nil {
				return err
			}
		}
	case ROT_Filter:
		for _, p := range e.Predicates {
			if err := validateScalar(p, input); err != nil {
				return err
			}
		}
	case ROT_Join:
		if e.On != nil {
			return validateScalar(e.On, input+e.Children[1].Arity())
		}
	case ROT_Reduce:
		if err := checkCols("Reduce", e.GroupKey, input); err != nil {
			return err
		}
		for _, agg := range e.Aggregates {
			if agg.Expr == nil {
				continue
			}
			if err := validateScalar(agg.Expr, input); err != nil {
				return err
			}
		}
	case ROT_TopK:
		if err := checkCols("TopK", e.GroupKey, input); err != nil {
			return err
		}
		for _, o := range e.Order {
			if err := checkCols("TopK", []int{o.Column}, input); err != nil {
				return err
			}
		}
	case ROT_Union:
		for _, child := range e.Children[1:] {
			if child.Arity() != input {
				return ErrInvalidPlan.New(fmt.Sprintf("union inputs of arity %d and %d", input, child.Arity()))
			}
		}
	}
	return nil
}

func validateScalar(e *ScalarExpr, arity int) error {
	var err error
	e.VisitColumns(0, func(depth int, col *ScalarExpr) {
		switch {
		case err != nil:
		case depth > 0:
			err = ErrInvalidPlan.New("nested plan after decorrelation")
		case col.Level > 0:
			err = ErrInvalidPlan.New("outer reference " + col.String())
		case col.Index >= arity:
			err = ErrInvalidPlan.New(fmt.Sprintf("column %s over %d columns", col, arity))
		}
	})
	if err == nil && e.HasSubquery() {
		err = ErrInvalidPlan.New("nested plan after decorrelation")
	}
	return err
}
