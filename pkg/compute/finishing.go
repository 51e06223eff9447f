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
)

// Finishing is the ordering, limit and projection applied once to the
// result of a query instead of being maintained by the plan.
type Finishing struct {
	Order   []ColumnOrder
	Limit   int //negative means no limit
	Offset  int
	Project []int
}

func trivialFinishing(arity int) *Finishing {
	return &Finishing{Limit: -1, Project: identity(arity)}
}

// IsTrivial reports a finishing that returns its input unchanged.
func (f *Finishing) IsTrivial(arity int) bool {
	return len(f.Order) == 0 && f.Limit < 0 && f.Offset == 0 && isIdentity(f.Project, arity)
}

func (f *Finishing) String() string {
	return fmt.Sprintf("Finish order_by=%s limit=%s offset=%d project=%s",
		formatOrder(f.Order), formatLimit(f.Limit), f.Offset, formatColumns(f.Project))
}

// Apply finishes the rows of a computed result.
func (f *Finishing) Apply(rows []common.Row) []common.Row {
	rows = evalTopK(slices.Clone(rows), nil, f.Order, f.Limit, f.Offset)
	return evalProject(rows, f.Project)
}

// ExtractFinishing takes the top TopK without grouping, with the
// projection above it, out of the plan. Lets wrapping the query are
// looked through.
func ExtractFinishing(e *RelationExpr) (*RelationExpr, *Finishing) {
	fin := trivialFinishing(e.Arity())
	var parent *RelationExpr
	target := e
	for target.Typ == ROT_Let {
		parent = target
		target = target.Children[1]
	}

	var project []int
	top := target
	if top.Typ == ROT_Project && top.Children[0].Typ == ROT_TopK {
		project = top.Outputs
		top = top.Children[0]
	}
	if top.Typ != ROT_TopK || len(top.GroupKey) != 0 {
		return e, fin
	}
	fin.Order = top.Order
	fin.Limit = top.Limit
	fin.Offset = top.Offset
	if project != nil {
		fin.Project = project
	} else {
		fin.Project = identity(top.Arity())
	}

	rest := top.Children[0]
	if parent == nil {
		return rest, fin
	}
	parent.Children[1] = rest
	return e, fin
}
