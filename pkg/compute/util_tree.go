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

	"github.com/xlab/treeprint"
)

func WriteExprsTree(tree treeprint.Tree, exprs []*ScalarExpr) {
	for i, e := range exprs {
		p := tree.AddBranch(fmt.Sprintf("%d", i))
		e.Print(p)
	}
}

// Print adds e with its nested plans to tree.
func (e *ScalarExpr) Print(tree treeprint.Tree) {
	tree.AddNode(e.String())
	e.VisitSubqueries(func(sub *RelationExpr) {
		sub.Print(tree.AddBranch(e.Typ.String()))
	})
}

// Print adds the plan rooted at e to tree.
func (e *RelationExpr) Print(tree treeprint.Tree) {
	var branch treeprint.Tree
	switch e.Typ {
	case ROT_Constant:
		branch = tree.AddBranch(fmt.Sprintf("Constant rows=%d", len(e.Rows)))
	case ROT_Get:
		if e.Local {
			branch = tree.AddBranch("Get " + e.LetId.String())
		} else {
			branch = tree.AddBranch(fmt.Sprintf("Get %s (%s)", e.Name, e.Id))
		}
	case ROT_Let:
		branch = tree.AddBranch("Let " + e.LetId.String())
	case ROT_Project:
		branch = tree.AddBranch("Project " + formatColumns(e.Outputs))
	case ROT_Join:
		branch = tree.AddBranch(fmt.Sprintf("Join %s %s", e.JoinTyp, e.Impl))
		if e.On != nil {
			e.On.Print(branch.AddBranch("on"))
		}
	case ROT_Reduce:
		branch = tree.AddBranch("Reduce group=" + formatColumns(e.GroupKey))
		for _, agg := range e.Aggregates {
			branch.AddNode(agg.String())
		}
	case ROT_TopK:
		branch = tree.AddBranch(fmt.Sprintf("TopK group=%s order=%s limit=%s offset=%d",
			formatColumns(e.GroupKey), formatOrder(e.Order), formatLimit(e.Limit), e.Offset))
	default:
		branch = tree.AddBranch(e.Typ.String())
	}
	if len(e.Scalars) != 0 {
		WriteExprsTree(branch.AddBranch("scalars"), e.Scalars)
	}
	if len(e.Predicates) != 0 {
		WriteExprsTree(branch.AddBranch("predicates"), e.Predicates)
	}
	for _, child := range e.Children {
		child.Print(branch)
	}
}

func (e *RelationExpr) String() string {
	tree := treeprint.NewWithRoot("RelationExpr:")
	e.Print(tree)
	return tree.String()
}
