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
)

type pendingPlan struct {
	id   int
	plan *RelationExpr
}

// explainer numbers the blocks of one rendering.
type explainer struct {
	typed bool
	next  int
	lets  map[LocalId]int
	types *TypeCache
}

// Explain renders the plan as numbered blocks. Inputs of joins and
// unions get their own blocks before the block using them. fin is
// rendered as a last line when it does anything.
func Explain(e *RelationExpr, fin *Finishing, typed bool) string {
	ex := &explainer{
		typed: typed,
		lets:  make(map[LocalId]int),
		types: NewTypeCache(),
	}
	fc := &FormatCtx{}
	ex.renderPlan(fc, e, -1)
	if fin != nil && !fin.IsTrivial(e.Arity()) {
		fc.Writeln("")
		fc.Writeln(fin.String())
	}
	return fc.String()
}

func (ex *explainer) renderPlan(fc *FormatCtx, e *RelationExpr, id int) {
	first := true
	sep := func() {
		if !first {
			fc.Writeln("")
		}
		first = false
	}
	ex.renderChain(fc, e, "", id, sep)
}

// renderChain writes the block of the unary chain starting at e. Lets
// along the chain write their values first and stay out of the block.
func (ex *explainer) renderChain(fc *FormatCtx, e *RelationExpr, letHeader string, id int, sep func()) int {
	var ops []*RelationExpr
	for cur := e; ; {
		if cur.Typ == ROT_Let {
			value := ex.renderChain(fc, cur.Children[0], " Let "+cur.LetId.String()+" =", -1, sep)
			ex.lets[cur.LetId] = value
			cur = cur.Children[1]
			continue
		}
		ops = append(ops, cur)
		if !cur.Typ.isUnary() {
			break
		}
		cur = cur.Children[0]
	}

	var inputs []int
	if bottom := ops[len(ops)-1]; bottom.Typ == ROT_Join || bottom.Typ == ROT_Union {
		for _, child := range bottom.Children {
			inputs = append(inputs, ex.renderChain(fc, child, "", -1, sep))
		}
	}

	if id < 0 {
		id = ex.next
		ex.next++
	}
	sep()
	fc.Writefln("%%%d =%s", id, letHeader)
	var nested []pendingPlan
	for i := len(ops) - 1; i >= 0; i-- {
		ex.renderOp(fc, ops[i], inputs, &nested)
	}
	for _, sub := range nested {
		fc.Writeln("| |")
		fc.AddPrefix("| | ")
		ex.renderPlan(fc, sub.plan, sub.id)
		fc.RestorePrefix()
	}
	return id
}

func (ex *explainer) renderOp(fc *FormatCtx, e *RelationExpr, inputs []int, nested *[]pendingPlan) {
	// nested plans are numbered in order of appearance
	sub := func(plan *RelationExpr) string {
		id := ex.next
		ex.next++
		*nested = append(*nested, pendingPlan{id: id, plan: plan})
		return fmt.Sprintf("%%%d", id)
	}
	var subLines []string
	var line string
	switch e.Typ {
	case ROT_Constant:
		line = "Constant"
		for _, row := range e.Rows {
			line += " " + row.String()
		}
	case ROT_Get:
		if e.Local {
			if id, ok := ex.lets[e.LetId]; ok {
				line = fmt.Sprintf("Get %%%d (%s)", id, e.LetId)
			} else {
				line = "Get " + e.LetId.String()
			}
		} else {
			line = fmt.Sprintf("Get %s (%s)", e.Name, e.Id)
		}
	case ROT_Project:
		line = "Project " + formatColumns(e.Outputs)
	case ROT_Map:
		line = "Map " + formatScalars(e.Scalars, sub)
	case ROT_Filter:
		line = "Filter " + formatScalars(e.Predicates, sub)
	case ROT_Join:
		line = "Join " + formatInputs(inputs)
		if e.JoinTyp != JT_Inner {
			subLines = append(subLines, "type = "+e.JoinTyp.String())
		}
		if e.On != nil {
			subLines = append(subLines, "on = "+e.On.format(sub))
		}
		subLines = append(subLines, "implementation = "+e.Impl.String())
	case ROT_Reduce:
		aggs := make([]string, len(e.Aggregates))
		for i, agg := range e.Aggregates {
			aggs[i] = agg.format(sub)
		}
		line = fmt.Sprintf("Reduce group=%s aggregates=(%s)", formatColumns(e.GroupKey), strings.Join(aggs, ", "))
	case ROT_Distinct:
		line = "Distinct"
	case ROT_TopK:
		line = fmt.Sprintf("TopK group=%s order=%s limit=%s offset=%d",
			formatColumns(e.GroupKey), formatOrder(e.Order), formatLimit(e.Limit), e.Offset)
	case ROT_Negate:
		line = "Negate"
	case ROT_Threshold:
		line = "Threshold"
	case ROT_Union:
		line = "Union " + formatInputs(inputs)
	default:
		panic(fmt.Sprintf("usp rot %s", e.Typ))
	}
	fc.Writeln("| " + line)
	for _, s := range subLines {
		fc.Writeln("| | " + s)
	}
	if ex.typed {
		typ := ex.types.Type(e)
		fc.Writefln("| | types = (%s)", typ.TypesString())
		fc.Writefln("| | keys = (%s)", typ.KeysString())
	}
}

func formatInputs(inputs []int) string {
	parts := make([]string, len(inputs))
	for i, id := range inputs {
		parts[i] = fmt.Sprintf("%%%d", id)
	}
	return strings.Join(parts, " ")
}
