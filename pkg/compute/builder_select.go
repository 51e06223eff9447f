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

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

type InWhichClause int

const (
	IWC_SELECT InWhichClause = iota
	IWC_WHERE
	IWC_GROUP
	IWC_HAVING
	IWC_ORDER
	IWC_LIMIT
	IWC_JOINON
	IWC_VALUES
	//argument of an aggregate
	IWC_AGG
)

func (iwc InWhichClause) String() string {
	switch iwc {
	case IWC_SELECT:
		return "SELECT"
	case IWC_WHERE:
		return "WHERE"
	case IWC_GROUP:
		return "GROUP BY"
	case IWC_HAVING:
		return "HAVING"
	case IWC_ORDER:
		return "ORDER BY"
	case IWC_LIMIT:
		return "LIMIT"
	case IWC_JOINON:
		return "JOIN conditions"
	case IWC_VALUES:
		return "VALUES"
	case IWC_AGG:
		return "aggregate function calls"
	default:
		panic(fmt.Sprintf("usp iwc %d", iwc))
	}
}

func (iwc InWhichClause) allowAggregate() bool {
	return iwc == IWC_SELECT || iwc == IWC_HAVING || iwc == IWC_ORDER
}

func (iwc InWhichClause) allowSubquery() bool {
	switch iwc {
	case IWC_SELECT, IWC_WHERE, IWC_HAVING, IWC_ORDER, IWC_VALUES:
		return true
	default:
		return false
	}
}

// queryScope collects the grouping of one query block while its
// clauses are bound.
type queryScope struct {
	ctx       *BindContext
	groups    []*ScalarExpr
	groupTyps []common.ColumnType
	groupKeys map[string]int
	aggs      []*AggregateExpr
	aggTyps   []common.ColumnType
	aggKeys   map[string]int
	//placeholders of aggregate results
	aggRefs map[*ScalarExpr]bool
}

func newQueryScope(ctx *BindContext) *queryScope {
	return &queryScope{
		ctx:       ctx,
		groupKeys: make(map[string]int),
		aggKeys:   make(map[string]int),
		aggRefs:   make(map[*ScalarExpr]bool),
	}
}

func (qs *queryScope) grouped() bool {
	return len(qs.groups) != 0 || len(qs.aggs) != 0
}

func (qs *queryScope) addGroup(e *ScalarExpr, typ common.ColumnType) {
	key := e.String()
	if _, ok := qs.groupKeys[key]; ok {
		return
	}
	qs.groupKeys[key] = len(qs.groups)
	qs.groups = append(qs.groups, e)
	qs.groupTyps = append(qs.groupTyps, typ)
}

// addAggregate returns a reference to the aggregate in the output of
// the reduction.
func (qs *queryScope) addAggregate(agg *AggregateExpr, typ common.ColumnType) *ScalarExpr {
	key := agg.String()
	idx, ok := qs.aggKeys[key]
	if !ok {
		idx = len(qs.aggs)
		qs.aggKeys[key] = idx
		qs.aggs = append(qs.aggs, agg)
		qs.aggTyps = append(qs.aggTyps, typ)
	}
	ref := Col(len(qs.groups) + idx)
	qs.aggRefs[ref] = true
	return ref
}

func (qs *queryScope) columnName(idx int) string {
	if idx < len(qs.ctx.names) {
		return qs.ctx.names[idx]
	}
	return fmt.Sprintf("#%d", idx)
}

// ungroup rewrites e from the input of the reduction to its output.
func (qs *queryScope) ungroup(e *ScalarExpr) (*ScalarExpr, error) {
	if e == nil || qs.aggRefs[e] {
		return e, nil
	}
	if idx, ok := qs.groupKeys[e.String()]; ok {
		return Col(idx), nil
	}
	switch e.Typ {
	case ET_Column:
		if e.Level == 0 {
			return nil, ErrGrouping.New(qs.columnName(e.Index))
		}
		return e, nil
	case ET_Select, ET_Exists:
		return e, qs.ungroupNested(e.Subquery)
	}
	for i, child := range e.Children {
		ret, err := qs.ungroup(child)
		if err != nil {
			return nil, err
		}
		e.Children[i] = ret
	}
	return e, nil
}

// ungroupNested rewrites the references of a nested plan into this
// query block. Only grouped columns may be referenced.
func (qs *queryScope) ungroupNested(sub *RelationExpr) error {
	var err error
	sub.VisitColumns(1, func(depth int, col *ScalarExpr) {
		if col.Level != depth || err != nil {
			return
		}
		idx, ok := qs.groupKeys[Col(col.Index).String()]
		if !ok {
			err = ErrGrouping.New(qs.columnName(col.Index))
			return
		}
		col.Index = idx
	})
	return err
}

// buildReduce groups rel by the group expressions.
func (qs *queryScope) buildReduce(rel *RelationExpr) *RelationExpr {
	arity := rel.Arity()
	keys := make([]int, 0, len(qs.groups))
	var extra []*ScalarExpr
	for _, g := range qs.groups {
		if g.Typ == ET_Column && g.Level == 0 {
			keys = append(keys, g.Index)
			continue
		}
		keys = append(keys, arity+len(extra))
		extra = append(extra, g)
	}
	return rel.Map(extra...).Reduce(keys, qs.aggs)
}

type selectItem struct {
	expr *ScalarExpr
	typ  common.ColumnType
	name string
}

type orderItem struct {
	//position in the select list or -1
	output int
	expr   *ScalarExpr
	desc   bool
}

func (b *Builder) buildSelect(sel *pg_query.SelectStmt, ctx *BindContext) (*RelationExpr, []string, error) {
	var err error
	var lets []cteLet
	if sel.WithClause != nil {
		lets, err = b.buildWith(sel.WithClause, ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	var rel *RelationExpr
	var names []string
	switch {
	case sel.Op != pg_query.SetOperation_SETOP_NONE:
		rel, names, err = b.buildSetOp(sel, ctx)
		if err == nil {
			rel, err = b.buildOutputOrder(sel, rel, names)
		}
	case len(sel.ValuesLists) != 0:
		rel, names, err = b.buildValues(sel.ValuesLists, ctx)
		if err == nil {
			rel, err = b.buildOutputOrder(sel, rel, names)
		}
	default:
		rel, names, err = b.buildSelectBlock(sel, ctx)
	}
	if err != nil {
		return nil, nil, err
	}

	for i := len(lets) - 1; i >= 0; i-- {
		rel = Let(lets[i].id, lets[i].value, rel)
	}
	return rel, names, nil
}

type cteLet struct {
	id    LocalId
	value *RelationExpr
}

// buildWith binds the common table expressions in order. Each one
// sees the ones before it.
func (b *Builder) buildWith(with *pg_query.WithClause, ctx *BindContext) ([]cteLet, error) {
	if with.Recursive {
		return nil, ErrUnsupported.New("WITH RECURSIVE")
	}
	ret := make([]cteLet, 0, len(with.Ctes))
	for _, node := range with.Ctes {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("WITH item %T", node.GetNode()))
		}
		if _, ok := ctx.ctes[cte.Ctename]; ok {
			return nil, ErrDuplicateAlias.New(cte.Ctename)
		}
		body := cte.Ctequery.GetSelectStmt()
		if body == nil {
			return nil, ErrUnsupported.New("data-modifying statement in WITH")
		}
		cteCtx := NewBindContext(nil)
		cteCtx.cteScope = ctx
		value, names, err := b.buildSelect(body, cteCtx)
		if err != nil {
			return nil, err
		}
		names, err = renameColumns(cte.Ctename, names, cte.Aliascolnames)
		if err != nil {
			return nil, err
		}
		id := b.idGen.Next()
		ctx.ctes[cte.Ctename] = &cteInfo{id: id, names: names, typ: value.Type()}
		ret = append(ret, cteLet{id: id, value: value})
	}
	return ret, nil
}

func renameColumns(alias string, names []string, aliases []*pg_query.Node) ([]string, error) {
	if len(aliases) == 0 {
		return names, nil
	}
	if len(aliases) > len(names) {
		return nil, ErrColumnCountMismatch.New(alias, len(names), len(aliases))
	}
	ret := util.CopyTo(names)
	for i, node := range aliases {
		ret[i] = node.GetString_().GetSval()
	}
	return ret, nil
}

func (b *Builder) buildSelectBlock(sel *pg_query.SelectStmt, ctx *BindContext) (*RelationExpr, []string, error) {
	if sel.IntoClause != nil {
		return nil, nil, ErrUnsupported.New("SELECT INTO")
	}
	if len(sel.WindowClause) != 0 {
		return nil, nil, ErrUnsupported.New("window functions")
	}
	if len(sel.LockingClause) != 0 {
		return nil, nil, ErrUnsupported.New("locking clause")
	}
	rel, err := b.buildFrom(sel.FromClause, ctx)
	if err != nil {
		return nil, nil, err
	}
	qs := newQueryScope(ctx)

	if sel.WhereClause != nil {
		pred, err := b.bindPredicate(qs, IWC_WHERE, sel.WhereClause)
		if err != nil {
			return nil, nil, err
		}
		rel = rel.Filter(pred)
	}

	for _, node := range sel.GroupClause {
		node, err = groupByTarget(node, sel.TargetList)
		if err != nil {
			return nil, nil, err
		}
		e, typ, err := b.bindExpr(qs, IWC_GROUP, node)
		if err != nil {
			return nil, nil, err
		}
		qs.addGroup(e, typ)
	}

	items, err := b.bindTargets(qs, sel.TargetList)
	if err != nil {
		return nil, nil, err
	}

	var having *ScalarExpr
	if sel.HavingClause != nil {
		having, err = b.bindPredicate(qs, IWC_HAVING, sel.HavingClause)
		if err != nil {
			return nil, nil, err
		}
	}

	orders, err := b.bindOrderBy(qs, sel.SortClause, items)
	if err != nil {
		return nil, nil, err
	}

	if qs.grouped() || having != nil {
		rel = qs.buildReduce(rel)
		for i := range items {
			if items[i].expr, err = qs.ungroup(items[i].expr); err != nil {
				return nil, nil, err
			}
		}
		for _, order := range orders {
			if order.expr, err = qs.ungroup(order.expr); err != nil {
				return nil, nil, err
			}
		}
		if having, err = qs.ungroup(having); err != nil {
			return nil, nil, err
		}
		if having != nil {
			rel = rel.Filter(having)
		}
	}

	limit, offset, err := b.bindLimit(qs, sel)
	if err != nil {
		return nil, nil, err
	}

	distinct := false
	if len(sel.DistinctClause) != 0 {
		if len(sel.DistinctClause) != 1 || sel.DistinctClause[0].GetNode() != nil {
			return nil, nil, ErrUnsupported.New("DISTINCT ON")
		}
		distinct = true
	}

	names := make([]string, len(items))
	arity := rel.Arity()
	outputs := make([]int, len(items))
	var mapExprs []*ScalarExpr
	for i, item := range items {
		names[i] = item.name
		if item.expr.Typ == ET_Column && item.expr.Level == 0 {
			outputs[i] = item.expr.Index
			continue
		}
		outputs[i] = arity + len(mapExprs)
		mapExprs = append(mapExprs, item.expr)
	}

	hasTopK := len(orders) != 0 || limit >= 0 || offset != 0
	if distinct {
		rel = rel.Map(mapExprs...).Project(outputs).Distinct()
		if !hasTopK {
			return rel, names, nil
		}
		order := make([]ColumnOrder, len(orders))
		for i, o := range orders {
			pos := o.output
			if pos < 0 {
				pos = findItem(items, o.expr)
			}
			if pos < 0 {
				return nil, nil, ErrInvalidArgument.New("for SELECT DISTINCT, ORDER BY expressions must appear in select list")
			}
			order[i] = ColumnOrder{Column: pos, Desc: o.desc}
		}
		return rel.TopK(nil, order, limit, offset), names, nil
	}

	order := make([]ColumnOrder, len(orders))
	for i, o := range orders {
		var col int
		switch {
		case o.output >= 0:
			col = outputs[o.output]
		case o.expr.Typ == ET_Column && o.expr.Level == 0:
			col = o.expr.Index
		default:
			col = -1
			for j, e := range mapExprs {
				if e.String() == o.expr.String() && !e.HasSubquery() {
					col = arity + j
					break
				}
			}
			if col < 0 {
				//hidden column. dropped by the projection
				col = arity + len(mapExprs)
				mapExprs = append(mapExprs, o.expr)
			}
		}
		order[i] = ColumnOrder{Column: col, Desc: o.desc}
	}
	rel = rel.Map(mapExprs...)
	if hasTopK {
		rel = rel.TopK(nil, order, limit, offset)
	}
	if !isIdentity(outputs, rel.Arity()) {
		rel = rel.Project(outputs)
	}
	return rel, names, nil
}

func findItem(items []selectItem, e *ScalarExpr) int {
	for i, item := range items {
		if item.expr.String() == e.String() {
			return i
		}
	}
	return -1
}

// groupByTarget resolves GROUP BY positions to select list expressions.
func groupByTarget(node *pg_query.Node, targets []*pg_query.Node) (*pg_query.Node, error) {
	c := node.GetAConst()
	if c == nil || c.GetIval() == nil {
		return node, nil
	}
	pos := int(c.GetIval().GetIval())
	if pos < 1 || pos > len(targets) {
		return nil, ErrInvalidArgument.New(fmt.Sprintf("GROUP BY position %d is not in select list", pos))
	}
	return targets[pos-1].GetResTarget().GetVal(), nil
}

func (b *Builder) bindPredicate(qs *queryScope, iwc InWhichClause, node *pg_query.Node) (*ScalarExpr, error) {
	e, typ, err := b.bindExpr(qs, iwc, node)
	if err != nil {
		return nil, err
	}
	if typ.Typ.Id != common.LTID_BOOLEAN && !typ.Typ.IsNull() {
		return nil, ErrInvalidArgument.New(fmt.Sprintf("argument of %s must be type bool, not type %s", iwc, typ.Typ))
	}
	return e, nil
}

func (b *Builder) bindTargets(qs *queryScope, targets []*pg_query.Node) ([]selectItem, error) {
	items := make([]selectItem, 0, len(targets))
	for _, node := range targets {
		target := node.GetResTarget()
		if target == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("select item %T", node.GetNode()))
		}
		if stars, ok, err := b.expandStar(qs, target); ok || err != nil {
			if err != nil {
				return nil, err
			}
			items = append(items, stars...)
			continue
		}
		e, typ, err := b.bindExpr(qs, IWC_SELECT, target.Val)
		if err != nil {
			return nil, err
		}
		if e.Typ == ET_Literal && e.Datum.IsNull && e.Datum.Typ.IsNull() {
			e = Lit(common.NullDatum(common.VarcharType()))
			typ = common.ColumnType{Typ: common.VarcharType(), Nullable: true}
		}
		name := target.Name
		if name == "" {
			name = b.targetName(target.Val, e)
		}
		items = append(items, selectItem{expr: e, typ: typ, name: name})
	}
	return items, nil
}

// expandStar expands * and t.* into the visible columns.
func (b *Builder) expandStar(qs *queryScope, target *pg_query.ResTarget) ([]selectItem, bool, error) {
	ref := target.GetVal().GetColumnRef()
	if ref == nil || len(ref.Fields) == 0 || util.Back(ref.Fields).GetAStar() == nil {
		return nil, false, nil
	}
	var binds []*Binding
	switch len(ref.Fields) {
	case 1:
		if len(qs.ctx.bindingsList) == 0 {
			return nil, true, ErrInvalidArgument.New("SELECT * with no tables specified is not valid")
		}
		binds = qs.ctx.bindingsList
	case 2:
		table := ref.Fields[0].GetString_().GetSval()
		bind, ok := qs.ctx.bindings[table]
		if !ok {
			return nil, true, ErrUnknownTable.New(table)
		}
		binds = []*Binding{bind}
	default:
		return nil, true, ErrUnsupported.New("qualified star")
	}
	ret := make([]selectItem, 0)
	for _, bind := range binds {
		for i, name := range bind.names {
			ret = append(ret, selectItem{expr: Col(bind.offset + i), typ: bind.typs[i], name: name})
		}
	}
	return ret, true, nil
}

func (b *Builder) targetName(node *pg_query.Node, e *ScalarExpr) string {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		return util.Back(n.ColumnRef.Fields).GetString_().GetSval()
	case *pg_query.Node_FuncCall:
		return getFuncName(n.FuncCall)
	case *pg_query.Node_TypeCast:
		if n.TypeCast.Arg.GetColumnRef() != nil {
			return b.targetName(n.TypeCast.Arg, e)
		}
		return typeName(n.TypeCast.TypeName)
	case *pg_query.Node_CaseExpr:
		return "case"
	case *pg_query.Node_CoalesceExpr:
		return "coalesce"
	case *pg_query.Node_SubLink:
		if n.SubLink.SubLinkType == pg_query.SubLinkType_EXISTS_SUBLINK {
			return "exists"
		}
		if e.Typ == ET_Select {
			if sub := n.SubLink.Subselect.GetSelectStmt(); sub != nil && len(sub.TargetList) == 1 {
				if t := sub.TargetList[0].GetResTarget(); t != nil {
					if t.Name != "" {
						return t.Name
					}
					return b.targetName(t.Val, e)
				}
			}
		}
	}
	return "?column?"
}

func (b *Builder) bindOrderBy(qs *queryScope, sorts []*pg_query.Node, items []selectItem) ([]*orderItem, error) {
	ret := make([]*orderItem, 0, len(sorts))
	for _, node := range sorts {
		sortBy := node.GetSortBy()
		if sortBy == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("ORDER BY item %T", node.GetNode()))
		}
		desc, err := sortDirection(sortBy)
		if err != nil {
			return nil, err
		}
		item := &orderItem{output: -1, desc: desc}
		if pos, ok, err := outputPosition(sortBy.Node, items); err != nil {
			return nil, err
		} else if ok {
			item.output = pos
		} else {
			item.expr, _, err = b.bindExpr(qs, IWC_ORDER, sortBy.Node)
			if err != nil {
				return nil, err
			}
		}
		ret = append(ret, item)
	}
	return ret, nil
}

func sortDirection(sortBy *pg_query.SortBy) (bool, error) {
	if sortBy.SortbyNulls != pg_query.SortByNulls_SORTBY_NULLS_DEFAULT {
		return false, ErrUnsupported.New("NULLS FIRST/LAST")
	}
	switch sortBy.SortbyDir {
	case pg_query.SortByDir_SORTBY_DEFAULT, pg_query.SortByDir_SORTBY_ASC:
		return false, nil
	case pg_query.SortByDir_SORTBY_DESC:
		return true, nil
	default:
		return false, ErrUnsupported.New(fmt.Sprintf("ORDER BY direction %s", sortBy.SortbyDir))
	}
}

// outputPosition resolves ORDER BY positions and output column names.
func outputPosition(node *pg_query.Node, items []selectItem) (int, bool, error) {
	if c := node.GetAConst(); c != nil && c.GetIval() != nil {
		pos := int(c.GetIval().GetIval())
		if pos < 1 || pos > len(items) {
			return 0, false, ErrInvalidArgument.New(fmt.Sprintf("ORDER BY position %d is not in select list", pos))
		}
		return pos - 1, true, nil
	}
	if ref := node.GetColumnRef(); ref != nil && len(ref.Fields) == 1 {
		name := ref.Fields[0].GetString_().GetSval()
		for i, item := range items {
			if name != "" && item.name == name {
				return i, true, nil
			}
		}
	}
	return 0, false, nil
}

func (b *Builder) bindLimit(qs *queryScope, sel *pg_query.SelectStmt) (int, int, error) {
	if sel.LimitOption == pg_query.LimitOption_LIMIT_OPTION_WITH_TIES {
		return 0, 0, ErrUnsupported.New("FETCH WITH TIES")
	}
	limit, offset := -1, 0
	var err error
	if sel.LimitCount != nil {
		if limit, err = b.bindConstInt(qs, sel.LimitCount, -1); err != nil {
			return 0, 0, err
		}
	}
	if sel.LimitOffset != nil {
		if offset, err = b.bindConstInt(qs, sel.LimitOffset, 0); err != nil {
			return 0, 0, err
		}
	}
	return limit, offset, nil
}

// bindConstInt reads a LIMIT or OFFSET. null gives def.
func (b *Builder) bindConstInt(qs *queryScope, node *pg_query.Node, def int) (int, error) {
	e, _, err := b.bindExpr(qs, IWC_LIMIT, node)
	if err != nil {
		return 0, err
	}
	if e.Typ != ET_Literal {
		return 0, ErrUnsupported.New("non-constant LIMIT or OFFSET")
	}
	d := e.Datum
	if d.IsNull {
		return def, nil
	}
	if d.Typ.Id != common.LTID_INTEGER && d.Typ.Id != common.LTID_BIGINT {
		return 0, ErrInvalidArgument.New(fmt.Sprintf("LIMIT or OFFSET must be an integer, not %s", d.Typ))
	}
	if d.I64 < 0 {
		return 0, ErrInvalidArgument.New("LIMIT or OFFSET must not be negative")
	}
	return int(d.I64), nil
}

// buildOutputOrder orders a set operation or VALUES by output columns.
func (b *Builder) buildOutputOrder(sel *pg_query.SelectStmt, rel *RelationExpr, names []string) (*RelationExpr, error) {
	items := make([]selectItem, len(names))
	for i, name := range names {
		items[i] = selectItem{expr: Col(i), name: name}
	}
	order := make([]ColumnOrder, 0, len(sel.SortClause))
	for _, node := range sel.SortClause {
		sortBy := node.GetSortBy()
		if sortBy == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("ORDER BY item %T", node.GetNode()))
		}
		desc, err := sortDirection(sortBy)
		if err != nil {
			return nil, err
		}
		pos, ok, err := outputPosition(sortBy.Node, items)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUnsupported.New("ORDER BY expression over a set operation")
		}
		order = append(order, ColumnOrder{Column: pos, Desc: desc})
	}
	limit, offset, err := b.bindLimit(newQueryScope(NewBindContext(nil)), sel)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 && limit < 0 && offset == 0 {
		return rel, nil
	}
	return rel.TopK(nil, order, limit, offset), nil
}

func (b *Builder) buildFrom(from []*pg_query.Node, ctx *BindContext) (*RelationExpr, error) {
	if len(from) == 0 {
		return Unit(), nil
	}
	var ret *RelationExpr
	for _, item := range from {
		itemCtx := newDerivedContext(ctx)
		rel, err := b.buildTable(item, itemCtx)
		if err != nil {
			return nil, err
		}
		if err = ctx.AddContext(itemCtx); err != nil {
			return nil, err
		}
		if ret == nil {
			ret = rel
		} else {
			ret = Product(ret, rel)
		}
	}
	return ret, nil
}

func rangeVarName(rv *pg_query.RangeVar) []string {
	ret := make([]string, 0, 3)
	if rv.Catalogname != "" {
		ret = append(ret, rv.Catalogname)
	}
	if rv.Schemaname != "" {
		ret = append(ret, rv.Schemaname)
	}
	return append(ret, rv.Relname)
}

func (b *Builder) buildTable(table *pg_query.Node, ctx *BindContext) (*RelationExpr, error) {
	switch node := table.GetNode().(type) {
	case *pg_query.Node_RangeVar:
		rv := node.RangeVar
		alias := rv.Relname
		var aliasCols []*pg_query.Node
		if rv.Alias != nil {
			alias = rv.Alias.Aliasname
			aliasCols = rv.Alias.Colnames
		}
		var rel *RelationExpr
		var bind *Binding
		if cte := ctx.findCte(rv.Relname); cte != nil && rv.Schemaname == "" && rv.Catalogname == "" {
			names, err := renameColumns(alias, cte.names, aliasCols)
			if err != nil {
				return nil, err
			}
			rel = GetLocal(cte.id, cte.typ)
			bind = NewBinding(BT_CTE, alias, names, cte.typ.Columns)
		} else {
			ent, err := b.catalog.Resolve(rangeVarName(rv))
			if err != nil {
				return nil, err
			}
			names, err := renameColumns(alias, ent.Columns, aliasCols)
			if err != nil {
				return nil, err
			}
			typ := BT_TABLE
			if ent.Kind == storage.ItemView {
				typ = BT_VIEW
			}
			rel = GetGlobal(ent)
			bind = NewBinding(typ, alias, names, ent.Typ.Columns)
		}
		return rel, ctx.AddBinding(bind)
	case *pg_query.Node_RangeSubselect:
		sub := node.RangeSubselect
		if sub.Lateral {
			return nil, ErrUnsupported.New("LATERAL")
		}
		sel := sub.Subquery.GetSelectStmt()
		if sel == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("FROM item %T", sub.Subquery.GetNode()))
		}
		rel, names, err := b.buildSelect(sel, newDerivedContext(ctx))
		if err != nil {
			return nil, err
		}
		alias := fmt.Sprintf("_subquery%d", len(ctx.bindingsList))
		if sub.Alias != nil {
			alias = sub.Alias.Aliasname
			if names, err = renameColumns(alias, names, sub.Alias.Colnames); err != nil {
				return nil, err
			}
		}
		bind := NewBinding(BT_Subquery, alias, names, rel.Type().Columns)
		return rel, ctx.AddBinding(bind)
	case *pg_query.Node_JoinExpr:
		return b.buildJoinTable(node.JoinExpr, ctx)
	case *pg_query.Node_RangeFunction:
		return nil, ErrUnsupported.New("table functions")
	default:
		return nil, ErrUnsupported.New(fmt.Sprintf("FROM item %T", node))
	}
}

func (b *Builder) buildJoinTable(join *pg_query.JoinExpr, ctx *BindContext) (*RelationExpr, error) {
	if join.IsNatural || len(join.UsingClause) != 0 {
		return nil, ErrUnsupported.New("NATURAL or USING join")
	}
	if join.Alias != nil {
		return nil, ErrUnsupported.New("alias of a join")
	}
	var jt JoinType
	switch join.Jointype {
	case pg_query.JoinType_JOIN_INNER:
		jt = JT_Inner
	case pg_query.JoinType_JOIN_LEFT:
		jt = JT_Left
	case pg_query.JoinType_JOIN_RIGHT:
		jt = JT_Right
	case pg_query.JoinType_JOIN_FULL:
		jt = JT_Full
	default:
		return nil, ErrUnsupported.New(fmt.Sprintf("join type %s", join.Jointype))
	}

	leftCtx := newDerivedContext(ctx)
	left, err := b.buildTable(join.Larg, leftCtx)
	if err != nil {
		return nil, err
	}
	rightCtx := newDerivedContext(ctx)
	right, err := b.buildTable(join.Rarg, rightCtx)
	if err != nil {
		return nil, err
	}
	if err = ctx.AddContext(leftCtx); err != nil {
		return nil, err
	}
	if err = ctx.AddContext(rightCtx); err != nil {
		return nil, err
	}

	var on *ScalarExpr
	if join.Quals != nil {
		on, err = b.bindPredicate(newQueryScope(ctx), IWC_JOINON, join.Quals)
		if err != nil {
			return nil, err
		}
		if on.IsLiteralTrue() {
			on = nil
		}
	}
	return Join(left, right, jt, on), nil
}

// buildValues makes one constant of the literal rows. Rows with
// expressions are mapped onto the unit row.
func (b *Builder) buildValues(lists []*pg_query.Node, ctx *BindContext) (*RelationExpr, []string, error) {
	qs := newQueryScope(ctx)
	rows := make([][]*ScalarExpr, 0, len(lists))
	typs := make([][]common.ColumnType, 0, len(lists))
	arity := -1
	for _, node := range lists {
		list := node.GetList()
		if list == nil {
			return nil, nil, ErrUnsupported.New(fmt.Sprintf("VALUES item %T", node.GetNode()))
		}
		if arity < 0 {
			arity = len(list.Items)
		} else if arity != len(list.Items) {
			return nil, nil, ErrColumnCountMismatch.New("VALUES list", len(list.Items), arity)
		}
		row := make([]*ScalarExpr, len(list.Items))
		rowTyps := make([]common.ColumnType, len(list.Items))
		for i, item := range list.Items {
			e, typ, err := b.bindExpr(qs, IWC_VALUES, item)
			if err != nil {
				return nil, nil, err
			}
			row[i], rowTyps[i] = e, typ
		}
		rows = append(rows, row)
		typs = append(typs, rowTyps)
	}

	cols := make([]common.ColumnType, arity)
	names := make([]string, arity)
	for i := 0; i < arity; i++ {
		names[i] = fmt.Sprintf("column%d", i+1)
		cols[i] = common.ColumnType{Typ: common.Null()}
		for _, rowTyps := range typs {
			typ, ok := common.MaxLType(cols[i].Typ, rowTyps[i].Typ)
			if !ok {
				return nil, nil, ErrSetOpTypeMismatch.New("VALUES", cols[i].Typ, rowTyps[i].Typ)
			}
			cols[i] = common.ColumnType{Typ: typ, Nullable: cols[i].Nullable || rowTyps[i].Nullable}
		}
		if cols[i].Typ.IsNull() {
			cols[i].Typ = common.VarcharType()
		}
	}
	relTyp := common.NewRelationType(cols)

	var literals []common.Row
	var inputs []*RelationExpr
	for r, row := range rows {
		lits := make(common.Row, 0, arity)
		exprs := make([]*ScalarExpr, 0, arity)
		for i, e := range row {
			cast, err := BindCast(e, typs[r][i].Typ, cols[i].Typ)
			if err != nil {
				return nil, nil, err
			}
			exprs = append(exprs, cast)
			if e.Typ == ET_Literal {
				d, err := castDatum(e.Datum, cols[i].Typ)
				if err != nil {
					return nil, nil, err
				}
				lits = append(lits, d)
			}
		}
		if len(lits) == arity {
			literals = append(literals, lits)
			continue
		}
		inputs = append(inputs, Unit().Map(exprs...))
	}
	if len(literals) != 0 {
		inputs = append([]*RelationExpr{Constant(literals, relTyp)}, inputs...)
	}
	return Union(inputs...), names, nil
}

func (b *Builder) buildSetOp(sel *pg_query.SelectStmt, ctx *BindContext) (*RelationExpr, []string, error) {
	leftCtx := newDerivedContext(ctx)
	left, names, err := b.buildSelect(sel.Larg, leftCtx)
	if err != nil {
		return nil, nil, err
	}
	rightCtx := newDerivedContext(ctx)
	right, rightNames, err := b.buildSelect(sel.Rarg, rightCtx)
	if err != nil {
		return nil, nil, err
	}
	op := setOpName(sel.Op)
	if len(names) != len(rightNames) {
		return nil, nil, ErrColumnCountMismatch.New(op, len(rightNames), len(names))
	}
	lt, rt := left.Type(), right.Type()
	target := make([]common.LType, len(names))
	for i := range target {
		typ, ok := common.MaxLType(lt.Columns[i].Typ, rt.Columns[i].Typ)
		if !ok {
			return nil, nil, ErrSetOpTypeMismatch.New(op, lt.Columns[i].Typ, rt.Columns[i].Typ)
		}
		target[i] = typ
	}
	if left, err = castRelation(left, lt, target); err != nil {
		return nil, nil, err
	}
	if right, err = castRelation(right, rt, target); err != nil {
		return nil, nil, err
	}

	switch sel.Op {
	case pg_query.SetOperation_SETOP_UNION:
		if sel.All {
			return Union(left, right), names, nil
		}
		return Union(left, right).Distinct(), names, nil
	case pg_query.SetOperation_SETOP_EXCEPT:
		if !sel.All {
			left, right = left.Distinct(), right.Distinct()
		}
		return Union(left, right.Negate()).Threshold(), names, nil
	case pg_query.SetOperation_SETOP_INTERSECT:
		if !sel.All {
			left, right = left.Distinct(), right.Distinct()
		}
		//min(l, r) = l - max(l - r, 0)
		id := b.idGen.Next()
		typ := left.Type()
		except := Union(GetLocal(id, typ), right.Negate()).Threshold()
		body := Union(GetLocal(id, typ), except.Negate()).Threshold()
		return Let(id, left, body), names, nil
	default:
		return nil, nil, ErrUnsupported.New(op)
	}
}

func setOpName(op pg_query.SetOperation) string {
	switch op {
	case pg_query.SetOperation_SETOP_UNION:
		return "UNION"
	case pg_query.SetOperation_SETOP_INTERSECT:
		return "INTERSECT"
	case pg_query.SetOperation_SETOP_EXCEPT:
		return "EXCEPT"
	default:
		return op.String()
	}
}

// castRelation casts the columns of rel whose type differs from target.
func castRelation(rel *RelationExpr, typ common.RelationType, target []common.LType) (*RelationExpr, error) {
	arity := typ.Arity()
	outputs := identity(arity)
	var casts []*ScalarExpr
	for i, col := range typ.Columns {
		if col.Typ.Id == target[i].Id {
			continue
		}
		cast, err := BindCast(Col(i), col.Typ, target[i])
		if err != nil {
			return nil, err
		}
		outputs[i] = arity + len(casts)
		casts = append(casts, cast)
	}
	if len(casts) == 0 {
		return rel, nil
	}
	return rel.Map(casts...).Project(outputs), nil
}
