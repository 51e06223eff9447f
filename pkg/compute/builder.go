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
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

type BindingType int

const (
	BT_TABLE BindingType = iota
	BT_VIEW
	BT_CTE
	BT_Subquery
	BT_VALUES
)

func (bt BindingType) String() string {
	switch bt {
	case BT_TABLE:
		return "table"
	case BT_VIEW:
		return "view"
	case BT_CTE:
		return "cte"
	case BT_Subquery:
		return "subquery"
	case BT_VALUES:
		return "values"
	default:
		panic(fmt.Sprintf("usp binding type %d", bt))
	}
}

// Binding is one FROM item visible in a scope. Its columns start at
// offset in the relation of the scope.
type Binding struct {
	typ     BindingType
	alias   string
	offset  int
	typs    []common.ColumnType
	names   []string
	nameMap map[string]int
}

func NewBinding(typ BindingType, alias string, names []string, typs []common.ColumnType) *Binding {
	bind := &Binding{
		typ:     typ,
		alias:   alias,
		typs:    util.CopyTo(typs),
		names:   util.CopyTo(names),
		nameMap: make(map[string]int),
	}
	for idx, name := range bind.names {
		if _, ok := bind.nameMap[name]; !ok {
			bind.nameMap[name] = idx
		}
	}
	return bind
}

func (b *Binding) Print(tree treeprint.Tree) {
	tree = tree.AddMetaBranch(fmt.Sprintf("%s, %d", b.typ, b.offset), b.alias)
	for i, n := range b.names {
		tree.AddNode(fmt.Sprintf("%d %s %s", i, n, b.typs[i]))
	}
}

func (b *Binding) HasColumn(column string) int {
	if idx, ok := b.nameMap[column]; ok {
		return idx
	}
	return -1
}

// Bind makes the reference to a column of b seen from depth scopes
// inward.
func (b *Binding) Bind(column string, depth int) (*ScalarExpr, common.ColumnType, error) {
	idx := b.HasColumn(column)
	if idx < 0 {
		return nil, common.ColumnType{}, ErrUnknownColumn.New(b.alias + "." + column)
	}
	typ := b.typs[idx]
	if depth == 0 {
		return Col(b.offset + idx), typ, nil
	}
	return OuterCol(depth, b.offset+idx, typ), typ, nil
}

type cteInfo struct {
	id    LocalId
	names []string
	typ   common.RelationType
}

// BindContext is the name scope of one query block. Every hop to the
// parent crosses one subquery boundary. cteScope is the lexical scope
// for WITH names, which also reaches into scopes that hide their columns.
type BindContext struct {
	parent       *BindContext
	cteScope     *BindContext
	bindings     map[string]*Binding
	bindingsList []*Binding
	ctes         map[string]*cteInfo
	//columns of the relation built so far
	columns []common.ColumnType
	names   []string
}

func NewBindContext(parent *BindContext) *BindContext {
	return &BindContext{
		parent:   parent,
		cteScope: parent,
		bindings: make(map[string]*Binding),
		ctes:     make(map[string]*cteInfo),
	}
}

// newDerivedContext is the scope of a FROM clause subquery. It sees the
// enclosing scopes but not its siblings.
func newDerivedContext(ctx *BindContext) *BindContext {
	ret := NewBindContext(ctx.parent)
	ret.cteScope = ctx
	return ret
}

func (bc *BindContext) Print(tree treeprint.Tree) {
	for _, b := range bc.bindingsList {
		b.Print(tree)
	}
}

func (bc *BindContext) String() string {
	tree := treeprint.NewWithRoot("BindContext:")
	bc.Print(tree)
	return tree.String()
}

// AddBinding places the columns of b after the current ones.
func (bc *BindContext) AddBinding(b *Binding) error {
	if _, ok := bc.bindings[b.alias]; ok {
		return ErrDuplicateAlias.New(b.alias)
	}
	b.offset = len(bc.columns)
	bc.bindingsList = append(bc.bindingsList, b)
	bc.bindings[b.alias] = b
	bc.columns = append(bc.columns, b.typs...)
	bc.names = append(bc.names, b.names...)
	return nil
}

// AddContext moves the bindings of obc behind the current ones.
func (bc *BindContext) AddContext(obc *BindContext) error {
	for _, ob := range obc.bindingsList {
		if err := bc.AddBinding(ob); err != nil {
			return err
		}
	}
	return nil
}

func (bc *BindContext) Arity() int {
	return len(bc.columns)
}

func (bc *BindContext) GetMatchingBinding(table, column string) (*Binding, int, error) {
	var ret *Binding
	if len(table) == 0 {
		for _, b := range bc.bindingsList {
			if b.HasColumn(column) >= 0 {
				if ret != nil {
					return nil, 0, ErrAmbiguousColumn.New(column)
				}
				ret = b
			}
		}
	} else if b, has := bc.bindings[table]; has {
		if b.HasColumn(column) < 0 {
			return nil, 0, ErrUnknownColumn.New(table + "." + column)
		}
		ret = b
	}
	if ret != nil {
		return ret, 0, nil
	}
	//find it in parent context
	if bc.parent != nil {
		b, d, err := bc.parent.GetMatchingBinding(table, column)
		if err != nil {
			return nil, 0, err
		}
		return b, d + 1, nil
	}
	if len(table) != 0 {
		return nil, 0, ErrUnknownTable.New(table)
	}
	return nil, 0, ErrUnknownColumn.New(column)
}

func (bc *BindContext) findCte(name string) *cteInfo {
	for c := bc; c != nil; c = c.cteScope {
		if cte, ok := c.ctes[name]; ok {
			return cte
		}
	}
	return nil
}

// Builder turns the postgres AST of a query into a raw plan.
type Builder struct {
	catalog *storage.Catalog
	idGen   *IdGen
}

func NewBuilder(catalog *storage.Catalog, idGen *IdGen) *Builder {
	if idGen == nil {
		idGen = &IdGen{}
	}
	return &Builder{
		catalog: catalog,
		idGen:   idGen,
	}
}

// RawQuery is the raw plan of a query with its output names.
type RawQuery struct {
	Expr  *RelationExpr
	Names []string
}

func (rq *RawQuery) Type() common.RelationType {
	return rq.Expr.Type()
}

// BuildSelect builds the raw plan. Trailing ORDER BY and LIMIT become a
// TopK over the whole relation, optionally under a projection.
func (b *Builder) BuildSelect(sel *pg_query.SelectStmt) (*RawQuery, error) {
	if sel == nil {
		return nil, ErrUnsupported.New("empty query")
	}
	ctx := NewBindContext(nil)
	rel, names, err := b.buildSelect(sel, ctx)
	if err != nil {
		return nil, err
	}
	util.Debug("bound select", zap.Stringer("bindings", ctx))
	return &RawQuery{Expr: rel, Names: names}, nil
}
