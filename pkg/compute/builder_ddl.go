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

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/relplan/pkg/common"
)

// TableDef is a bound CREATE TABLE.
type TableDef struct {
	Name        []string
	Columns     []string
	Typ         common.RelationType
	IfNotExists bool
}

// ViewDef is a bound CREATE VIEW. Sql is the deparsed query stored in
// the catalog.
type ViewDef struct {
	Name    []string
	Columns []string
	Query   *RawQuery
	Sql     string
}

func (b *Builder) BuildCreateTable(stmt *pg_query.CreateStmt) (*TableDef, error) {
	if stmt.Relation == nil {
		return nil, ErrInvalidArgument.New("CREATE TABLE without a name")
	}
	if len(stmt.InhRelations) != 0 || stmt.Partspec != nil || stmt.OfTypename != nil {
		return nil, ErrUnsupported.New("CREATE TABLE inheritance or partitioning")
	}
	ret := &TableDef{
		Name:        rangeVarName(stmt.Relation),
		IfNotExists: stmt.IfNotExists,
	}
	var cols []common.ColumnType
	var keys [][]string
	for _, node := range stmt.TableElts {
		switch elt := node.GetNode().(type) {
		case *pg_query.Node_ColumnDef:
			colDef := elt.ColumnDef
			typ, err := resolveType(colDef.TypeName)
			if err != nil {
				return nil, err
			}
			col := common.ColumnType{Typ: typ, Nullable: true}
			for _, cons := range colDef.Constraints {
				switch cons.GetConstraint().GetContype() {
				case pg_query.ConstrType_CONSTR_NOTNULL:
					col.Nullable = false
				case pg_query.ConstrType_CONSTR_NULL:
					col.Nullable = true
				case pg_query.ConstrType_CONSTR_PRIMARY:
					col.Nullable = false
					keys = append(keys, []string{colDef.Colname})
				case pg_query.ConstrType_CONSTR_UNIQUE:
					keys = append(keys, []string{colDef.Colname})
				case pg_query.ConstrType_CONSTR_DEFAULT, pg_query.ConstrType_CONSTR_CHECK:
					//no effect on the plan
				default:
					return nil, ErrUnsupported.New(fmt.Sprintf("column constraint %s", cons.GetConstraint().GetContype()))
				}
			}
			ret.Columns = append(ret.Columns, colDef.Colname)
			cols = append(cols, col)
		case *pg_query.Node_Constraint:
			cons := elt.Constraint
			switch cons.Contype {
			case pg_query.ConstrType_CONSTR_PRIMARY, pg_query.ConstrType_CONSTR_UNIQUE:
				key := make([]string, 0, len(cons.Keys))
				for _, k := range cons.Keys {
					key = append(key, k.GetString_().GetSval())
				}
				keys = append(keys, key)
			case pg_query.ConstrType_CONSTR_CHECK:
			default:
				return nil, ErrUnsupported.New(fmt.Sprintf("table constraint %s", cons.Contype))
			}
			//primary key columns are not null
			if cons.Contype == pg_query.ConstrType_CONSTR_PRIMARY {
				for _, k := range cons.Keys {
					for i, name := range ret.Columns {
						if name == k.GetString_().GetSval() {
							cols[i].Nullable = false
						}
					}
				}
			}
		default:
			return nil, ErrUnsupported.New(fmt.Sprintf("table element %T", elt))
		}
	}

	typ := common.NewRelationType(cols)
	for _, key := range keys {
		idx := make([]int, 0, len(key))
		for _, name := range key {
			pos := -1
			for i, col := range ret.Columns {
				if col == name {
					pos = i
					break
				}
			}
			if pos < 0 {
				return nil, ErrUnknownColumn.New(name)
			}
			idx = append(idx, pos)
		}
		typ = typ.WithKey(idx)
	}
	ret.Typ = typ
	return ret, nil
}

// BuildCreateView binds the query of the view. The caller plans it in
// view mode, so ORDER BY and LIMIT stay in the plan.
func (b *Builder) BuildCreateView(stmt *pg_query.ViewStmt) (*ViewDef, error) {
	if stmt.Replace {
		return nil, ErrUnsupported.New("CREATE OR REPLACE VIEW")
	}
	sel := stmt.Query.GetSelectStmt()
	if sel == nil {
		return nil, ErrUnsupported.New(fmt.Sprintf("view query %T", stmt.Query.GetNode()))
	}
	name := rangeVarName(stmt.View)
	query, err := b.BuildSelect(sel)
	if err != nil {
		return nil, err
	}
	names, err := renameColumns(strings.Join(name, "."), query.Names, stmt.Aliases)
	if err != nil {
		return nil, err
	}
	query.Names = names
	sql, err := pg_query.Deparse(&pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: stmt.Query}},
	})
	if err != nil {
		return nil, err
	}
	return &ViewDef{
		Name:    name,
		Columns: names,
		Query:   query,
		Sql:     sql,
	}, nil
}
