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
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"go.uber.org/zap"

	"github.com/daviszhen/relplan/pkg/parser"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

// Plans keeps every stage of one compiled query. Stages never share
// nodes, so each one stays renderable.
type Plans struct {
	Names        []string
	Raw          *RelationExpr
	Decorrelated *RelationExpr
	Optimized    *RelationExpr
	Finishing    *Finishing
}

func (plans *Plans) Stage(stage parser.Stage) *RelationExpr {
	switch stage {
	case parser.StageRaw:
		return plans.Raw
	case parser.StageDecorrelated:
		return plans.Decorrelated
	default:
		return plans.Optimized
	}
}

func (plans *Plans) Explain(stage parser.Stage, typed bool) string {
	return Explain(plans.Stage(stage), plans.Finishing, typed)
}

// Result of one statement. EXPLAIN gives one text column named after
// the stage.
type Result struct {
	Tag     string
	Columns []string
	Rows    [][]any
}

// Planner compiles statements against a catalog. It keeps no state
// between statements besides the catalog, so it may be used from
// several goroutines.
type Planner struct {
	catalog *storage.Catalog
	debug   util.DebugOptions
}

func NewPlanner(catalog *storage.Catalog, debug util.DebugOptions) *Planner {
	return &Planner{
		catalog: catalog,
		debug:   debug,
	}
}

func (p *Planner) Catalog() *storage.Catalog {
	return p.catalog
}

// Plan runs the pipeline. In view mode the trailing ORDER BY and LIMIT
// stay in the plan, otherwise they become the finishing.
func (p *Planner) Plan(sel *pg_query.SelectStmt, viewMode bool) (*Plans, error) {
	gen := &IdGen{}
	builder := NewBuilder(p.catalog, gen)
	query, err := builder.BuildSelect(sel)
	if err != nil {
		return nil, err
	}
	ret := &Plans{Names: query.Names}
	raw := query.Expr
	if viewMode {
		ret.Finishing = trivialFinishing(raw.Arity())
	} else {
		raw, ret.Finishing = ExtractFinishing(raw)
	}
	ret.Raw = raw
	p.logStage(parser.StageRaw, ret)

	ret.Decorrelated = Decorrelate(copyRelation(ret.Raw), gen)
	if err = Validate(ret.Decorrelated); err != nil {
		util.Error("decorrelated plan is invalid",
			zap.Error(err),
			zap.String("plan", ret.Decorrelated.String()))
		return nil, err
	}
	p.logStage(parser.StageDecorrelated, ret)

	ret.Optimized = Optimize(copyRelation(ret.Decorrelated))
	p.logStage(parser.StageOptimized, ret)
	return ret, nil
}

func (p *Planner) logStage(stage parser.Stage, plans *Plans) {
	if !util.DebugEnabled() {
		return
	}
	if p.debug.PrintPlan {
		util.Debug("plan",
			zap.Stringer("stage", stage),
			zap.String("plan", plans.Explain(stage, true)))
	}
	if p.debug.PrintTree {
		util.Debug("plan tree",
			zap.Stringer("stage", stage),
			zap.String("tree", plans.Stage(stage).String()))
	}
}

// Execute runs one statement.
func (p *Planner) Execute(stmt *parser.Statement) (*Result, error) {
	util.Debug("execute", zap.Stringer("kind", stmt.Kind), zap.String("sql", stmt.Sql))
	switch stmt.Kind {
	case parser.StmtExplain:
		return p.explain(stmt.Explain)
	case parser.StmtCreateTable:
		return p.createTable(stmt.Node.GetCreateStmt())
	case parser.StmtCreateView:
		return p.createView(stmt.Node.GetViewStmt())
	case parser.StmtSelect:
		return p.query(stmt.Node.GetSelectStmt())
	default:
		return nil, parser.ErrUnsupportedStmt.New(stmt.Kind.String())
	}
}

func (p *Planner) explain(stmt *parser.ExplainStmt) (*Result, error) {
	sel := stmt.Select
	viewMode := false
	if stmt.View != nil {
		ent, err := p.catalog.Resolve(stmt.View)
		if err != nil {
			return nil, err
		}
		if ent.Kind != storage.ItemView {
			return nil, ErrInvalidArgument.New(ent.FullName() + " is not a view")
		}
		node, err := parser.ParseOne(ent.Sql)
		if err != nil {
			return nil, err
		}
		sel = node.GetSelectStmt()
		viewMode = true
	}
	plans, err := p.Plan(sel, viewMode)
	if err != nil {
		return nil, err
	}
	return &Result{
		Tag:     "EXPLAIN",
		Columns: []string{stmt.Stage.String()},
		Rows:    [][]any{{plans.Explain(stmt.Stage, stmt.Typed)}},
	}, nil
}

func (p *Planner) createTable(stmt *pg_query.CreateStmt) (*Result, error) {
	def, err := NewBuilder(p.catalog, nil).BuildCreateTable(stmt)
	if err != nil {
		return nil, err
	}
	_, err = p.catalog.CreateTable(def.Name, def.Columns, def.Typ)
	if err != nil && !(def.IfNotExists && ErrItemExists.Is(err)) {
		return nil, err
	}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func (p *Planner) createView(stmt *pg_query.ViewStmt) (*Result, error) {
	def, err := NewBuilder(p.catalog, nil).BuildCreateView(stmt)
	if err != nil {
		return nil, err
	}
	_, err = p.catalog.CreateView(def.Name, def.Columns, def.Query.Type(), def.Sql)
	if err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE VIEW"}, nil
}

// query answers a SELECT whose optimized plan is a constant.
func (p *Planner) query(sel *pg_query.SelectStmt) (*Result, error) {
	plans, err := p.Plan(sel, false)
	if err != nil {
		return nil, err
	}
	if plans.Optimized.Typ != ROT_Constant {
		return nil, ErrUnsupported.New("SELECT reading stored data")
	}
	rows := plans.Finishing.Apply(plans.Optimized.Rows)
	ret := &Result{
		Tag:     "SELECT",
		Columns: plans.Names,
		Rows:    make([][]any, len(rows)),
	}
	for i, row := range rows {
		ret.Rows[i] = make([]any, len(row))
		for j, d := range row {
			if !d.IsNull {
				ret.Rows[i][j] = datumText(d)
			}
		}
	}
	return ret, nil
}

// LoadViews creates the views of the configuration in order.
func (p *Planner) LoadViews(views []util.CatalogView) error {
	for _, view := range views {
		node, err := parser.ParseOne(view.Sql)
		if err != nil {
			return err
		}
		sel := node.GetSelectStmt()
		if sel == nil {
			return parser.ErrUnsupportedStmt.New("view " + view.Name)
		}
		query, err := NewBuilder(p.catalog, nil).BuildSelect(sel)
		if err != nil {
			return err
		}
		_, err = p.catalog.CreateView(strings.Split(view.Name, "."), query.Names, query.Type(), view.Sql)
		if err != nil {
			return err
		}
		util.Info("view loaded", zap.String("name", view.Name))
	}
	return nil
}
