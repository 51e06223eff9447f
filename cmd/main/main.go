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

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/lib/pq/oid"
	"go.uber.org/zap"

	"github.com/daviszhen/relplan/pkg/compute"
	"github.com/daviszhen/relplan/pkg/parser"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

var runCfg util.Config

var planner *compute.Planner

func init() {
	loadConfig()
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "planner.toml"

func loadConfig() {
	has := false
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			_, err := toml.DecodeFile(fpath, &runCfg)
			if err != nil {
				util.Error("toml load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			has = true
			break
		}
	}
	if !has {
		util.Error("planner.toml does not exist")
		os.Exit(1)
	}
	runCfg.Normalize()
}

func initPlanner() error {
	if err := util.SetLogLevel(runCfg.Debug.LogLevel); err != nil {
		return err
	}
	catalog := storage.NewCatalog(runCfg.Catalog.Database, runCfg.Catalog.Schema)
	if err := catalog.LoadTables(runCfg.Catalog.Tables); err != nil {
		return err
	}
	planner = compute.NewPlanner(catalog, runCfg.Debug)
	return planner.LoadViews(runCfg.Catalog.Views)
}

func main() {
	defer util.Sync()
	if err := initPlanner(); err != nil {
		util.Error("init planner failed", zap.Error(err))
		os.Exit(1)
	}
	util.Info("listening", zap.String("addr", runCfg.Server.Addr))
	if err := wire.ListenAndServe(runCfg.Server.Addr, handler); err != nil {
		util.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// handler runs the statements of the query in order. DDL takes effect
// before the later statements are planned.
func handler(ctx context.Context, query string) (wire.PreparedStatements, error) {
	util.Info("incoming SQL :", zap.String("query", query))
	stmts, err := parser.ParseStatements(query)
	if err != nil {
		return nil, err
	}
	prepared := make([]*wire.PreparedStatement, 0, len(stmts))
	for _, stmt := range stmts {
		res, err := planner.Execute(stmt)
		if err != nil {
			util.Warn("statement failed",
				zap.String("sql", stmt.Sql),
				zap.Error(err))
			return nil, err
		}
		execCtx := &ExecCtx{res: res}
		prepared = append(prepared,
			wire.NewStatement(execCtx.handleX,
				wire.WithColumns(execCtx.Columns()),
			))
	}
	return wire.Prepared(prepared...), nil
}

type ExecCtx struct {
	res *compute.Result
}

// Columns are text columns named like the result.
func (exec *ExecCtx) Columns() wire.Columns {
	cols := make(wire.Columns, 0, len(exec.res.Columns))
	for _, name := range exec.res.Columns {
		cols = append(cols, wire.Column{
			Name:  name,
			Oid:   oid.T_text,
			Width: -1,
		})
	}
	return cols
}

func (exec *ExecCtx) handleX(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
	for _, row := range exec.res.Rows {
		if err := writer.Row(row); err != nil {
			return err
		}
	}
	return writer.Complete(exec.res.Tag)
}
