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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/relplan/pkg/compute"
	"github.com/daviszhen/relplan/pkg/parser"
	"github.com/daviszhen/relplan/pkg/storage"
	"github.com/daviszhen/relplan/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initExplainCmd()
}

var testerCfg = &util.Config{}

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

func initDebugOptions() {
	testerCfg.Debug.PrintPlan = viper.GetBool("debug.printPlan")
	testerCfg.Debug.PrintTree = viper.GetBool("debug.printTree")
	testerCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
}

//explain cmd

var explainInfo = "plan a file of statements and print the results"
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: explainInfo,
	Long:  explainInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initExplainCfg(); err != nil {
			return err
		}
		return runFile(testerCfg)
	},
}

func initExplainCfg() error {
	initDebugOptions()
	testerCfg.Tester.Path = viper.GetString("tester.path")
	testerCfg.Tester.ResultPath = viper.GetString("tester.resultPath")
	testerCfg.Tester.Parallel = viper.GetInt("tester.parallel")
	testerCfg.Tester.Typed = viper.GetBool("tester.typed")
	if err := viper.UnmarshalKey("catalog", &testerCfg.Catalog); err != nil {
		return err
	}
	testerCfg.Normalize()
	return nil
}

func initExplainCmd() {
	RootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVar(&testerCfg.Tester.Path, "path", "", "statements file")
	explainCmd.Flags().StringVar(&testerCfg.Tester.ResultPath, "result_path", "", "result file. stdout if empty")
	explainCmd.Flags().IntVar(&testerCfg.Tester.Parallel, "parallel", 1, "statements planned at the same time")
	explainCmd.Flags().BoolVar(&testerCfg.Tester.Typed, "typed", false, "render every EXPLAIN typed")
	explainCmd.Flags().BoolVar(&testerCfg.Debug.PrintTree, "tree", false, "log the plan trees")

	viper.BindPFlag("tester.path", explainCmd.Flags().Lookup("path"))
	viper.BindPFlag("tester.resultPath", explainCmd.Flags().Lookup("result_path"))
	viper.BindPFlag("tester.parallel", explainCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("tester.typed", explainCmd.Flags().Lookup("typed"))
	viper.BindPFlag("debug.printTree", explainCmd.Flags().Lookup("tree"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "planner.toml"

func loadConfig() {
	has := false
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
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
}

func newPlanner(cfg *util.Config) (*compute.Planner, error) {
	if err := util.SetLogLevel(cfg.Debug.LogLevel); err != nil {
		return nil, err
	}
	catalog := storage.NewCatalog(cfg.Catalog.Database, cfg.Catalog.Schema)
	if err := catalog.LoadTables(cfg.Catalog.Tables); err != nil {
		return nil, err
	}
	planner := compute.NewPlanner(catalog, cfg.Debug)
	if err := planner.LoadViews(cfg.Catalog.Views); err != nil {
		return nil, err
	}
	return planner, nil
}

func runFile(cfg *util.Config) error {
	if cfg.Tester.Path == "" {
		return fmt.Errorf("no statements file. use --path")
	}
	data, err := os.ReadFile(cfg.Tester.Path)
	if err != nil {
		return err
	}
	stmts, err := parser.ParseStatements(string(data))
	if err != nil {
		return err
	}
	planner, err := newPlanner(cfg)
	if err != nil {
		return err
	}
	if cfg.Tester.Typed {
		for _, stmt := range stmts {
			if stmt.Kind == parser.StmtExplain {
				stmt.Explain.Typed = true
			}
		}
	}

	outputs := runStatements(planner, stmts, cfg.Tester.Parallel)
	out := strings.Join(outputs, "\n")
	if cfg.Tester.ResultPath == "" {
		fmt.Print(out)
		return nil
	}
	util.Info("write result", zap.String("path", cfg.Tester.ResultPath))
	return os.WriteFile(cfg.Tester.ResultPath, []byte(out), 0644)
}

func isDDL(stmt *parser.Statement) bool {
	return stmt.Kind == parser.StmtCreateTable || stmt.Kind == parser.StmtCreateView
}

// runStatements runs the DDL in order. The statements between two DDL
// only read the catalog and run concurrently.
func runStatements(planner *compute.Planner, stmts []*parser.Statement, parallel int) []string {
	outputs := make([]string, len(stmts))
	for start := 0; start < len(stmts); {
		if isDDL(stmts[start]) {
			outputs[start] = runOne(planner, stmts[start])
			start++
			continue
		}
		end := start
		for end < len(stmts) && !isDDL(stmts[end]) {
			end++
		}
		eg := errgroup.Group{}
		eg.SetLimit(parallel)
		for i := start; i < end; i++ {
			eg.Go(func() error {
				outputs[i] = runOne(planner, stmts[i])
				return nil
			})
		}
		//runOne reports failures in its output
		_ = eg.Wait()
		start = end
	}
	return outputs
}

func runOne(planner *compute.Planner, stmt *parser.Statement) string {
	sb := strings.Builder{}
	sb.WriteString("> ")
	sb.WriteString(stmt.Sql)
	sb.WriteString("\n")
	res, err := execute(planner, stmt)
	if err != nil {
		sb.WriteString(fmt.Sprintf("ERROR: %v\n", err))
		return sb.String()
	}
	sb.WriteString(formatResult(res))
	return sb.String()
}

// execute turns a panic of one statement into its error.
func execute(planner *compute.Planner, stmt *parser.Statement) (res *compute.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("statement panicked",
				zap.String("sql", stmt.Sql),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return planner.Execute(stmt)
}

func formatResult(res *compute.Result) string {
	if len(res.Columns) == 0 {
		return res.Tag + "\n"
	}
	if res.Tag == "EXPLAIN" {
		return res.Rows[0][0].(string)
	}
	sb := strings.Builder{}
	sb.WriteString(strings.Join(res.Columns, "\t"))
	sb.WriteString("\n")
	for _, row := range res.Rows {
		parts := make([]string, len(row))
		for i, val := range row {
			if val == nil {
				parts[i] = "null"
			} else {
				parts[i] = val.(string)
			}
		}
		sb.WriteString(strings.Join(parts, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func main() {
	defer util.Sync()
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
