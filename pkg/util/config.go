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

package util

type CatalogColumn struct {
	Name     string `tag:"name"`
	Type     string `tag:"type"`
	Nullable bool   `tag:"nullable"`
}

type CatalogTable struct {
	Name        string          `tag:"name"`
	Columns     []CatalogColumn `tag:"columns"`
	Keys        [][]int         `tag:"keys"`
	ParquetPath string          `tag:"parquetPath"`
}

type CatalogView struct {
	Name string `tag:"name"`
	Sql  string `tag:"sql"`
}

type CatalogOptions struct {
	Database string         `tag:"database"`
	Schema   string         `tag:"schema"`
	Tables   []CatalogTable `tag:"tables"`
	Views    []CatalogView  `tag:"views"`
}

type DebugOptions struct {
	PrintPlan bool   `tag:"printPlan"`
	PrintTree bool   `tag:"printTree"`
	LogLevel  string `tag:"logLevel"`
}

type ServerOptions struct {
	Addr string `tag:"addr"`
}

type TesterOptions struct {
	Path       string `tag:"path"`
	ResultPath string `tag:"resultPath"`
	Parallel   int    `tag:"parallel"`
	Typed      bool   `tag:"typed"`
}

type Config struct {
	Catalog CatalogOptions `tag:"catalog"`
	Debug   DebugOptions   `tag:"debug"`
	Server  ServerOptions  `tag:"server"`
	Tester  TesterOptions  `tag:"tester"`
}

const (
	DefaultDatabase = "materialize"
	DefaultSchema   = "public"
	DefaultAddr     = "127.0.0.1:6875"
)

// Normalize fills the defaults of the options that were left empty.
func (cfg *Config) Normalize() {
	if cfg.Catalog.Database == "" {
		cfg.Catalog.Database = DefaultDatabase
	}
	if cfg.Catalog.Schema == "" {
		cfg.Catalog.Schema = DefaultSchema
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Tester.Parallel <= 0 {
		cfg.Tester.Parallel = 1
	}
}
