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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/relplan/pkg/parser"
	"github.com/daviszhen/relplan/pkg/util"
)

func TestRunStatements(t *testing.T) {
	cfg := &util.Config{}
	cfg.Normalize()
	planner, err := newPlanner(cfg)
	require.NoError(t, err)

	stmts, err := parser.ParseStatements(`
CREATE TABLE t (a int4 NOT NULL);
EXPLAIN PLAN FOR SELECT a FROM t;
SELECT 1 AS x, NULL::int4 AS y;
SELECT * FROM nope;
CREATE VIEW v AS SELECT a FROM t ORDER BY a LIMIT 1;
EXPLAIN RAW PLAN FOR VIEW v;
`)
	require.NoError(t, err)
	outputs := runStatements(planner, stmts, 4)
	require.Len(t, outputs, 6)

	assert.Contains(t, outputs[0], "CREATE TABLE\n")
	assert.Contains(t, outputs[1], "| Get materialize.public.t (u1)\n")
	assert.Contains(t, outputs[2], "x\ty\n1\tnull\n")
	assert.Contains(t, outputs[3], "ERROR: ")
	assert.Contains(t, outputs[4], "CREATE VIEW\n")
	assert.Contains(t, outputs[5], "| TopK group=() order=(#0 asc) limit=1 offset=0\n")
}

func TestRunStatementsRecoversPanic(t *testing.T) {
	cfg := &util.Config{}
	cfg.Normalize()
	planner, err := newPlanner(cfg)
	require.NoError(t, err)

	good, err := parser.ParseStatement("SELECT 1 AS x")
	require.NoError(t, err)
	//an explain statement without its parsed body
	broken := &parser.Statement{Kind: parser.StmtExplain, Sql: "EXPLAIN broken"}

	outputs := runStatements(planner, []*parser.Statement{broken, good, broken}, 2)
	require.Len(t, outputs, 3)
	assert.Equal(t, "> EXPLAIN broken\nERROR: internal error: runtime error: invalid memory address or nil pointer dereference\n", outputs[0])
	assert.Contains(t, outputs[1], "x\n1\n")
	assert.Contains(t, outputs[2], "ERROR: internal error")
}
