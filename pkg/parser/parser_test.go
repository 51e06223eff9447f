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

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser(t *testing.T) {
	stmts, err := Parse("SELECT 42")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(stmts))
	assert.Equal(t, int32(42), stmts[0].Stmt.GetSelectStmt().GetTargetList()[0].GetResTarget().GetVal().GetAConst().GetIval().Ival)
}

func TestParseExplain(t *testing.T) {
	cases := []struct {
		sql   string
		stage Stage
		typed bool
		view  []string
	}{
		{"EXPLAIN RAW PLAN FOR SELECT * FROM (SELECT 1)", StageRaw, false, nil},
		{"explain typed decorrelated plan for select 1", StageDecorrelated, true, nil},
		{"EXPLAIN OPTIMIZED PLAN FOR SELECT 1;", StageOptimized, false, nil},
		{"EXPLAIN PLAN FOR SELECT 1", StageOptimized, false, nil},
		{"EXPLAIN PLAN FOR VIEW ordered_view", StageOptimized, false, []string{"ordered_view"}},
		{"EXPLAIN TYPED RAW PLAN FOR VIEW materialize.public.Ordered_View", StageRaw, true,
			[]string{"materialize", "public", "ordered_view"}},
	}
	for _, c := range cases {
		stmt, ok, err := ParseExplain(c.sql)
		require.NoError(t, err, c.sql)
		require.True(t, ok, c.sql)
		assert.Equal(t, c.stage, stmt.Stage, c.sql)
		assert.Equal(t, c.typed, stmt.Typed, c.sql)
		if c.view != nil {
			assert.Equal(t, c.view, stmt.View, c.sql)
			assert.Nil(t, stmt.Select)
		} else {
			assert.NotNil(t, stmt.Select, c.sql)
		}
	}
}

func TestParseExplainErrors(t *testing.T) {
	_, ok, err := ParseExplain("SELECT 1")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseExplain("EXPLAIN SELECT 1")
	assert.True(t, ok)
	assert.True(t, ErrSyntax.Is(err))

	_, ok, err = ParseExplain("EXPLAIN RAW FOR SELECT 1")
	assert.True(t, ok)
	assert.True(t, ErrSyntax.Is(err))

	_, _, err = ParseExplain("EXPLAIN PLAN FOR CREATE TABLE t (a int)")
	assert.True(t, ErrUnsupportedStmt.Is(err))
}

func TestParseStatements(t *testing.T) {
	stmts, err := ParseStatements(`
CREATE TABLE ordered (x bigint NOT NULL, y text);
CREATE VIEW ordered_view AS SELECT * FROM ordered ORDER BY y LIMIT 5;
EXPLAIN PLAN FOR VIEW ordered_view;
SELECT x FROM ordered;
`)
	require.NoError(t, err)
	require.Len(t, stmts, 4)
	assert.Equal(t, StmtCreateTable, stmts[0].Kind)
	assert.Equal(t, StmtCreateView, stmts[1].Kind)
	assert.Equal(t, StmtExplain, stmts[2].Kind)
	assert.Equal(t, []string{"ordered_view"}, stmts[2].Explain.View)
	assert.Equal(t, StmtSelect, stmts[3].Kind)

	_, err = ParseStatements("DROP TABLE ordered")
	assert.True(t, ErrUnsupportedStmt.Is(err))
}
