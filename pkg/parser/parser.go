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
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"gopkg.in/src-d/go-errors.v1"
)

var (
	ErrSyntax            = errors.NewKind("syntax error: %s")
	ErrUnsupportedStmt   = errors.NewKind("statement not yet supported: %s")
	ErrMultipleStatement = errors.NewKind("expected exactly one statement, got %d")
)

type StmtKind int

const (
	StmtSelect StmtKind = iota
	StmtExplain
	StmtCreateTable
	StmtCreateView
)

func (kind StmtKind) String() string {
	switch kind {
	case StmtSelect:
		return "SELECT"
	case StmtExplain:
		return "EXPLAIN"
	case StmtCreateTable:
		return "CREATE TABLE"
	case StmtCreateView:
		return "CREATE VIEW"
	default:
		return "UNKNOWN"
	}
}

// Statement is one classified SQL statement.
type Statement struct {
	Kind    StmtKind
	Sql     string
	Node    *pg_query.Node
	Explain *ExplainStmt
}

func Parse(s string) ([]*pg_query.RawStmt, error) {
	result, err := pg_query.Parse(s)
	if err != nil {
		return nil, ErrSyntax.New(err.Error())
	}
	return result.Stmts, nil
}

// ParseOne parses exactly one statement.
func ParseOne(s string) (*pg_query.Node, error) {
	stmts, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, ErrMultipleStatement.New(len(stmts))
	}
	return stmts[0].GetStmt(), nil
}

// Split cuts a script into statements with the postgres lexer, so that
// statements outside of the postgres grammar can still be split.
func Split(s string) ([]string, error) {
	stmts, err := pg_query.SplitWithScanner(s, true)
	if err != nil {
		return nil, ErrSyntax.New(err.Error())
	}
	ret := make([]string, 0, len(stmts))
	for _, stmt := range stmts {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		ret = append(ret, stmt)
	}
	return ret, nil
}

// ParseStatement classifies one statement.
func ParseStatement(s string) (*Statement, error) {
	explain, ok, err := ParseExplain(s)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Statement{Kind: StmtExplain, Sql: s, Explain: explain}, nil
	}
	node, err := ParseOne(s)
	if err != nil {
		return nil, err
	}
	ret := &Statement{Sql: s, Node: node}
	switch node.GetNode().(type) {
	case *pg_query.Node_SelectStmt:
		ret.Kind = StmtSelect
	case *pg_query.Node_CreateStmt:
		ret.Kind = StmtCreateTable
	case *pg_query.Node_ViewStmt:
		ret.Kind = StmtCreateView
	default:
		return nil, ErrUnsupportedStmt.New(firstWords(s))
	}
	return ret, nil
}

// ParseStatements splits a script and classifies every statement.
func ParseStatements(s string) ([]*Statement, error) {
	parts, err := Split(s)
	if err != nil {
		return nil, err
	}
	ret := make([]*Statement, 0, len(parts))
	for _, part := range parts {
		stmt, err := ParseStatement(part)
		if err != nil {
			return nil, err
		}
		ret = append(ret, stmt)
	}
	return ret, nil
}

func firstWords(s string) string {
	fields := strings.Fields(s)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}
