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
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

type Stage int

const (
	StageRaw Stage = iota
	StageDecorrelated
	StageOptimized
)

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return "Raw Plan"
	case StageDecorrelated:
		return "Decorrelated Plan"
	case StageOptimized:
		return "Optimized Plan"
	default:
		panic(fmt.Sprintf("usp stage %d", s))
	}
}

// ExplainStmt is
//
//	EXPLAIN [TYPED] {RAW PLAN | DECORRELATED PLAN | OPTIMIZED PLAN | PLAN}
//	FOR {<query> | VIEW <name>}
//
// The query is kept as postgres AST; view names are kept unresolved.
type ExplainStmt struct {
	Stage  Stage
	Typed  bool
	View   []string
	Query  string
	Select *pg_query.SelectStmt
}

type explainLexer struct {
	sql    string
	tokens []*pg_query.ScanToken
	pos    int
}

func (lex *explainLexer) peek() string {
	if lex.pos >= len(lex.tokens) {
		return ""
	}
	tok := lex.tokens[lex.pos]
	return strings.ToUpper(lex.sql[tok.Start:tok.End])
}

func (lex *explainLexer) accept(word string) bool {
	if lex.peek() == word {
		lex.pos++
		return true
	}
	return false
}

func (lex *explainLexer) expect(word string) error {
	if !lex.accept(word) {
		got := lex.peek()
		if got == "" {
			got = "end of input"
		}
		return ErrSyntax.New(fmt.Sprintf("expected %s, found %s", word, got))
	}
	return nil
}

func (lex *explainLexer) rest() string {
	if lex.pos >= len(lex.tokens) {
		return ""
	}
	return lex.sql[lex.tokens[lex.pos].Start:]
}

// ParseExplain recognizes the EXPLAIN prefix. The second result is false
// when s is not an EXPLAIN statement.
func ParseExplain(s string) (*ExplainStmt, bool, error) {
	scan, err := pg_query.Scan(s)
	if err != nil {
		return nil, false, ErrSyntax.New(err.Error())
	}
	lex := &explainLexer{sql: s, tokens: scan.GetTokens()}
	if !lex.accept("EXPLAIN") {
		return nil, false, nil
	}
	ret := &ExplainStmt{Stage: StageOptimized}
	ret.Typed = lex.accept("TYPED")
	switch {
	case lex.accept("RAW"):
		ret.Stage = StageRaw
		err = lex.expect("PLAN")
	case lex.accept("DECORRELATED"):
		ret.Stage = StageDecorrelated
		err = lex.expect("PLAN")
	case lex.accept("OPTIMIZED"):
		ret.Stage = StageOptimized
		err = lex.expect("PLAN")
	default:
		err = lex.expect("PLAN")
	}
	if err != nil {
		return nil, true, err
	}
	if err = lex.expect("FOR"); err != nil {
		return nil, true, err
	}
	if lex.accept("VIEW") {
		ret.View, err = splitName(lex.rest())
		if err != nil {
			return nil, true, err
		}
		return ret, true, nil
	}
	ret.Query = strings.TrimSuffix(strings.TrimSpace(lex.rest()), ";")
	node, err := ParseOne(ret.Query)
	if err != nil {
		return nil, true, err
	}
	ret.Select = node.GetSelectStmt()
	if ret.Select == nil {
		return nil, true, ErrUnsupportedStmt.New("EXPLAIN of " + firstWords(ret.Query))
	}
	return ret, true, nil
}

func splitName(s string) ([]string, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	if s == "" {
		return nil, ErrSyntax.New("expected view name")
	}
	parts := strings.Split(s, ".")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) >= 2 && part[0] == '"' && part[len(part)-1] == '"' {
			part = part[1 : len(part)-1]
		} else {
			part = strings.ToLower(part)
		}
		if part == "" || strings.ContainsAny(part, " \t\n") {
			return nil, ErrSyntax.New(fmt.Sprintf("invalid view name %q", s))
		}
		parts[i] = part
	}
	return parts, nil
}
