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

package rewrite

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// ExecutionUnit is the SQL one route unit runs.
type ExecutionUnit struct {
	Unit *route.RouteUnit
	SQL  string
}

func (eu ExecutionUnit) DataSourceName() string {
	return eu.Unit.DataSourceName()
}

// Result holds the statement the merger works with and the SQL of every
// route unit. Statement is a copy; the parsed query is never changed.
type Result struct {
	Statement *stmt.Statement
	Units     []ExecutionUnit
}

// Rewrite turns the logical query into the SQL of each route unit.
//
// Row returning statements that fan out to more than one unit get the
// columns the merge needs appended and their pagination widened.
// Parameters are inlined since every unit runs its own text.
func Rewrite(q *parser.Query, rc *route.RouteContext) (*Result, error) {
	st := q.Statement.Clone()
	tree := proto.Clone(q.Tree).(*pg_query.ParseResult)
	if err := InlineParams(tree, st.Params); err != nil {
		return nil, err
	}
	sel := selectOf(tree)
	if sel != nil && rc.Len() > 1 {
		if err := DeriveOrderItems(st, sel); err != nil {
			return nil, err
		}
		if err := DeriveAggregations(st, sel); err != nil {
			return nil, err
		}
		if err := RevisePagination(st, sel); err != nil {
			return nil, err
		}
	}
	ret := &Result{Statement: st}
	for _, unit := range rc.Units() {
		sql, err := unitSQL(tree, st, unit)
		if err != nil {
			return nil, err
		}
		ret.Units = append(ret.Units, ExecutionUnit{Unit: unit, SQL: sql})
	}
	util.Debug("rewrite",
		zap.String("sql", q.SQL),
		zap.Int("units", len(ret.Units)),
		zap.Int("derived", st.DerivedColumnCount()))
	return ret, nil
}

func selectOf(tree *pg_query.ParseResult) *pg_query.SelectStmt {
	node := tree.Stmts[0].Stmt
	if sel := node.GetSelectStmt(); sel != nil {
		return sel
	}
	return node.GetDeclareCursorStmt().GetQuery().GetSelectStmt()
}

func unitSQL(tree *pg_query.ParseResult, st *stmt.Statement, unit *route.RouteUnit) (string, error) {
	unitTree := proto.Clone(tree).(*pg_query.ParseResult)
	RenameTables(unitTree, unit, st.Kind != stmt.KindDDL)
	node := unitTree.Stmts[0].Stmt
	if decl := node.GetDeclareCursorStmt(); decl != nil {
		node = decl.Query
	}
	sql, err := pg_query.Deparse(&pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: node}},
	})
	if err != nil {
		return "", fmt.Errorf("deparse for %s: %w", unit, err)
	}
	return sql, nil
}

func (r *Result) Print(tree treeprint.Tree) {
	for i, eu := range r.Units {
		tree.AddMetaNode(fmt.Sprintf("%d %s", i, eu.DataSourceName()), eu.SQL)
	}
}

func (r *Result) String() string {
	tree := treeprint.NewWithRoot("Rewrite:")
	r.Print(tree)
	return tree.String()
}
