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
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/shardmerge/pkg/stmt"
)

var ErrEmptyQuery = errors.New("empty query")

// Query is a parsed statement and its binding to the logical schema.
type Query struct {
	SQL       string
	Tree      *pg_query.ParseResult
	Statement *stmt.Statement
}

func Parse(sql string) (*Query, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, err
	}
	switch len(tree.Stmts) {
	case 0:
		return nil, ErrEmptyQuery
	case 1:
	default:
		return nil, fmt.Errorf("expect one statement, got %d", len(tree.Stmts))
	}
	st, err := bind(tree.Stmts[0].Stmt)
	if err != nil {
		return nil, err
	}
	st.SQL = sql
	return &Query{SQL: sql, Tree: tree, Statement: st}, nil
}

// Bind attaches the values of the $n parameters.
func (q *Query) Bind(params []any) {
	q.Statement.Params = params
}

// SelectNode returns the SELECT the shards run: the statement itself, or
// the query of a DECLARE CURSOR. Nil for other statements.
func (q *Query) SelectNode() *pg_query.SelectStmt {
	node := q.Tree.Stmts[0].Stmt
	if sel := node.GetSelectStmt(); sel != nil {
		return sel
	}
	if decl := node.GetDeclareCursorStmt(); decl != nil {
		return decl.GetQuery().GetSelectStmt()
	}
	return nil
}

func (q *Query) Print(tree treeprint.Tree) {
	st := q.Statement
	tree.AddMetaNode("kind", st.Kind.String())
	if len(st.Tables) != 0 {
		branch := tree.AddBranch("tables")
		for _, tab := range st.Tables {
			if tab.Alias != "" {
				branch.AddNode(tab.Name + " AS " + tab.Alias)
			} else {
				branch.AddNode(tab.Name)
			}
		}
	}
	if len(st.Projections) != 0 {
		branch := tree.AddBranch("projections")
		for _, p := range st.Projections {
			branch.AddMetaNode(p.Label(), p.Text)
		}
	}
	if len(st.Aggregations) != 0 {
		branch := tree.AddBranch("aggregations")
		for _, agg := range st.Aggregations {
			branch.AddMetaNode(agg.Index, agg.Text())
		}
	}
	printItems(tree, "group by", st.GroupBy)
	printItems(tree, "order by", st.OrderBy)
	if st.HasPagination() {
		tree.AddMetaNode("pagination", fmt.Sprintf("%+v", st.Pagination))
	}
	if st.Cursor != nil {
		tree.AddMetaNode("cursor", fmt.Sprintf("%s %s %d", st.Cursor.Name, st.Cursor.Direction, st.Cursor.Count))
	}
}

func printItems(tree treeprint.Tree, name string, items []*stmt.OrderByItem) {
	if len(items) == 0 {
		return
	}
	branch := tree.AddBranch(name)
	for _, item := range items {
		branch.AddMetaNode(item.Index, item.String())
	}
}

func (q *Query) String() string {
	tree := treeprint.NewWithRoot("Query:")
	q.Print(tree)
	return tree.String()
}

// ExprText prints an expression as SQL.
func ExprText(node *pg_query.Node) string {
	tree := &pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: SelectNodeOf(&pg_query.SelectStmt{
			TargetList: []*pg_query.Node{ResTargetOf(node, "")},
		})}},
	}
	text, err := pg_query.Deparse(tree)
	if err != nil {
		return node.String()
	}
	return strings.TrimPrefix(text, "SELECT ")
}

// SelectNodeOf wraps the select into a node, filling the enums a
// hand made SelectStmt lacks.
func SelectNodeOf(sel *pg_query.SelectStmt) *pg_query.Node {
	if sel.Op == pg_query.SetOperation_SET_OPERATION_UNDEFINED {
		sel.Op = pg_query.SetOperation_SETOP_NONE
	}
	if sel.LimitOption == pg_query.LimitOption_LIMIT_OPTION_UNDEFINED {
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_DEFAULT
	}
	return &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
}

func ResTargetOf(val *pg_query.Node, name string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{Name: name, Val: val}}}
}
