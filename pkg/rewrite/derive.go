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
	"google.golang.org/protobuf/proto"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

const (
	avgDerivedCount = "AVG_DERIVED_COUNT_%d"
	avgDerivedSum   = "AVG_DERIVED_SUM_%d"
	orderByDerived  = "ORDER_BY_DERIVED_%d"
	groupByDerived  = "GROUP_BY_DERIVED_%d"
)

// DeriveAggregations appends COUNT and SUM of every AVG argument so the
// merger can recombine the average from shard partials.
func DeriveAggregations(st *stmt.Statement, sel *pg_query.SelectStmt) error {
	n := 0
	for _, agg := range st.Aggregations {
		if agg.Type != stmt.AggAvg {
			continue
		}
		if agg.Index < 0 || agg.Index >= len(sel.TargetList) {
			return fmt.Errorf("%s: %w", agg.Text(), common.ErrAggregateInvariant)
		}
		fc := sel.TargetList[agg.Index].GetResTarget().GetVal().GetFuncCall()
		if fc == nil {
			return fmt.Errorf("%s is not a function call: %w", agg.Text(), common.ErrAggregateInvariant)
		}
		count := appendDerivedAggregation(st, sel, fc, stmt.AggCount, agg.Expression, fmt.Sprintf(avgDerivedCount, n))
		sum := appendDerivedAggregation(st, sel, fc, stmt.AggSum, agg.Expression, fmt.Sprintf(avgDerivedSum, n))
		agg.Derived = []*stmt.AggregationItem{count, sum}
		n++
	}
	return nil
}

func appendDerivedAggregation(st *stmt.Statement, sel *pg_query.SelectStmt, avg *pg_query.FuncCall,
	typ stmt.AggregationType, expr, alias string) *stmt.AggregationItem {
	fc := proto.Clone(avg).(*pg_query.FuncCall)
	fc.Funcname = []*pg_query.Node{{Node: &pg_query.Node_String_{String_: &pg_query.String{Sval: stringOf(typ)}}}}
	item := &stmt.AggregationItem{
		Type:       typ,
		Expression: expr,
		Alias:      alias,
		Index:      len(sel.TargetList),
	}
	node := &pg_query.Node{Node: &pg_query.Node_FuncCall{FuncCall: fc}}
	sel.TargetList = append(sel.TargetList, parser.ResTargetOf(node, alias))
	st.Projections = append(st.Projections, &stmt.Projection{
		Text:        parser.ExprText(node),
		Alias:       alias,
		Aggregation: item,
		Derived:     true,
	})
	return item
}

func stringOf(typ stmt.AggregationType) string {
	switch typ {
	case stmt.AggCount:
		return "count"
	case stmt.AggSum:
		return "sum"
	default:
		panic("usp")
	}
}

// DeriveOrderItems projects the GROUP BY and ORDER BY keys the select list
// lacks, so every shard row carries its sort key.
func DeriveOrderItems(st *stmt.Statement, sel *pg_query.SelectStmt) error {
	for i, item := range st.GroupBy {
		if i >= len(sel.GroupClause) {
			break
		}
		if err := deriveItem(st, sel, item, sel.GroupClause[i], fmt.Sprintf(groupByDerived, i)); err != nil {
			return err
		}
	}
	for i, item := range st.OrderBy {
		if i >= len(sel.SortClause) {
			break
		}
		node := sel.SortClause[i].GetSortBy().GetNode()
		if err := deriveItem(st, sel, item, node, fmt.Sprintf(orderByDerived, i)); err != nil {
			return err
		}
	}
	return nil
}

func deriveItem(st *stmt.Statement, sel *pg_query.SelectStmt, item *stmt.OrderByItem, expr *pg_query.Node, alias string) error {
	if item.Kind == stmt.OrderByIndex || item.Index >= 0 || item.Alias != "" {
		return nil
	}
	star := st.HasStar()
	// the star already carries every column of its tables
	if star && item.Kind == stmt.OrderByColumn {
		return nil
	}
	node := proto.Clone(expr).(*pg_query.Node)
	text := parser.ExprText(node)
	for j, p := range st.Projections {
		if p.Derived && p.Text == text {
			item.Alias = p.Alias
			if !star {
				item.Index = j
			}
			return nil
		}
	}
	p := &stmt.Projection{Text: text, Alias: alias, Derived: true}
	idx := len(sel.TargetList)
	if fc := node.GetFuncCall(); fc != nil {
		if agg, ok := parser.AggregationOf(fc); ok {
			if star {
				return parser.ErrStarAggr
			}
			agg.Alias = alias
			agg.Index = idx
			p.Aggregation = agg
			st.Aggregations = append(st.Aggregations, agg)
		}
	}
	if node.GetColumnRef() != nil {
		p.Owner, p.Column = item.Owner, item.Name
	}
	sel.TargetList = append(sel.TargetList, parser.ResTargetOf(node, alias))
	st.Projections = append(st.Projections, p)
	item.Alias = alias
	if !star {
		item.Index = idx
	}
	return nil
}
