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
	"math"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

var (
	ErrSetOperation = errors.New("set operations are not supported across shards")
	ErrDistinctOn   = errors.New("DISTINCT ON is not supported across shards")
	ErrStarAggr     = errors.New("aggregations after * are not supported across shards")
)

func bind(node *pg_query.Node) (*stmt.Statement, error) {
	st := &stmt.Statement{Pagination: stmt.NoPagination{}}
	var err error
	switch n := node.GetNode().(type) {
	case *pg_query.Node_SelectStmt:
		st.Kind = stmt.KindSelect
		err = bindSelect(st, n.SelectStmt)
	case *pg_query.Node_DeclareCursorStmt:
		st.Kind = stmt.KindDeclareCursor
		st.Cursor = &stmt.CursorSpec{Name: n.DeclareCursorStmt.Portalname, Direction: stmt.FetchAll}
		sel := n.DeclareCursorStmt.GetQuery().GetSelectStmt()
		if sel == nil {
			return nil, errors.New("cursor query must be a SELECT")
		}
		err = bindSelect(st, sel)
	case *pg_query.Node_FetchStmt:
		st.Kind = stmt.KindFetch
		if n.FetchStmt.Ismove {
			st.Kind = stmt.KindMove
		}
		st.Cursor, err = cursorOf(n.FetchStmt)
	case *pg_query.Node_ClosePortalStmt:
		st.Kind = stmt.KindCloseCursor
		st.Cursor = &stmt.CursorSpec{Name: n.ClosePortalStmt.Portalname}
	case *pg_query.Node_ViewStmt:
		st.Kind = stmt.KindCreateView
		st.ViewName = relName(n.ViewStmt.View)
		collectTables(st, n.ViewStmt.Query)
	case *pg_query.Node_AlterTableStmt:
		st.Kind = stmt.KindDDL
		if n.AlterTableStmt.Objtype == pg_query.ObjectType_OBJECT_VIEW {
			st.Kind = stmt.KindAlterView
			st.ViewName = relName(n.AlterTableStmt.Relation)
		} else {
			addRangeVar(st, n.AlterTableStmt.Relation)
		}
	case *pg_query.Node_RenameStmt:
		st.Kind = stmt.KindDDL
		if n.RenameStmt.RenameType == pg_query.ObjectType_OBJECT_VIEW {
			st.Kind = stmt.KindAlterView
			st.ViewName = relName(n.RenameStmt.Relation)
		} else {
			addRangeVar(st, n.RenameStmt.Relation)
		}
	case *pg_query.Node_DropStmt:
		st.Kind = stmt.KindDDL
		names := dropNames(n.DropStmt)
		switch n.DropStmt.RemoveType {
		case pg_query.ObjectType_OBJECT_VIEW:
			st.Kind = stmt.KindDropView
			if len(names) != 0 {
				st.ViewName = names[0]
			}
		case pg_query.ObjectType_OBJECT_TABLE:
			for _, name := range names {
				st.Tables = append(st.Tables, stmt.TableRef{Name: name})
			}
		}
	case *pg_query.Node_CreateStmt:
		st.Kind = stmt.KindDDL
		addRangeVar(st, n.CreateStmt.Relation)
	case *pg_query.Node_IndexStmt:
		st.Kind = stmt.KindDDL
		addRangeVar(st, n.IndexStmt.Relation)
	case *pg_query.Node_TruncateStmt:
		st.Kind = stmt.KindDDL
		for _, rel := range n.TruncateStmt.Relations {
			collectTables(st, rel)
		}
	case *pg_query.Node_InsertStmt:
		st.Kind = stmt.KindInsert
		addRangeVar(st, n.InsertStmt.Relation)
		collectTables(st, n.InsertStmt.SelectStmt)
	case *pg_query.Node_UpdateStmt:
		st.Kind = stmt.KindUpdate
		addRangeVar(st, n.UpdateStmt.Relation)
		for _, from := range n.UpdateStmt.FromClause {
			collectTables(st, from)
		}
	case *pg_query.Node_DeleteStmt:
		st.Kind = stmt.KindDelete
		addRangeVar(st, n.DeleteStmt.Relation)
		for _, using := range n.DeleteStmt.UsingClause {
			collectTables(st, using)
		}
	case *pg_query.Node_TransactionStmt:
		st.Kind = stmt.KindTCL
	case *pg_query.Node_VariableSetStmt, *pg_query.Node_VariableShowStmt:
		st.Kind = stmt.KindSet
	default:
		st.Kind = stmt.KindOther
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func bindSelect(st *stmt.Statement, sel *pg_query.SelectStmt) error {
	if sel.Op != pg_query.SetOperation_SETOP_NONE && sel.Op != pg_query.SetOperation_SET_OPERATION_UNDEFINED {
		return ErrSetOperation
	}
	if sel.WithClause != nil {
		return errors.New("WITH is not supported across shards")
	}
	for _, from := range sel.FromClause {
		collectTables(st, from)
	}
	if err := bindTargets(st, sel.TargetList); err != nil {
		return err
	}
	if len(sel.DistinctClause) != 0 {
		if len(sel.DistinctClause) != 1 || sel.DistinctClause[0].GetNode() != nil {
			return ErrDistinctOn
		}
		st.Distinct = true
	}
	for _, node := range sel.GroupClause {
		st.GroupBy = append(st.GroupBy, orderItemOf(node, common.Asc, common.DefaultNullsOrder(common.Asc)))
	}
	for _, node := range sel.SortClause {
		sortBy := node.GetSortBy()
		if sortBy == nil {
			panic("usp")
		}
		dir := common.Asc
		switch sortBy.SortbyDir {
		case pg_query.SortByDir_SORTBY_DEFAULT, pg_query.SortByDir_SORTBY_ASC:
		case pg_query.SortByDir_SORTBY_DESC:
			dir = common.Desc
		default:
			return fmt.Errorf("usp orderbydir %v", sortBy.SortbyDir)
		}
		nulls := common.DefaultNullsOrder(dir)
		switch sortBy.SortbyNulls {
		case pg_query.SortByNulls_SORTBY_NULLS_FIRST:
			nulls = common.NullsFirst
		case pg_query.SortByNulls_SORTBY_NULLS_LAST:
			nulls = common.NullsLast
		}
		st.OrderBy = append(st.OrderBy, orderItemOf(sortBy.Node, dir, nulls))
	}
	if err := bindPagination(st, sel); err != nil {
		return err
	}
	resolveItems(st, st.GroupBy)
	resolveItems(st, st.OrderBy)
	return nil
}

func bindTargets(st *stmt.Statement, targets []*pg_query.Node) error {
	starSeen := false
	for i, node := range targets {
		target := node.GetResTarget()
		p := &stmt.Projection{Alias: target.Name, Text: ExprText(target.Val)}
		switch val := target.Val.GetNode().(type) {
		case *pg_query.Node_ColumnRef:
			p.Owner, p.Column, p.Star = columnRefName(val.ColumnRef)
			if p.Star {
				starSeen = true
				p.Column = ""
			}
		case *pg_query.Node_FuncCall:
			if agg, ok := AggregationOf(val.FuncCall); ok {
				if starSeen {
					return ErrStarAggr
				}
				agg.Alias = target.Name
				agg.Index = i
				p.Aggregation = agg
				st.Aggregations = append(st.Aggregations, agg)
			}
		}
		st.Projections = append(st.Projections, p)
	}
	return nil
}

// columnRefName splits owner.column. The last field may be *.
func columnRefName(ref *pg_query.ColumnRef) (owner, column string, star bool) {
	fields := ref.GetFields()
	if len(fields) == 0 {
		return "", "", false
	}
	last := fields[len(fields)-1]
	if last.GetAStar() != nil {
		star = true
	} else {
		column = last.GetString_().GetSval()
	}
	if len(fields) >= 2 {
		owner = fields[len(fields)-2].GetString_().GetSval()
	}
	return owner, column, star
}

func funcName(fc *pg_query.FuncCall) string {
	for _, node := range fc.Funcname {
		sval := node.GetString_().GetSval()
		if sval == "pg_catalog" {
			continue
		}
		return sval
	}
	return ""
}

// AggregationOf reports the aggregation a function call computes. Window calls are not aggregations.
func AggregationOf(fc *pg_query.FuncCall) (*stmt.AggregationItem, bool) {
	if fc.Over != nil {
		return nil, false
	}
	typ, ok := stmt.AggregationTypeOf(funcName(fc))
	if !ok {
		return nil, false
	}
	expr := "*"
	if !fc.AggStar {
		args := make([]string, 0, len(fc.Args))
		for _, arg := range fc.Args {
			args = append(args, ExprText(arg))
		}
		expr = strings.Join(args, ", ")
	}
	return &stmt.AggregationItem{
		Type:       typ,
		Expression: expr,
		Distinct:   fc.AggDistinct,
		Index:      -1,
	}, true
}

func orderItemOf(node *pg_query.Node, dir common.Direction, nulls common.NullsOrder) *stmt.OrderByItem {
	item := &stmt.OrderByItem{Direction: dir, NullsOrder: nulls, Index: -1}
	switch n := node.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		owner, column, star := columnRefName(n.ColumnRef)
		if !star {
			item.Kind = stmt.OrderByColumn
			item.Owner, item.Name = owner, column
			return item
		}
	case *pg_query.Node_AConst:
		if ival := n.AConst.GetIval(); ival != nil && !n.AConst.Isnull {
			item.Kind = stmt.OrderByIndex
			item.Position = int(ival.Ival)
			return item
		}
	}
	item.Kind = stmt.OrderByExpression
	item.Text = ExprText(node)
	return item
}

// resolveItems points the items at the projection they read, when the
// position of that projection is known before the shards answer.
func resolveItems(st *stmt.Statement, items []*stmt.OrderByItem) {
	for _, item := range items {
		if item.Kind == stmt.OrderByIndex {
			continue
		}
		known := true
		for j, p := range st.Projections {
			if p.Star {
				known = false
				continue
			}
			if !projects(st, p, item) {
				continue
			}
			if known {
				item.Index = j
			} else if p.Alias != "" {
				item.Alias = p.Alias
			}
			break
		}
	}
}

func projects(st *stmt.Statement, p *stmt.Projection, item *stmt.OrderByItem) bool {
	switch item.Kind {
	case stmt.OrderByColumn:
		if item.Owner == "" && p.Alias != "" && strings.EqualFold(p.Alias, item.Name) {
			return true
		}
		if p.Column == "" || !strings.EqualFold(p.Column, item.Name) {
			return false
		}
		if item.Owner == "" || p.Owner == "" {
			return true
		}
		itemTab, _ := st.TableOfAlias(item.Owner)
		projTab, _ := st.TableOfAlias(p.Owner)
		return strings.EqualFold(itemTab, projTab)
	case stmt.OrderByExpression:
		return strings.EqualFold(p.Text, item.Text)
	default:
		return false
	}
}

func bindPagination(st *stmt.Statement, sel *pg_query.SelectStmt) error {
	if sel.LimitCount == nil && sel.LimitOffset == nil {
		return nil
	}
	limit := &stmt.LimitClause{}
	var err error
	if sel.LimitOffset != nil {
		if limit.Offset, err = segmentOf(sel.LimitOffset); err != nil {
			return err
		}
	}
	if sel.LimitCount != nil {
		if limit.RowCount, err = segmentOf(sel.LimitCount); err != nil {
			return err
		}
	}
	if limit.Offset != nil || limit.RowCount != nil {
		st.Pagination = limit
	}
	return nil
}

// segmentOf reads a LIMIT or OFFSET value. LIMIT ALL gives nil.
func segmentOf(node *pg_query.Node) (*stmt.NumberSegment, error) {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_AConst:
		if n.AConst.Isnull {
			return nil, nil
		}
		if ival := n.AConst.GetIval(); ival != nil {
			return stmt.Literal(int64(ival.Ival)), nil
		}
		if fval := n.AConst.GetFval(); fval != nil {
			v, err := strconv.ParseInt(fval.Fval, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("pagination value %s: %w", fval.Fval, err)
			}
			return stmt.Literal(v), nil
		}
	case *pg_query.Node_ParamRef:
		return stmt.Param(int(n.ParamRef.Number) - 1), nil
	}
	return nil, fmt.Errorf("unsupported pagination expression %s", ExprText(node))
}

func cursorOf(fetch *pg_query.FetchStmt) (*stmt.CursorSpec, error) {
	spec := &stmt.CursorSpec{Name: fetch.Portalname}
	switch fetch.Direction {
	case pg_query.FetchDirection_FETCH_FORWARD:
		if fetch.HowMany == math.MaxInt64 {
			spec.Direction = stmt.FetchAll
		} else {
			spec.Direction = stmt.FetchForward
			spec.Count = fetch.HowMany
		}
	case pg_query.FetchDirection_FETCH_BACKWARD:
		spec.Direction = stmt.FetchBackward
		spec.Count = fetch.HowMany
	case pg_query.FetchDirection_FETCH_ABSOLUTE:
		spec.Direction = stmt.FetchAbsolute
		spec.Count = fetch.HowMany
	case pg_query.FetchDirection_FETCH_RELATIVE:
		spec.Direction = stmt.FetchRelative
		spec.Count = fetch.HowMany
	default:
		return nil, fmt.Errorf("usp fetch direction %v", fetch.Direction)
	}
	return spec, nil
}

func relName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return ""
	}
	return strings.ToLower(rv.Relname)
}

func addRangeVar(st *stmt.Statement, rv *pg_query.RangeVar) {
	if rv == nil {
		return
	}
	ref := stmt.TableRef{Name: relName(rv)}
	if rv.Alias != nil {
		ref.Alias = rv.Alias.Aliasname
	}
	st.Tables = append(st.Tables, ref)
}

// collectTables adds the tables a FROM item reads, subqueries included.
func collectTables(st *stmt.Statement, node *pg_query.Node) {
	if node == nil {
		return
	}
	switch n := node.GetNode().(type) {
	case *pg_query.Node_RangeVar:
		addRangeVar(st, n.RangeVar)
	case *pg_query.Node_JoinExpr:
		collectTables(st, n.JoinExpr.Larg)
		collectTables(st, n.JoinExpr.Rarg)
	case *pg_query.Node_RangeSubselect:
		collectTables(st, n.RangeSubselect.Subquery)
	case *pg_query.Node_SelectStmt:
		for _, from := range n.SelectStmt.FromClause {
			collectTables(st, from)
		}
		collectArm(st, n.SelectStmt.Larg)
		collectArm(st, n.SelectStmt.Rarg)
	}
}

// collectArm adds the tables of one side of a set operation.
func collectArm(st *stmt.Statement, arm *pg_query.SelectStmt) {
	if arm == nil {
		return
	}
	collectTables(st, &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: arm}})
}

func dropNames(drop *pg_query.DropStmt) []string {
	var ret []string
	for _, obj := range drop.Objects {
		items := obj.GetList().GetItems()
		if len(items) == 0 {
			continue
		}
		ret = append(ret, strings.ToLower(items[len(items)-1].GetString_().GetSval()))
	}
	return ret
}
