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

package pagination

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// Context is the dialect neutral pagination of a statement:
// skip Offset merged rows, then emit at most RowCount rows.
// Both values are resolved against the bound parameters.
type Context struct {
	hasPagination bool
	offset        int64
	hasOffset     bool
	rowCount      int64
	hasRowCount   bool
}

// NewContext extracts the pagination of the clause.
func NewContext(clause stmt.PaginationClause, params []any) (*Context, error) {
	switch c := clause.(type) {
	case nil, stmt.NoPagination:
		return &Context{}, nil
	case *stmt.LimitClause:
		return newLimitContext(c, params)
	case *stmt.TopClause:
		return newTopContext(c, params)
	case *stmt.RowNumberClause:
		return newRowNumberContext(c, params)
	default:
		panic(fmt.Sprintf("usp pagination clause %T", clause))
	}
}

func newLimitContext(clause *stmt.LimitClause, params []any) (*Context, error) {
	ret := &Context{}
	if clause.Offset != nil {
		off, err := resolve(clause.Offset, params)
		if err != nil {
			return nil, err
		}
		ret.offset, ret.hasOffset = off, true
	}
	if clause.RowCount != nil {
		cnt, err := resolve(clause.RowCount, params)
		if err != nil {
			return nil, err
		}
		ret.rowCount, ret.hasRowCount = cnt, true
	}
	ret.hasPagination = ret.hasOffset || ret.hasRowCount
	return ret, nil
}

// TOP n is the last row number to return. A `alias > x` or `alias >= x`
// predicate gives the first one.
func newTopContext(clause *stmt.TopClause, params []any) (*Context, error) {
	top, err := resolve(&clause.RowCount, params)
	if err != nil {
		return nil, err
	}
	ret := &Context{hasPagination: true}
	for i := range clause.Predicates {
		pred := &clause.Predicates[i]
		if !isRowNumberColumn(pred.Column, clause.RowNumberAlias) {
			continue
		}
		switch pred.Op {
		case stmt.OpGreater, stmt.OpGreaterEqual:
			off, err := offsetOf(pred, params)
			if err != nil {
				return nil, err
			}
			ret.offset, ret.hasOffset = off, true
		default:
			util.Debug("row number predicate ignored for TOP",
				zap.String("column", pred.Column),
				zap.String("op", pred.Op.String()))
		}
	}
	ret.rowCount, ret.hasRowCount = clamp(top-ret.offset), true
	return ret, nil
}

func newRowNumberContext(clause *stmt.RowNumberClause, params []any) (*Context, error) {
	ret := &Context{}
	var last int64
	hasLast := false
	for i := range clause.Predicates {
		pred := &clause.Predicates[i]
		if !isRowNumberColumn(pred.Column, clause.RowNumberAlias) {
			continue
		}
		switch pred.Op {
		case stmt.OpGreater, stmt.OpGreaterEqual:
			off, err := offsetOf(pred, params)
			if err != nil {
				return nil, err
			}
			ret.offset, ret.hasOffset = off, true
		case stmt.OpLess, stmt.OpLessEqual:
			v, err := resolve(&pred.Value, params)
			if err != nil {
				return nil, err
			}
			if pred.Op == stmt.OpLess {
				v--
			}
			last, hasLast = clamp(v), true
		default:
			util.Debug("row number predicate ignored",
				zap.String("column", pred.Column),
				zap.String("op", pred.Op.String()))
		}
	}
	if hasLast {
		ret.rowCount, ret.hasRowCount = clamp(last-ret.offset), true
	}
	ret.hasPagination = ret.hasOffset || ret.hasRowCount
	return ret, nil
}

func offsetOf(pred *stmt.RowNumberPredicate, params []any) (int64, error) {
	v, err := resolve(&pred.Value, params)
	if err != nil {
		return 0, err
	}
	if pred.Op == stmt.OpGreaterEqual {
		v--
	}
	return clamp(v), nil
}

func isRowNumberColumn(column, alias string) bool {
	if strings.EqualFold(column, "rownum") {
		return true
	}
	return alias != "" && strings.EqualFold(column, alias)
}

func resolve(seg *stmt.NumberSegment, params []any) (int64, error) {
	if !seg.Parameterized {
		if seg.Value < 0 {
			return 0, fmt.Errorf("pagination value %d must not be negative", seg.Value)
		}
		return seg.Value, nil
	}
	if seg.Param < 0 || seg.Param >= len(params) {
		return 0, fmt.Errorf("pagination parameter %s is not bound, %d parameters given", seg, len(params))
	}
	v, err := common.FromAny(params[seg.Param]).ToInt64()
	if err != nil {
		return 0, fmt.Errorf("pagination parameter %s: %w", seg, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("pagination parameter %s value %d must not be negative", seg, v)
	}
	return v, nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func (ctx *Context) HasPagination() bool {
	return ctx.hasPagination
}

func (ctx *Context) Offset() (int64, bool) {
	return ctx.offset, ctx.hasOffset
}

// ActualOffset is the offset, or 0 when absent.
func (ctx *Context) ActualOffset() int64 {
	return ctx.offset
}

// RowCount is the length of the window after the offset. For TOP it is the
// TOP value minus the offset, never negative.
func (ctx *Context) RowCount() (int64, bool) {
	return ctx.rowCount, ctx.hasRowCount
}

// RevisedRowCount is the row count each shard must return so that the
// global window survives the merge. Grouped queries need every row.
func (ctx *Context) RevisedRowCount(st *stmt.Statement) (int64, bool) {
	if !ctx.hasRowCount || st.IsGroupedQuery() {
		return 0, false
	}
	return ctx.offset + ctx.rowCount, true
}

func (ctx *Context) String() string {
	if !ctx.hasPagination {
		return "no pagination"
	}
	off, cnt := "-", "-"
	if ctx.hasOffset {
		off = fmt.Sprint(ctx.offset)
	}
	if ctx.hasRowCount {
		cnt = fmt.Sprint(ctx.rowCount)
	}
	return fmt.Sprintf("offset %s row count %s", off, cnt)
}
