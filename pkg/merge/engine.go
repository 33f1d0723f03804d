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

package merge

import (
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/pagination"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

const (
	MergerIterator = "iterator"
	MergerOrderBy  = "order_by_stream"
	MergerGroupBy  = "group_by_memory"
)

// Engine picks the merger of a statement from its shape.
type Engine struct {
	schema *schema.Schema
}

func NewEngine(sch *schema.Schema) *Engine {
	return &Engine{schema: sch}
}

// Merge combines the shard results into one cursor. A single result is
// passed through since the shard already did the work. Otherwise grouped
// queries are merged in memory, ordered ones by stream, the rest one shard
// after another, and the pagination is applied on top.
func (e *Engine) Merge(results []QueryResult, st *stmt.Statement) (MergedResult, error) {
	if len(results) == 0 {
		return NewMemoryResult(nil, nil), nil
	}
	if len(results) == 1 {
		return hideDerived(NewIteratorStreamMergedResult(results), st.DerivedColumnCount()), nil
	}
	paging, err := pagination.NewContext(st.Pagination, st.Params)
	if err != nil {
		return nil, closeOnError(err, results)
	}
	var merged MergedResult
	merger := Merger(st, len(results))
	switch merger {
	case MergerGroupBy:
		merged, err = NewGroupByMemoryMergedResult(results, st, e.schema)
	case MergerOrderBy:
		merged, err = NewOrderByStreamMergedResult(results, st, e.schema)
	default:
		merged = NewIteratorStreamMergedResult(results)
	}
	if err != nil {
		return nil, err
	}
	util.Debug("merge",
		zap.String("merger", merger),
		zap.Int("shards", len(results)),
		zap.Stringer("pagination", paging))
	merged = hideDerived(merged, st.DerivedColumnCount())
	if paging.HasPagination() {
		merged = NewLimitDecoratorMergedResult(merged, paging)
	}
	return merged, nil
}

// Merger names the merger Merge uses for the statement.
func Merger(st *stmt.Statement, shards int) string {
	switch {
	case shards <= 1:
		return MergerIterator
	case st.IsGroupedQuery() || st.Distinct:
		return MergerGroupBy
	case len(st.OrderBy) != 0:
		return MergerOrderBy
	default:
		return MergerIterator
	}
}

// DeclareCursor merges the shard results of the cursor query and keeps the
// merge under the cursor name for the following FETCH statements.
func (e *Engine) DeclareCursor(store CursorStateStore, name string, results []QueryResult, query *stmt.Statement) error {
	merged, err := e.Merge(results, query)
	if err != nil {
		return err
	}
	return store.Store(name, &FetchState{name: name, merged: merged})
}
