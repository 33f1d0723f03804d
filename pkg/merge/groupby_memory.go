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
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

type group struct {
	row   []common.Value
	units []aggregationUnit
}

// GroupByMemoryMergedResult regroups the rows of all shards in memory and
// recombines the aggregations of every group. The groups come out sorted by
// ORDER BY, or by GROUP BY when there is no ORDER BY.
type GroupByMemoryMergedResult struct {
	*MemoryResult
}

func NewGroupByMemoryMergedResult(results []QueryResult, st *stmt.Statement, sch *schema.Schema) (*GroupByMemoryMergedResult, error) {
	rows, err := groupRows(results, st, sch)
	if err != nil {
		return nil, closeOnError(err, results)
	}
	if err = closeAll(results); err != nil {
		util.Warn("close shard results after grouping", zap.Error(err))
	}
	return &GroupByMemoryMergedResult{
		MemoryResult: NewMemoryResult(labelsOf(results[0]), rows),
	}, nil
}

func groupRows(results []QueryResult, st *stmt.Statement, sch *schema.Schema) ([][]common.Value, error) {
	first := results[0]
	width := first.ColumnCount()
	groupItems, err := groupItemsOf(first, st)
	if err != nil {
		return nil, err
	}
	groupCase := caseSensitivities(first, groupItems, st, sch)
	for _, item := range st.Aggregations {
		if _, err = newAggregationUnit(item); err != nil {
			return nil, err
		}
	}

	newGroup := func(row []common.Value) *group {
		g := &group{row: row}
		for _, item := range st.Aggregations {
			unit, _ := newAggregationUnit(item)
			g.units = append(g.units, unit)
		}
		return g
	}

	groups := make(map[string]*group)
	var order []*group
	var sb strings.Builder
	for _, result := range results {
		for {
			ok, err := result.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			sb.Reset()
			for i, item := range groupItems {
				val, err := result.Value(item.Index)
				if err != nil {
					return nil, err
				}
				sb.WriteString(val.GroupKey(groupCase[i]))
				sb.WriteByte(0)
			}
			key := sb.String()
			g, has := groups[key]
			if !has {
				row := make([]common.Value, width)
				for i := range row {
					if row[i], err = result.Value(i); err != nil {
						return nil, err
					}
				}
				g = newGroup(row)
				groups[key] = g
				order = append(order, g)
			}
			for _, unit := range g.units {
				if err = unit.merge(result); err != nil {
					return nil, err
				}
			}
		}
	}

	// aggregations without GROUP BY always give one row
	if len(order) == 0 && len(st.GroupBy) == 0 && len(st.Aggregations) != 0 {
		row := make([]common.Value, width)
		for i := range row {
			row[i] = common.Null()
		}
		order = append(order, newGroup(row))
	}

	rows := make([][]common.Value, len(order))
	for i, g := range order {
		for j, item := range st.Aggregations {
			if g.row[item.Index], err = g.units[j].result(); err != nil {
				return nil, err
			}
		}
		rows[i] = g.row
	}

	sortItems, clause := groupItems, common.ClauseGroupBy
	if len(st.OrderBy) != 0 {
		if sortItems, err = resolveItems(st.OrderBy, first); err != nil {
			return nil, err
		}
		clause = common.ClauseOrderBy
	}
	if len(sortItems) != 0 && len(rows) > 1 {
		if err = sortRows(rows, sortItems, caseSensitivities(first, sortItems, st, sch), clause); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// groupItemsOf returns the GROUP BY items, or every client visible column
// for a plain SELECT DISTINCT.
func groupItemsOf(first QueryResult, st *stmt.Statement) ([]*stmt.OrderByItem, error) {
	if len(st.GroupBy) != 0 {
		return resolveItems(st.GroupBy, first)
	}
	if !st.Distinct || len(st.Aggregations) != 0 {
		return nil, nil
	}
	visible := first.ColumnCount() - st.DerivedColumnCount()
	ret := make([]*stmt.OrderByItem, 0, visible)
	for i := 0; i < visible; i++ {
		ret = append(ret, &stmt.OrderByItem{
			Kind:       stmt.OrderByIndex,
			Position:   i + 1,
			Index:      i,
			Direction:  common.Asc,
			NullsOrder: common.DefaultNullsOrder(common.Asc),
		})
	}
	return ret, nil
}

func sortRows(rows [][]common.Value, items []*stmt.OrderByItem, caseSensitive []bool, clause string) error {
	var cmpErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for k, item := range items {
			ret, err := common.Compare(rows[i][item.Index], rows[j][item.Index], item.Direction, item.NullsOrder, caseSensitive[k])
			if err != nil {
				if cmpErr == nil {
					cmpErr = common.InClause(clause, err)
				}
				return false
			}
			if ret != 0 {
				return ret < 0
			}
		}
		return false
	})
	return cmpErr
}
