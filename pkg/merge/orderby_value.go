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
	"fmt"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// OrderByValue binds a shard cursor to the sort key of its current row.
// It does not own the cursor.
type OrderByValue struct {
	result        QueryResult
	items         []*stmt.OrderByItem
	caseSensitive []bool
	clause        string
	values        []common.Value
}

// NewOrderByValue wraps the result. The items must have their Index resolved.
func NewOrderByValue(result QueryResult, items []*stmt.OrderByItem, st *stmt.Statement, sch *schema.Schema) *OrderByValue {
	return newOrderByValue(result, items, caseSensitivities(result, items, st, sch), common.ClauseOrderBy)
}

func newOrderByValue(result QueryResult, items []*stmt.OrderByItem, caseSensitive []bool, clause string) *OrderByValue {
	return &OrderByValue{
		result:        result,
		items:         items,
		caseSensitive: caseSensitive,
		clause:        clause,
	}
}

// Next advances the cursor and loads the key of the new row.
// The key is cleared once the cursor is exhausted.
func (v *OrderByValue) Next() (bool, error) {
	ok, err := v.result.Next()
	if err != nil || !ok {
		v.values = nil
		return false, err
	}
	values := make([]common.Value, len(v.items))
	for i, item := range v.items {
		values[i], err = v.result.Value(item.Index)
		if err != nil {
			v.values = nil
			return false, err
		}
	}
	v.values = values
	return true, nil
}

// CompareTo compares the keys item by item, the first difference wins.
func (v *OrderByValue) CompareTo(other *OrderByValue) (int, error) {
	for i, item := range v.items {
		ret, err := common.Compare(v.values[i], other.values[i], item.Direction, item.NullsOrder, v.caseSensitive[i])
		if err != nil {
			return 0, common.InClause(v.clause, err)
		}
		if ret != 0 {
			return ret, nil
		}
	}
	return 0, nil
}

func (v *OrderByValue) Result() QueryResult {
	return v.result
}

func (v *OrderByValue) Values() []common.Value {
	return v.values
}

// caseSensitivities resolves, per item, whether strings compare case sensitively.
// Column items take it from the first referenced table having the column.
// Index items look up the column name at that position first.
// Expressions are case sensitive.
func caseSensitivities(result QueryResult, items []*stmt.OrderByItem, st *stmt.Statement, sch *schema.Schema) []bool {
	ret := make([]bool, len(items))
	for i, item := range items {
		switch item.Kind {
		case stmt.OrderByColumn:
			ret[i] = sch.IsCaseSensitive(tablesOf(st, item.Owner), item.Name)
		case stmt.OrderByIndex:
			if item.Position < 1 || item.Position > result.ColumnCount() {
				ret[i] = true
				continue
			}
			ret[i] = sch.IsCaseSensitive(tablesOf(st, ""), result.ColumnLabel(item.Position-1))
		case stmt.OrderByExpression:
			ret[i] = true
		default:
			panic("usp")
		}
	}
	return ret
}

func tablesOf(st *stmt.Statement, owner string) []string {
	if st == nil {
		return nil
	}
	if owner != "" {
		if tab, has := st.TableOfAlias(owner); has {
			return []string{tab}
		}
	}
	return st.TableNames()
}

// resolveItems copies the items, filling the result column of the ones
// that are not resolved yet.
func resolveItems(items []*stmt.OrderByItem, result QueryResult) ([]*stmt.OrderByItem, error) {
	labels := labelsOf(result)
	ret := make([]*stmt.OrderByItem, len(items))
	for i, item := range items {
		cp := *item
		ret[i] = &cp
		if cp.Index >= 0 {
			if cp.Index >= len(labels) {
				return nil, fmt.Errorf("%s: %w", cp.String(), columnOutOfRange(cp.Index, len(labels)))
			}
			continue
		}
		switch cp.Kind {
		case stmt.OrderByIndex:
			if cp.Position < 1 || cp.Position > len(labels) {
				return nil, fmt.Errorf("%s: %w", cp.String(), columnOutOfRange(cp.Position-1, len(labels)))
			}
			cp.Index = cp.Position - 1
		case stmt.OrderByColumn, stmt.OrderByExpression:
			cp.Index = util.IndexFold(labels, cp.ColumnLabel())
			if cp.Index < 0 {
				return nil, fmt.Errorf("%s is not in the result columns", cp.String())
			}
		default:
			panic("usp")
		}
	}
	return ret, nil
}
