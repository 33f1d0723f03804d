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
	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/pagination"
)

// LimitDecoratorMergedResult applies the pagination on the merged rows:
// it skips offset rows and then stops after row count rows.
type LimitDecoratorMergedResult struct {
	MergedResult
	offset      int64
	rowCount    int64
	hasRowCount bool
	skipped     bool
	emitted     int64
}

func NewLimitDecoratorMergedResult(merged MergedResult, paging *pagination.Context) *LimitDecoratorMergedResult {
	rowCount, has := paging.RowCount()
	return &LimitDecoratorMergedResult{
		MergedResult: merged,
		offset:       paging.ActualOffset(),
		rowCount:     rowCount,
		hasRowCount:  has,
	}
}

func (d *LimitDecoratorMergedResult) Next() (bool, error) {
	if !d.skipped {
		d.skipped = true
		for i := int64(0); i < d.offset; i++ {
			ok, err := d.MergedResult.Next()
			if err != nil || !ok {
				return false, err
			}
		}
	}
	if d.hasRowCount && d.emitted >= d.rowCount {
		return false, nil
	}
	ok, err := d.MergedResult.Next()
	if err != nil || !ok {
		return false, err
	}
	d.emitted++
	return true, nil
}

// visibleMergedResult hides the derived columns appended for the shards.
type visibleMergedResult struct {
	MergedResult
	count int
}

func hideDerived(merged MergedResult, derived int) MergedResult {
	if derived <= 0 {
		return merged
	}
	return &visibleMergedResult{MergedResult: merged, count: merged.ColumnCount() - derived}
}

func (v *visibleMergedResult) ColumnCount() int {
	return v.count
}

func (v *visibleMergedResult) Value(i int) (common.Value, error) {
	if i < 0 || i >= v.count {
		return common.Null(), columnOutOfRange(i, v.count)
	}
	return v.MergedResult.Value(i)
}
