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
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// QueryResult is the cursor of one shard. Value reads the current row.
// Next may block on the network.
type QueryResult interface {
	Next() (bool, error)
	Value(i int) (common.Value, error)
	ColumnCount() int
	ColumnLabel(i int) string
	Close() error
}

// MergedResult is the logical cursor over all shards. It has the same
// shape as a shard cursor. Not safe for concurrent use.
type MergedResult interface {
	Next() (bool, error)
	Value(i int) (common.Value, error)
	ColumnCount() int
	ColumnLabel(i int) string
	Close() error
}

var errNoCurrentRow = errors.New("no current row")

func columnOutOfRange(i, count int) error {
	return fmt.Errorf("column index %d out of range [0,%d)", i, count)
}

func labelsOf(result QueryResult) []string {
	ret := make([]string, result.ColumnCount())
	for i := range ret {
		ret[i] = result.ColumnLabel(i)
	}
	return ret
}

func closeAll(results []QueryResult) error {
	var errs []error
	for _, r := range results {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeOnError releases the shards after a failure and returns err as is.
func closeOnError(err error, results []QueryResult) error {
	if cerr := closeAll(results); cerr != nil {
		util.Warn("close shard results after failure", zap.Error(cerr))
	}
	return err
}

// MemoryResult is a result whose rows are already in memory.
type MemoryResult struct {
	labels []string
	rows   [][]common.Value
	pos    int
}

func NewMemoryResult(labels []string, rows [][]common.Value) *MemoryResult {
	return &MemoryResult{labels: labels, rows: rows, pos: -1}
}

func (mr *MemoryResult) Next() (bool, error) {
	if mr.pos < len(mr.rows) {
		mr.pos++
	}
	return mr.pos < len(mr.rows), nil
}

func (mr *MemoryResult) Value(i int) (common.Value, error) {
	if mr.pos < 0 || mr.pos >= len(mr.rows) {
		return common.Null(), errNoCurrentRow
	}
	row := mr.rows[mr.pos]
	if i < 0 || i >= len(row) {
		return common.Null(), columnOutOfRange(i, len(row))
	}
	return row[i], nil
}

func (mr *MemoryResult) ColumnCount() int {
	return len(mr.labels)
}

func (mr *MemoryResult) ColumnLabel(i int) string {
	return mr.labels[i]
}

func (mr *MemoryResult) Close() error {
	mr.pos = len(mr.rows)
	return nil
}

// Rows returns the rows left after the current one.
func (mr *MemoryResult) Rows() int {
	left := len(mr.rows) - mr.pos - 1
	if left < 0 {
		return 0
	}
	return left
}

// IteratorStreamMergedResult drains the shards one after another.
type IteratorStreamMergedResult struct {
	results []QueryResult
	idx     int
}

func NewIteratorStreamMergedResult(results []QueryResult) *IteratorStreamMergedResult {
	return &IteratorStreamMergedResult{results: results}
}

func (it *IteratorStreamMergedResult) Next() (bool, error) {
	for it.idx < len(it.results) {
		ok, err := it.results[it.idx].Next()
		if err != nil {
			it.idx = len(it.results)
			return false, closeOnError(err, it.results)
		}
		if ok {
			return true, nil
		}
		it.idx++
	}
	return false, nil
}

func (it *IteratorStreamMergedResult) Value(i int) (common.Value, error) {
	if it.idx >= len(it.results) {
		return common.Null(), errNoCurrentRow
	}
	return it.results[it.idx].Value(i)
}

func (it *IteratorStreamMergedResult) ColumnCount() int {
	return it.results[0].ColumnCount()
}

func (it *IteratorStreamMergedResult) ColumnLabel(i int) string {
	return it.results[0].ColumnLabel(i)
}

func (it *IteratorStreamMergedResult) Close() error {
	it.idx = len(it.results)
	return closeAll(it.results)
}
