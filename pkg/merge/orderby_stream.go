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
	"github.com/liyue201/gostl/ds/priorityqueue"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// orderByQueue is the k-way merge of sorted shard cursors.
// The cursor of the queue head holds the current row.
type orderByQueue struct {
	results []QueryResult
	queue   *priorityqueue.PriorityQueue[*OrderByValue]
	current QueryResult
	started bool
	// first comparison failure seen by the queue
	cmpErr error
	err    error
}

func newOrderByQueue(results []QueryResult, items []*stmt.OrderByItem, st *stmt.Statement, sch *schema.Schema) (*orderByQueue, error) {
	q := &orderByQueue{results: results}
	q.reset()
	for _, result := range results {
		v := NewOrderByValue(result, items, st, sch)
		ok, err := v.Next()
		if err != nil {
			return nil, closeOnError(err, results)
		}
		if !ok {
			continue
		}
		q.queue.Push(v)
		if q.cmpErr != nil {
			return nil, closeOnError(q.cmpErr, results)
		}
	}
	return q, nil
}

func (q *orderByQueue) compare(a, b *OrderByValue) int {
	ret, err := a.CompareTo(b)
	if err != nil && q.cmpErr == nil {
		q.cmpErr = err
	}
	return ret
}

// next serves the queue head on the first call. Afterwards it advances the
// head and puts it back by its new key.
func (q *orderByQueue) next() (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	if q.queue.Empty() {
		q.current = nil
		return false, nil
	}
	if !q.started {
		q.started = true
		q.current = q.queue.Top().Result()
		return true, nil
	}
	head := q.queue.Pop()
	ok, err := head.Next()
	if err != nil {
		return false, q.fail(err)
	}
	if ok {
		q.queue.Push(head)
		if q.cmpErr != nil {
			return false, q.fail(q.cmpErr)
		}
	}
	if q.queue.Empty() {
		q.current = nil
		return false, nil
	}
	q.current = q.queue.Top().Result()
	return true, nil
}

func (q *orderByQueue) fail(err error) error {
	q.err = err
	q.current = nil
	q.reset()
	return closeOnError(err, q.results)
}

func (q *orderByQueue) reset() {
	q.queue = priorityqueue.New[*OrderByValue](q.compare)
}

func (q *orderByQueue) value(i int) (common.Value, error) {
	if q.current == nil {
		return common.Null(), errNoCurrentRow
	}
	return q.current.Value(i)
}

func (q *orderByQueue) close() error {
	q.current = nil
	q.reset()
	return closeAll(q.results)
}

// OrderByStreamMergedResult merges shard cursors that are sorted by the
// ORDER BY of the statement into one sorted cursor.
type OrderByStreamMergedResult struct {
	q       *orderByQueue
	results []QueryResult
}

func NewOrderByStreamMergedResult(results []QueryResult, st *stmt.Statement, sch *schema.Schema) (*OrderByStreamMergedResult, error) {
	items, err := resolveItems(st.OrderBy, results[0])
	if err != nil {
		return nil, closeOnError(err, results)
	}
	q, err := newOrderByQueue(results, items, st, sch)
	if err != nil {
		return nil, err
	}
	return &OrderByStreamMergedResult{q: q, results: results}, nil
}

func (s *OrderByStreamMergedResult) Next() (bool, error) {
	return s.q.next()
}

func (s *OrderByStreamMergedResult) Value(i int) (common.Value, error) {
	return s.q.value(i)
}

func (s *OrderByStreamMergedResult) ColumnCount() int {
	return s.results[0].ColumnCount()
}

func (s *OrderByStreamMergedResult) ColumnLabel(i int) string {
	return s.results[0].ColumnLabel(i)
}

func (s *OrderByStreamMergedResult) Close() error {
	return s.q.close()
}
