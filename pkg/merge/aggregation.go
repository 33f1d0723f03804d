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

	"github.com/govalues/decimal"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// aggregationUnit recombines one aggregation over the rows of a group.
type aggregationUnit interface {
	merge(row QueryResult) error
	result() (common.Value, error)
}

func newAggregationUnit(item *stmt.AggregationItem) (aggregationUnit, error) {
	if item.Distinct && item.Type != stmt.AggMin && item.Type != stmt.AggMax {
		return nil, fmt.Errorf("%s can not be recombined across shards", item.Text())
	}
	switch item.Type {
	case stmt.AggCount:
		return &countUnit{index: item.Index, sum: decimal.Zero}, nil
	case stmt.AggSum:
		return &sumUnit{index: item.Index, sum: decimal.Zero, allInt: true}, nil
	case stmt.AggAvg:
		count, sum, ok := item.DerivedPair()
		if !ok {
			return nil, fmt.Errorf("%s: %w", item.Text(), common.ErrAggregateInvariant)
		}
		return &avgUnit{countIndex: count.Index, sumIndex: sum.Index, count: decimal.Zero, sum: decimal.Zero}, nil
	case stmt.AggMin:
		return &extremeUnit{index: item.Index, want: -1}, nil
	case stmt.AggMax:
		return &extremeUnit{index: item.Index, want: 1}, nil
	default:
		panic("usp")
	}
}

func addTo(acc decimal.Decimal, val common.Value) (decimal.Decimal, error) {
	d, err := val.ToDecimal()
	if err != nil {
		return acc, err
	}
	return acc.Add(d)
}

func intOrDecimal(d decimal.Decimal) common.Value {
	whole, frac, ok := d.Int64(0)
	if ok && frac == 0 {
		return common.IntValue(whole)
	}
	return common.DecimalValue(d)
}

type countUnit struct {
	index int
	sum   decimal.Decimal
}

func (u *countUnit) merge(row QueryResult) error {
	val, err := row.Value(u.index)
	if err != nil || val.IsNull() {
		return err
	}
	u.sum, err = addTo(u.sum, val)
	return err
}

func (u *countUnit) result() (common.Value, error) {
	return intOrDecimal(u.sum), nil
}

type sumUnit struct {
	index int
	seen  bool
	// allInt keeps integer sums integral
	allInt   bool
	floating bool
	sum      decimal.Decimal
	fsum     float64
}

func (u *sumUnit) merge(row QueryResult) error {
	val, err := row.Value(u.index)
	if err != nil || val.IsNull() {
		return err
	}
	u.seen = true
	if val.Kind != common.KindInt {
		u.allInt = false
	}
	if val.Kind == common.KindFloat && !u.floating {
		u.floating = true
		u.fsum, _ = u.sum.Float64()
	}
	if u.floating {
		f, err := val.ToFloat()
		if err != nil {
			return err
		}
		u.fsum += f
		return nil
	}
	u.sum, err = addTo(u.sum, val)
	return err
}

func (u *sumUnit) result() (common.Value, error) {
	switch {
	case !u.seen:
		return common.Null(), nil
	case u.floating:
		return common.FloatValue(u.fsum), nil
	case u.allInt:
		return intOrDecimal(u.sum), nil
	default:
		return common.DecimalValue(u.sum), nil
	}
}

// avgUnit recombines AVG as the sum of SUMs over the sum of COUNTs.
type avgUnit struct {
	countIndex int
	sumIndex   int
	count      decimal.Decimal
	sum        decimal.Decimal
}

func (u *avgUnit) merge(row QueryResult) error {
	cnt, err := row.Value(u.countIndex)
	if err != nil {
		return err
	}
	sum, err := row.Value(u.sumIndex)
	if err != nil {
		return err
	}
	if !cnt.IsNull() {
		if u.count, err = addTo(u.count, cnt); err != nil {
			return err
		}
	}
	if !sum.IsNull() {
		if u.sum, err = addTo(u.sum, sum); err != nil {
			return err
		}
	}
	return nil
}

func (u *avgUnit) result() (common.Value, error) {
	if u.count.IsZero() {
		return common.Null(), nil
	}
	avg, err := u.sum.Quo(u.count)
	if err != nil {
		return common.Null(), err
	}
	return common.DecimalValue(avg.Trim(0)), nil
}

// extremeUnit keeps the smallest (want -1) or largest (want 1) value.
type extremeUnit struct {
	index int
	want  int
	cur   common.Value
}

func (u *extremeUnit) merge(row QueryResult) error {
	val, err := row.Value(u.index)
	if err != nil || val.IsNull() {
		return err
	}
	if u.cur.Kind == common.KindNull {
		u.cur = val
		return nil
	}
	ret, err := common.NaturalCompare(val, u.cur)
	if err != nil {
		return err
	}
	if ret == u.want {
		u.cur = val
	}
	return nil
}

func (u *extremeUnit) result() (common.Value, error) {
	return u.cur, nil
}

// RecombineAvg computes AVG from per shard (count, sum) pairs.
// A zero total count gives NULL.
func RecombineAvg(counts, sums []common.Value) (common.Value, error) {
	if len(counts) != len(sums) {
		return common.Null(), common.ErrAggregateInvariant
	}
	u := &avgUnit{countIndex: 0, sumIndex: 1, count: decimal.Zero, sum: decimal.Zero}
	for i := range counts {
		row := NewMemoryResult([]string{"count", "sum"}, [][]common.Value{{counts[i], sums[i]}})
		if _, err := row.Next(); err != nil {
			return common.Null(), err
		}
		if err := u.merge(row); err != nil {
			return common.Null(), err
		}
	}
	return u.result()
}
