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

package executor

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/daviszhen/shardmerge/pkg/common"
)

var errNoRow = errors.New("no current row")

func errColumn(i, n int) error {
	return fmt.Errorf("column %d out of range [0,%d)", i, n)
}

var decimalTypes = map[string]bool{
	"NUMERIC": true,
	"DECIMAL": true,
}

// RowsResult is a shard cursor over *sql.Rows.
type RowsResult struct {
	rows    *sql.Rows
	labels  []string
	decimal []bool
	values  []common.Value
	dest    []any
	valid   bool
}

func NewRowsResult(rows *sql.Rows) (*RowsResult, error) {
	labels, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &RowsResult{
		rows:    rows,
		labels:  labels,
		decimal: make([]bool, len(labels)),
		values:  make([]common.Value, len(labels)),
		dest:    make([]any, len(labels)),
	}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, typ := range types {
			if i < len(res.decimal) {
				res.decimal[i] = decimalTypes[strings.ToUpper(typ.DatabaseTypeName())]
			}
		}
	}
	for i := range res.dest {
		res.dest[i] = new(any)
	}
	return res, nil
}

func (r *RowsResult) Next() (bool, error) {
	r.valid = false
	if !r.rows.Next() {
		return false, r.rows.Err()
	}
	if err := r.rows.Scan(r.dest...); err != nil {
		return false, err
	}
	for i, d := range r.dest {
		raw := *(d.(*any))
		if r.decimal[i] {
			switch x := raw.(type) {
			case []byte:
				val, err := common.ParseDecimalValue(string(x))
				if err != nil {
					return false, err
				}
				r.values[i] = val
				continue
			case string:
				val, err := common.ParseDecimalValue(x)
				if err != nil {
					return false, err
				}
				r.values[i] = val
				continue
			}
		}
		// FromAny copies byte slices, the driver reuses them
		r.values[i] = common.FromAny(raw)
	}
	r.valid = true
	return true, nil
}

func (r *RowsResult) Value(i int) (common.Value, error) {
	if !r.valid {
		return common.Null(), errNoRow
	}
	if i < 0 || i >= len(r.values) {
		return common.Null(), errColumn(i, len(r.values))
	}
	return r.values[i], nil
}

func (r *RowsResult) ColumnCount() int {
	return len(r.labels)
}

func (r *RowsResult) ColumnLabel(i int) string {
	return r.labels[i]
}

func (r *RowsResult) Close() error {
	r.valid = false
	return r.rows.Close()
}
