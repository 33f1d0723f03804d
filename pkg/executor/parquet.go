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
	"errors"
	"fmt"
	"io"
	"strings"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/daviszhen/shardmerge/pkg/common"
)

// ParquetResult is a shard cursor over an exported shard result file.
// Columns are read whole on open; labels are lower case.
type ParquetResult struct {
	path    string
	labels  []string
	columns [][]any
	rows    int
	pos     int
}

func OpenParquetResult(path string) (*ParquetResult, error) {
	file, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	res, err := readParquet(path, file)
	return res, errors.Join(err, file.Close())
}

func readParquet(path string, file source.ParquetFile) (*ParquetResult, error) {
	reader, err := pqReader.NewParquetColumnReader(file, 1)
	if err != nil {
		return nil, err
	}
	defer reader.ReadStop()

	res := &ParquetResult{path: path, pos: -1}
	for _, elem := range reader.Footer.Schema[1:] {
		if elem.GetNumChildren() != 0 {
			return nil, fmt.Errorf("%s: nested column %s", path, elem.GetName())
		}
		res.labels = append(res.labels, strings.ToLower(elem.GetName()))
	}
	num := reader.GetNumRows()
	res.rows = int(num)
	for idx := range res.labels {
		values, _, _, err := reader.ReadColumnByIndex(int64(idx), num)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(values) != res.rows {
			return nil, fmt.Errorf("column %s has %d values, expect %d", res.labels[idx], len(values), res.rows)
		}
		res.columns = append(res.columns, values)
	}
	return res, nil
}

func (r *ParquetResult) Next() (bool, error) {
	if r.pos >= r.rows {
		return false, nil
	}
	r.pos++
	return r.pos < r.rows, nil
}

func (r *ParquetResult) Value(i int) (common.Value, error) {
	if r.pos < 0 || r.pos >= r.rows {
		return common.Null(), errNoRow
	}
	if i < 0 || i >= len(r.columns) {
		return common.Null(), errColumn(i, len(r.columns))
	}
	return common.FromAny(r.columns[i][r.pos]), nil
}

func (r *ParquetResult) ColumnCount() int {
	return len(r.labels)
}

func (r *ParquetResult) ColumnLabel(i int) string {
	return r.labels[i]
}

func (r *ParquetResult) Close() error {
	r.pos = r.rows
	return nil
}

func (r *ParquetResult) String() string {
	return r.path
}
