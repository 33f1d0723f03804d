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
	"io"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// CursorStateStore keeps the state of the open cursors of a session.
type CursorStateStore interface {
	Load(name string) (io.Closer, bool)
	Store(name string, state io.Closer) error
}

// FetchState is the merge state of one open cursor. It lives across FETCH
// statements until the cursor is closed.
type FetchState struct {
	name   string
	merged MergedResult
	// exhausted is set once the merged rows ran out
	exhausted bool
}

func (fs *FetchState) Name() string {
	return fs.name
}

func (fs *FetchState) Close() error {
	fs.exhausted = true
	return fs.merged.Close()
}

// FetchOrderByMergedResult serves one FETCH from the state of its cursor.
// FETCH ALL returns every remaining row. FETCH FORWARD n stops after n rows
// and leaves the rest for the next FETCH.
type FetchOrderByMergedResult struct {
	state     *FetchState
	all       bool
	remaining int64
	current   bool
}

func NewFetchOrderByMergedResult(store CursorStateStore, spec *stmt.CursorSpec) (*FetchOrderByMergedResult, error) {
	raw, has := store.Load(spec.Name)
	if !has {
		return nil, fmt.Errorf("cursor %q: %w", spec.Name, common.ErrCursorNotFound)
	}
	state, ok := raw.(*FetchState)
	if !ok {
		return nil, fmt.Errorf("cursor %q holds %T", spec.Name, raw)
	}
	ret := &FetchOrderByMergedResult{state: state}
	switch spec.Direction {
	case stmt.FetchAll:
		ret.all = true
	case stmt.FetchForward:
		ret.remaining = spec.Count
	default:
		return nil, fmt.Errorf("FETCH %s: %w", spec.Direction, common.ErrUnsupportedFetch)
	}
	return ret, nil
}

func (f *FetchOrderByMergedResult) Next() (bool, error) {
	f.current = false
	if f.state.exhausted {
		return false, nil
	}
	if !f.all && f.remaining <= 0 {
		return false, nil
	}
	ok, err := f.state.merged.Next()
	if err != nil {
		f.state.exhausted = true
		return false, err
	}
	if !ok {
		f.state.exhausted = true
		return false, nil
	}
	if !f.all {
		f.remaining--
	}
	f.current = true
	return true, nil
}

func (f *FetchOrderByMergedResult) Value(i int) (common.Value, error) {
	if !f.current {
		return common.Null(), errNoCurrentRow
	}
	return f.state.merged.Value(i)
}

func (f *FetchOrderByMergedResult) ColumnCount() int {
	return f.state.merged.ColumnCount()
}

func (f *FetchOrderByMergedResult) ColumnLabel(i int) string {
	return f.state.merged.ColumnLabel(i)
}

// Close ends this FETCH only. The cursor stays open.
func (f *FetchOrderByMergedResult) Close() error {
	f.current = false
	return nil
}
