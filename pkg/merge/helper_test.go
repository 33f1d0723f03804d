package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// trackedResult counts Close calls and can fail after some rows.
type trackedResult struct {
	*MemoryResult
	closed  int
	failAt  int
	failErr error
	calls   int
}

func newTracked(labels []string, rows ...[]common.Value) *trackedResult {
	return &trackedResult{MemoryResult: NewMemoryResult(labels, rows), failAt: -1}
}

func (r *trackedResult) Next() (bool, error) {
	if r.failAt >= 0 && r.calls == r.failAt {
		return false, r.failErr
	}
	r.calls++
	return r.MemoryResult.Next()
}

func (r *trackedResult) Close() error {
	r.closed++
	return r.MemoryResult.Close()
}

var errShard = errors.New("shard connection reset")

func row(values ...any) []common.Value {
	ret := make([]common.Value, len(values))
	for i, v := range values {
		ret[i] = common.FromAny(v)
	}
	return ret
}

func orderByColumn(name string, index int, dir common.Direction) *stmt.OrderByItem {
	return &stmt.OrderByItem{
		Kind:       stmt.OrderByColumn,
		Name:       name,
		Index:      index,
		Direction:  dir,
		NullsOrder: common.DefaultNullsOrder(dir),
	}
}

func drain(t *testing.T, merged MergedResult) [][]any {
	var ret [][]any
	for {
		ok, err := merged.Next()
		require.NoError(t, err)
		if !ok {
			return ret
		}
		line := make([]any, merged.ColumnCount())
		for i := range line {
			val, err := merged.Value(i)
			require.NoError(t, err)
			line[i] = val.Native()
		}
		ret = append(ret, line)
	}
}
