package executor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pqLocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/merge"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

type shardRow struct {
	OrderID int64  `parquet:"name=order_id, type=INT64"`
	Status  string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeShard(t *testing.T, path string, rows ...shardRow) {
	fw, err := pqLocal.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(shardRow), 1)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, pw.Write(row))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}

func TestParquetResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard0.parquet")
	writeShard(t, path, shardRow{1, "paid"}, shardRow{4, "new"})

	res, err := OpenParquetResult(path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ColumnCount())
	assert.Equal(t, "order_id", res.ColumnLabel(0))
	assert.Equal(t, "status", res.ColumnLabel(1))

	var got [][]common.Value
	for {
		ok, err := res.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		id, err := res.Value(0)
		require.NoError(t, err)
		status, err := res.Value(1)
		require.NoError(t, err)
		got = append(got, []common.Value{id, status})
	}
	assert.Equal(t, [][]common.Value{
		{common.IntValue(1), common.StringValue("paid")},
		{common.IntValue(4), common.StringValue("new")},
	}, got)
	_, err = res.Value(0)
	assert.Error(t, err)
	assert.NoError(t, res.Close())
}

func TestMergeParquetShards(t *testing.T) {
	dir := t.TempDir()
	shards := [][]shardRow{
		{{1, "a"}, {5, "e"}},
		{{2, "b"}, {3, "c"}, {6, "f"}},
		{{4, "d"}},
	}
	var results []merge.QueryResult
	for i, rows := range shards {
		path := filepath.Join(dir, []string{"s0.parquet", "s1.parquet", "s2.parquet"}[i])
		writeShard(t, path, rows...)
		res, err := OpenParquetResult(path)
		require.NoError(t, err)
		results = append(results, res)
	}
	st := &stmt.Statement{
		Kind:        stmt.KindSelect,
		Projections: []*stmt.Projection{{Column: "order_id"}, {Column: "status"}},
		OrderBy: []*stmt.OrderByItem{{
			Kind:       stmt.OrderByColumn,
			Name:       "order_id",
			Direction:  common.Asc,
			NullsOrder: common.NullsLast,
			Index:      -1,
		}},
		Pagination: &stmt.LimitClause{Offset: stmt.Literal(1), RowCount: stmt.Literal(4)},
	}
	merged, err := merge.NewEngine(nil).Merge(results, st)
	require.NoError(t, err)
	defer merged.Close()

	var ids []int64
	for {
		ok, err := merged.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		v, err := merged.Value(0)
		require.NoError(t, err)
		ids = append(ids, v.I64)
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, ids)
}
