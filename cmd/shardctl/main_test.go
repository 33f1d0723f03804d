package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pqLocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

const testRule = `
dataSources: [ds_0, ds_1]
tables:
  t_order:
    actualDataNodes: ds_${0..1}.t_order_${0..1}
broadcastTables: [t_dict]
`

func TestExplain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRule), 0644))

	out, err := explain(path, "SELECT user_id, avg(price) FROM t_order GROUP BY user_id")
	require.NoError(t, err)
	assert.Contains(t, out, "Route:")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "t_order_1")
	assert.Contains(t, out, "AVG_DERIVED_SUM_0")

	out, err = explain(path, "SELECT * FROM t_order WHERE user_id = $1")
	require.NoError(t, err)
	assert.NotContains(t, out, "Rewrite:")

	_, err = explain(path, "SELEC")
	assert.Error(t, err)
}

type orderRow struct {
	OrderID int64  `parquet:"name=order_id, type=INT64"`
	Status  string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeFile(t *testing.T, path string, rows ...orderRow) {
	fw, err := pqLocal.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(orderRow), 1)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, pw.Write(row))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}

func TestMergeFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.parquet")
	b := filepath.Join(dir, "b.parquet")
	writeFile(t, a, orderRow{3, "y"}, orderRow{1, "x"})
	writeFile(t, b, orderRow{2, "z"})

	var sb strings.Builder
	err := mergeFiles("SELECT order_id, status FROM t_order ORDER BY order_id DESC LIMIT 2", []string{a, b}, &sb)
	require.NoError(t, err)
	assert.Equal(t, "order_id\tstatus\n3\ty\n2\tz\n", sb.String())

	err = mergeFiles("SELECT order_id FROM t_order", []string{a, filepath.Join(dir, "missing.parquet")}, &sb)
	assert.Error(t, err)
}
