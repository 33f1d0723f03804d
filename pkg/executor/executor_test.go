package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/rewrite"
	"github.com/daviszhen/shardmerge/pkg/route"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func unitsOf(sqls ...string) []rewrite.ExecutionUnit {
	var units []rewrite.ExecutionUnit
	for i, sql := range sqls {
		ds := []string{"ds_0", "ds_1", "ds_2"}[i]
		units = append(units, rewrite.ExecutionUnit{
			Unit: route.NewRouteUnit(route.RouteMapper{LogicName: ds, ActualName: ds}, nil),
			SQL:  sql,
		})
	}
	return units
}

func TestQuery(t *testing.T) {
	db0, mock0 := newMockDB(t)
	db1, mock1 := newMockDB(t)
	mock0.ExpectQuery("SELECT order_id, price FROM t_order_0").WillReturnRows(
		sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("order_id").OfType("INT8", int64(0)),
			sqlmock.NewColumn("price").OfType("NUMERIC", []byte{})).
			AddRow(int64(1), []byte("10.50")).
			AddRow(int64(3), nil))
	mock1.ExpectQuery("SELECT order_id, price FROM t_order_1").WillReturnRows(
		sqlmock.NewRows([]string{"order_id", "price"}).AddRow(int64(2), "7"))

	e := New(map[string]*sql.DB{"ds_0": db0, "ds_1": db1}, 1)
	results, err := e.Query(context.Background(), unitsOf(
		"SELECT order_id, price FROM t_order_0",
		"SELECT order_id, price FROM t_order_1"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, 2, first.ColumnCount())
	assert.Equal(t, "price", first.ColumnLabel(1))
	_, err = first.Value(0)
	assert.Error(t, err)

	ok, err := first.Next()
	require.NoError(t, err)
	require.True(t, ok)
	id, err := first.Value(0)
	require.NoError(t, err)
	assert.Equal(t, common.IntValue(1), id)
	price, err := first.Value(1)
	require.NoError(t, err)
	assert.Equal(t, common.KindDecimal, price.Kind)
	assert.Equal(t, "10.50", price.String())
	_, err = first.Value(2)
	assert.Error(t, err)

	ok, err = first.Next()
	require.NoError(t, err)
	require.True(t, ok)
	price, err = first.Value(1)
	require.NoError(t, err)
	assert.True(t, price.IsNull())

	ok, err = first.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	second := results[1]
	ok, err = second.Next()
	require.NoError(t, err)
	require.True(t, ok)
	price, err = second.Value(1)
	require.NoError(t, err)
	assert.Equal(t, common.StringValue("7"), price)

	for _, res := range results {
		assert.NoError(t, res.Close())
	}
	assert.NoError(t, mock0.ExpectationsWereMet())
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestQueryShardFailure(t *testing.T) {
	db0, mock0 := newMockDB(t)
	db1, mock1 := newMockDB(t)
	shardErr := errors.New("connection reset")
	mock0.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(int64(1)))
	mock1.ExpectQuery("SELECT 1").WillReturnError(shardErr)

	e := New(map[string]*sql.DB{"ds_0": db0, "ds_1": db1}, 0)
	results, err := e.Query(context.Background(), unitsOf("SELECT 1", "SELECT 1"))
	assert.ErrorIs(t, err, shardErr)
	assert.Nil(t, results)
}

func TestQueryUnknownDataSource(t *testing.T) {
	db0, _ := newMockDB(t)
	e := New(map[string]*sql.DB{"ds_0": db0}, 0)
	units := unitsOf("SELECT 1", "SELECT 1")
	_, err := e.Query(context.Background(), units[1:])
	assert.ErrorContains(t, err, "ds_1")
}

func TestExec(t *testing.T) {
	db0, mock0 := newMockDB(t)
	db1, mock1 := newMockDB(t)
	mock0.ExpectExec("DELETE FROM t_order_0 t_order").WillReturnResult(sqlmock.NewResult(0, 2))
	mock1.ExpectExec("DELETE FROM t_order_1 t_order").WillReturnResult(sqlmock.NewResult(0, 3))

	e := New(map[string]*sql.DB{"ds_0": db0, "ds_1": db1}, 2)
	n, err := e.Exec(context.Background(), unitsOf("DELETE FROM t_order_0 t_order", "DELETE FROM t_order_1 t_order"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock0.ExpectationsWereMet())
	assert.NoError(t, mock1.ExpectationsWereMet())

	db, has := e.DB("ds_0")
	assert.True(t, has)
	assert.Same(t, db0, db)
}
