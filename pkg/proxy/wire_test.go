package proxy

import (
	"database/sql"
	"fmt"
	"net"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve starts the proxy on a loopback port and returns a client of it.
func (tp *testProxy) serve(t *testing.T) *sql.DB {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = tp.server.Serve(listener)
	}()
	t.Cleanup(func() { _ = tp.server.Close() })

	port := listener.Addr().(*net.TCPAddr).Port
	db, err := sql.Open("postgres", fmt.Sprintf("host=127.0.0.1 port=%d user=shard dbname=shard sslmode=disable", port))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func expectOrders(tp *testProxy) {
	tp.mocks[0].ExpectQuery("FROM t_order_0").WillReturnRows(
		sqlmock.NewRows([]string{"order_id", "status"}).AddRow(int64(1), "a").AddRow(int64(3), "c"))
	tp.mocks[1].ExpectQuery("FROM t_order_1").WillReturnRows(
		sqlmock.NewRows([]string{"order_id", "status"}).AddRow(int64(2), "b"))
}

func scanOrders(t *testing.T, rows *sql.Rows) [][]string {
	t.Helper()
	defer rows.Close()
	var ret [][]string
	for rows.Next() {
		var id, status string
		require.NoError(t, rows.Scan(&id, &status))
		ret = append(ret, []string{id, status})
	}
	require.NoError(t, rows.Err())
	return ret
}

func TestWireSimpleQuery(t *testing.T) {
	tp := newTestProxy(t)
	db := tp.serve(t)
	expectOrders(tp)

	rows, err := db.Query("SELECT order_id, status FROM t_order ORDER BY order_id")
	require.NoError(t, err)
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "status"}, cols)
	assert.Equal(t, [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}}, scanOrders(t, rows))
	tp.verify(t)
}

func TestWirePreparedTwice(t *testing.T) {
	tp := newTestProxy(t)
	db := tp.serve(t)

	ps, err := db.Prepare("SELECT order_id, status FROM t_order ORDER BY order_id")
	require.NoError(t, err)
	defer ps.Close()
	// preparing runs nothing on the shards
	for _, mock := range tp.mocks {
		assert.Error(t, mock.ExpectationsWereMet())
	}

	for i := 0; i < 2; i++ {
		expectOrders(tp)
		rows, err := ps.Query()
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}}, scanOrders(t, rows), "execution %d", i)
	}
	tp.verify(t)
}

func TestWirePreparedUpdate(t *testing.T) {
	tp := newTestProxy(t)
	db := tp.serve(t)
	tp.mocks[0].ExpectExec("UPDATE t_order_0").WillReturnResult(sqlmock.NewResult(0, 1))
	tp.mocks[1].ExpectExec("UPDATE t_order_1").WillReturnResult(sqlmock.NewResult(0, 2))

	ps, err := db.Prepare("UPDATE t_order SET status = 'x'")
	require.NoError(t, err)
	defer ps.Close()
	for _, mock := range tp.mocks {
		assert.Error(t, mock.ExpectationsWereMet())
	}

	res, err := ps.Exec()
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	tp.verify(t)
}

func TestWireParameterizedQuery(t *testing.T) {
	tp := newTestProxy(t)
	db := tp.serve(t)
	expectOrders(tp)

	rows, err := db.Query("SELECT order_id, status FROM t_order ORDER BY order_id LIMIT $1 OFFSET $2", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2", "b"}, {"3", "c"}}, scanOrders(t, rows))
	tp.verify(t)
}
