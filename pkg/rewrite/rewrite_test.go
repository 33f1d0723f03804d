package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

func unitOf(ds string, tables ...string) *route.RouteUnit {
	var mappers []route.RouteMapper
	for i := 0; i+1 < len(tables); i += 2 {
		mappers = append(mappers, route.RouteMapper{LogicName: tables[i], ActualName: tables[i+1]})
	}
	return route.NewRouteUnit(route.RouteMapper{LogicName: ds, ActualName: ds}, mappers)
}

func fanOut() *route.RouteContext {
	return route.NewRouteContext(route.EngineStandard,
		unitOf("ds_0", "t_order", "t_order_0"),
		unitOf("ds_1", "t_order", "t_order_1"))
}

func rewriteOf(t *testing.T, sql string, rc *route.RouteContext, params ...any) *Result {
	q, err := parser.Parse(sql)
	require.NoError(t, err)
	q.Bind(params)
	ret, err := Rewrite(q, rc)
	require.NoError(t, err)
	require.Len(t, ret.Units, rc.Len())
	return ret
}

// reparse binds the generated SQL of a unit.
func reparse(t *testing.T, eu ExecutionUnit) *stmt.Statement {
	q, err := parser.Parse(eu.SQL)
	require.NoError(t, err, eu.SQL)
	return q.Statement
}

func TestRewriteAvg(t *testing.T) {
	q, err := parser.Parse("SELECT user_id, avg(price) FROM t_order GROUP BY user_id ORDER BY user_id LIMIT 10 OFFSET 5")
	require.NoError(t, err)
	ret, err := Rewrite(q, fanOut())
	require.NoError(t, err)

	st := ret.Statement
	assert.Equal(t, 2, st.DerivedColumnCount())
	count, sum, ok := st.Aggregations[0].DerivedPair()
	require.True(t, ok)
	assert.Equal(t, 2, count.Index)
	assert.Equal(t, 3, sum.Index)
	assert.Equal(t, "AVG_DERIVED_COUNT_0", count.Alias)
	assert.Equal(t, "AVG_DERIVED_SUM_0", sum.Alias)
	assert.Equal(t, "price", sum.Expression)

	for i, eu := range ret.Units {
		shard := reparse(t, eu)
		assert.Equal(t, []stmt.TableRef{{Name: []string{"t_order_0", "t_order_1"}[i], Alias: "t_order"}}, shard.Tables)
		require.Len(t, shard.Projections, 4)
		assert.Equal(t, "AVG_DERIVED_COUNT_0", shard.Projections[2].Alias)
		assert.Equal(t, "AVG_DERIVED_SUM_0", shard.Projections[3].Alias)
		require.Len(t, shard.Aggregations, 3)
		assert.Equal(t, stmt.AggAvg, shard.Aggregations[0].Type)
		assert.Equal(t, stmt.AggCount, shard.Aggregations[1].Type)
		assert.Equal(t, stmt.AggSum, shard.Aggregations[2].Type)
		// grouped rows are paged after the merge only
		assert.False(t, shard.HasPagination(), eu.SQL)
	}

	// the parsed query stays as the client wrote it
	assert.Len(t, q.Statement.Projections, 2)
	assert.Nil(t, q.Statement.Aggregations[0].Derived)
	assert.Len(t, q.SelectNode().TargetList, 2)
	assert.IsType(t, &stmt.LimitClause{}, st.Pagination)
}

func TestRewritePagination(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		params []any
		want   stmt.PaginationClause
	}{
		{
			name: "limit offset",
			sql:  "SELECT order_id FROM t_order ORDER BY order_id LIMIT 10 OFFSET 5",
			want: &stmt.LimitClause{RowCount: stmt.Literal(15)},
		},
		{
			name:   "params",
			sql:    "SELECT order_id FROM t_order ORDER BY order_id LIMIT $1 OFFSET $2",
			params: []any{int64(10), int64(5)},
			want:   &stmt.LimitClause{RowCount: stmt.Literal(15)},
		},
		{
			name: "limit only",
			sql:  "SELECT order_id FROM t_order LIMIT 3",
			want: &stmt.LimitClause{RowCount: stmt.Literal(3)},
		},
		{
			name: "offset only",
			sql:  "SELECT order_id FROM t_order OFFSET 3",
			want: stmt.NoPagination{},
		},
		{
			name: "aggregation",
			sql:  "SELECT count(*) FROM t_order LIMIT 1",
			want: stmt.NoPagination{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := rewriteOf(t, tt.sql, fanOut(), tt.params...)
			for _, eu := range ret.Units {
				assert.Equal(t, tt.want, reparse(t, eu).Pagination, eu.SQL)
			}
		})
	}
}

func TestRewriteSingleUnitKeepsStatement(t *testing.T) {
	rc := route.NewRouteContext(route.EngineUnicast, unitOf("ds_0", "t_order", "t_order_0"))
	ret := rewriteOf(t, "SELECT user_id, avg(price) FROM t_order GROUP BY user_id ORDER BY order_id LIMIT 10 OFFSET 5", rc)
	assert.Equal(t, 0, ret.Statement.DerivedColumnCount())
	shard := reparse(t, ret.Units[0])
	assert.Len(t, shard.Projections, 2)
	assert.Equal(t, &stmt.LimitClause{Offset: stmt.Literal(5), RowCount: stmt.Literal(10)}, shard.Pagination)
	assert.Equal(t, "ds_0", ret.Units[0].DataSourceName())
}

func TestRewriteOrderItems(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		derived int
		alias   string
		index   int
	}{
		{"projected", "SELECT user_id, order_id FROM t_order ORDER BY order_id", 0, "", 1},
		{"not projected", "SELECT user_id FROM t_order ORDER BY order_id DESC", 1, "ORDER_BY_DERIVED_0", 1},
		{"star column", "SELECT * FROM t_order ORDER BY order_id", 0, "", -1},
		{"star expression", "SELECT * FROM t_order ORDER BY price * 2", 1, "ORDER_BY_DERIVED_0", -1},
		{"shared with group by", "SELECT count(*) FROM t_order GROUP BY user_id ORDER BY user_id", 1, "GROUP_BY_DERIVED_0", 1},
		{"index", "SELECT user_id, order_id FROM t_order ORDER BY 2", 0, "", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := rewriteOf(t, tt.sql, fanOut())
			st := ret.Statement
			assert.Equal(t, tt.derived, st.DerivedColumnCount())
			require.Len(t, st.OrderBy, 1)
			assert.Equal(t, tt.alias, st.OrderBy[0].Alias)
			assert.Equal(t, tt.index, st.OrderBy[0].Index)
			shard := reparse(t, ret.Units[0])
			assert.Equal(t, len(st.Projections), len(shard.Projections))
		})
	}
}

func TestRewriteOrderByAggregation(t *testing.T) {
	ret := rewriteOf(t, "SELECT user_id FROM t_order GROUP BY user_id ORDER BY avg(price) DESC", fanOut())
	st := ret.Statement
	require.Len(t, st.Aggregations, 1)
	agg := st.Aggregations[0]
	assert.Equal(t, stmt.AggAvg, agg.Type)
	assert.Equal(t, 1, agg.Index)
	assert.Equal(t, 1, st.OrderBy[0].Index)
	count, sum, ok := agg.DerivedPair()
	require.True(t, ok)
	assert.Equal(t, 2, count.Index)
	assert.Equal(t, 3, sum.Index)
	assert.Equal(t, 3, st.DerivedColumnCount())

	_, err := Rewrite(mustParse(t, "SELECT * FROM t_order GROUP BY order_id ORDER BY count(*)"), fanOut())
	assert.ErrorIs(t, err, parser.ErrStarAggr)
}

func mustParse(t *testing.T, sql string) *parser.Query {
	q, err := parser.Parse(sql)
	require.NoError(t, err)
	return q
}

func TestInlineParams(t *testing.T) {
	rc := route.NewRouteContext(route.EngineUnicast, unitOf("ds_0", "t_order", "t_order_0"))
	ret := rewriteOf(t, "SELECT order_id FROM t_order WHERE user_id = $1 AND status = $2 AND price > $3 AND paid = $4 AND note = $5",
		rc, int64(7), "paid", 1.5, true, nil)
	sql := ret.Units[0].SQL
	assert.NotContains(t, sql, "$")
	assert.Contains(t, sql, "'paid'")
	assert.Contains(t, sql, "1.5")
	assert.Contains(t, sql, "true")
	assert.Contains(t, sql, "NULL")

	q := mustParse(t, "SELECT order_id FROM t_order WHERE user_id = $2")
	q.Bind([]any{int64(1)})
	_, err := Rewrite(q, rc)
	assert.Error(t, err)
}

func TestRenameTables(t *testing.T) {
	unit := unitOf("ds_1", "t_order", "t_order_1", "t_user", "t_user")
	rc := route.NewRouteContext(route.EngineStandard, unit)
	tests := []struct {
		sql  string
		want []stmt.TableRef
	}{
		{"SELECT o.order_id FROM t_order o JOIN t_user u ON o.user_id = u.user_id", []stmt.TableRef{{Name: "t_order_1", Alias: "o"}, {Name: "t_user", Alias: "u"}}},
		{"SELECT t_order.order_id FROM t_order", []stmt.TableRef{{Name: "t_order_1", Alias: "t_order"}}},
		{"UPDATE t_order SET status = 'x' WHERE order_id = 1", []stmt.TableRef{{Name: "t_order_1", Alias: "t_order"}}},
		{"DELETE FROM t_order WHERE order_id = 1", []stmt.TableRef{{Name: "t_order_1", Alias: "t_order"}}},
		{"CREATE TABLE t_order (order_id int)", []stmt.TableRef{{Name: "t_order_1"}}},
		{"SELECT * FROM t_dict", []stmt.TableRef{{Name: "t_dict"}}},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			ret := rewriteOf(t, tt.sql, rc)
			assert.Equal(t, tt.want, reparse(t, ret.Units[0]).Tables)
		})
	}
}

func TestRewriteDeclareCursor(t *testing.T) {
	ret := rewriteOf(t, "DECLARE c1 CURSOR FOR SELECT user_id FROM t_order ORDER BY order_id", fanOut())
	assert.Equal(t, stmt.KindDeclareCursor, ret.Statement.Kind)
	assert.Equal(t, 1, ret.Statement.DerivedColumnCount())
	for _, eu := range ret.Units {
		shard := reparse(t, eu)
		assert.Equal(t, stmt.KindSelect, shard.Kind)
		assert.Len(t, shard.Projections, 2)
	}
	assert.Contains(t, ret.String(), "Rewrite:")
	assert.Contains(t, ret.String(), "ds_1")
}
