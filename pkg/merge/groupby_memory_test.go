package merge

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// avgStatement is SELECT AVG(price) with the derived COUNT and SUM at columns 1 and 2.
func avgStatement() *stmt.Statement {
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "price", Alias: "AVG_DERIVED_COUNT_0", Index: 1}
	sum := &stmt.AggregationItem{Type: stmt.AggSum, Expression: "price", Alias: "AVG_DERIVED_SUM_0", Index: 2}
	avg := &stmt.AggregationItem{Type: stmt.AggAvg, Expression: "price", Index: 0, Derived: []*stmt.AggregationItem{count, sum}}
	return &stmt.Statement{
		Kind:         stmt.KindSelect,
		Aggregations: []*stmt.AggregationItem{avg},
		Projections: []*stmt.Projection{
			{Text: "AVG(price)", Aggregation: avg},
			{Text: "COUNT(price)", Alias: count.Alias, Aggregation: count, Derived: true},
			{Text: "SUM(price)", Alias: sum.Alias, Aggregation: sum, Derived: true},
		},
	}
}

func TestAvgRecombination(t *testing.T) {
	labels := []string{"avg", "c0", "s0"}
	results := []QueryResult{
		newTracked(labels, row(5, 2, 10)),
		newTracked(labels, row(6.67, 3, 20)),
	}
	merged, err := NewEngine(nil).Merge(results, avgStatement())
	require.NoError(t, err)
	assert.Equal(t, 1, merged.ColumnCount())
	assert.Equal(t, [][]any{{"6"}}, drain(t, merged))
	for _, r := range results {
		assert.Equal(t, 1, r.(*trackedResult).closed)
	}
}

func TestAvgRecombinationProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + rnd.Intn(5)
		counts := make([]common.Value, n)
		sums := make([]common.Value, n)
		var totalCount, totalSum int64
		for i := 0; i < n; i++ {
			c := int64(rnd.Intn(4))
			s := int64(rnd.Intn(1000)) * c
			if round%5 == 0 {
				c, s = 0, 0
			}
			counts[i], sums[i] = common.IntValue(c), common.IntValue(s)
			if c == 0 && rnd.Intn(2) == 0 {
				sums[i] = common.Null()
			}
			totalCount += c
			totalSum += s
		}
		got, err := RecombineAvg(counts, sums)
		require.NoError(t, err)
		if totalCount == 0 {
			assert.True(t, got.IsNull())
			continue
		}
		want, err := decimal.New(totalSum, 0)
		require.NoError(t, err)
		div, err := decimal.New(totalCount, 0)
		require.NoError(t, err)
		want, err = want.Quo(div)
		require.NoError(t, err)
		assert.Equal(t, want.Trim(0).String(), got.String())
	}
	_, err := RecombineAvg([]common.Value{common.IntValue(1)}, nil)
	assert.ErrorIs(t, err, common.ErrAggregateInvariant)
}

func TestAvgZeroCountIsNull(t *testing.T) {
	labels := []string{"avg", "c0", "s0"}
	results := []QueryResult{
		NewMemoryResult(labels, [][]common.Value{{common.Null(), common.IntValue(0), common.Null()}}),
		NewMemoryResult(labels, [][]common.Value{{common.Null(), common.IntValue(0), common.Null()}}),
	}
	merged, err := NewEngine(nil).Merge(results, avgStatement())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{nil}}, drain(t, merged))
}

func TestAvgWithoutDerivedItems(t *testing.T) {
	st := avgStatement()
	st.Aggregations[0].Derived = nil
	results := []QueryResult{
		newTracked([]string{"avg"}, row(1)),
		newTracked([]string{"avg"}, row(2)),
	}
	_, err := NewGroupByMemoryMergedResult(results, st, nil)
	assert.ErrorIs(t, err, common.ErrAggregateInvariant)
	for _, r := range results {
		assert.Equal(t, 1, r.(*trackedResult).closed)
	}
}

func TestEmptyAggregationWithoutGroupBy(t *testing.T) {
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "*", Index: 0}
	maxItem := &stmt.AggregationItem{Type: stmt.AggMax, Expression: "id", Index: 1}
	st := &stmt.Statement{Aggregations: []*stmt.AggregationItem{count, maxItem}}
	labels := []string{"count", "max"}
	merged, err := NewGroupByMemoryMergedResult([]QueryResult{
		NewMemoryResult(labels, nil),
		NewMemoryResult(labels, nil),
	}, st, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(0), nil}}, drain(t, merged))
}

func TestGroupByMerge(t *testing.T) {
	// SELECT status, COUNT(*), SUM(amount), MIN(created), MAX(name) ... GROUP BY status ORDER BY SUM(amount) DESC
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "*", Index: 1}
	sum := &stmt.AggregationItem{Type: stmt.AggSum, Expression: "amount", Index: 2}
	minItem := &stmt.AggregationItem{Type: stmt.AggMin, Expression: "created", Index: 3}
	maxItem := &stmt.AggregationItem{Type: stmt.AggMax, Expression: "name", Index: 4}
	st := &stmt.Statement{
		Kind:         stmt.KindSelect,
		Aggregations: []*stmt.AggregationItem{count, sum, minItem, maxItem},
		GroupBy:      []*stmt.OrderByItem{orderByColumn("status", -1, common.Asc)},
		OrderBy:      []*stmt.OrderByItem{{Kind: stmt.OrderByIndex, Position: 3, Index: -1, Direction: common.Desc, NullsOrder: common.NullsFirst}},
	}
	labels := []string{"status", "count", "sum", "min", "max"}
	results := []QueryResult{
		NewMemoryResult(labels, [][]common.Value{
			row("done", 2, 30, 5, "b"),
			row("open", 1, 7, 9, "x"),
		}),
		NewMemoryResult(labels, [][]common.Value{
			row("open", 4, 100, 3, "c"),
			row("void", 1, nil, nil, nil),
		}),
		NewMemoryResult(labels, [][]common.Value{
			row("done", 3, 12, 1, "a"),
		}),
	}
	merged, err := NewEngine(nil).Merge(results, st)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"void", int64(1), nil, nil, nil},
		{"open", int64(5), int64(107), int64(3), "x"},
		{"done", int64(5), int64(42), int64(1), "b"},
	}, drain(t, merged))
}

func TestGroupBySortedByGroupItems(t *testing.T) {
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "*", Index: 1}
	st := &stmt.Statement{
		Aggregations: []*stmt.AggregationItem{count},
		GroupBy:      []*stmt.OrderByItem{orderByColumn("k", 0, common.Asc)},
	}
	labels := []string{"k", "count"}
	merged, err := NewGroupByMemoryMergedResult([]QueryResult{
		NewMemoryResult(labels, [][]common.Value{row("b", 1), row("c", 2)}),
		NewMemoryResult(labels, [][]common.Value{row("a", 1), row("B", 5)}),
	}, st, nil)
	require.NoError(t, err)
	// k is not in the schema, so it groups case insensitively
	assert.Equal(t, [][]any{
		{"a", int64(1)},
		{"b", int64(6)},
		{"c", int64(2)},
	}, drain(t, merged))
}

func TestDistinctMerge(t *testing.T) {
	st := &stmt.Statement{Distinct: true}
	labels := []string{"v"}
	merged, err := NewEngine(nil).Merge([]QueryResult{
		NewMemoryResult(labels, [][]common.Value{row(3), row(1)}),
		NewMemoryResult(labels, [][]common.Value{row(1), row(2), row(3)}),
	}, st)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}, {int64(2)}, {int64(3)}}, drain(t, merged))
}

func TestGroupByShardFailure(t *testing.T) {
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "*", Index: 0}
	st := &stmt.Statement{Aggregations: []*stmt.AggregationItem{count}}
	bad := newTracked([]string{"count"}, row(1))
	bad.failAt, bad.failErr = 0, errShard
	good := newTracked([]string{"count"}, row(2))
	_, err := NewGroupByMemoryMergedResult([]QueryResult{good, bad}, st, nil)
	assert.True(t, errors.Is(err, errShard))
	assert.Equal(t, 1, good.closed)
	assert.Equal(t, 1, bad.closed)
}

func TestCountDistinctRejected(t *testing.T) {
	count := &stmt.AggregationItem{Type: stmt.AggCount, Expression: "id", Distinct: true, Index: 0}
	st := &stmt.Statement{Aggregations: []*stmt.AggregationItem{count}}
	_, err := NewGroupByMemoryMergedResult([]QueryResult{
		NewMemoryResult([]string{"count"}, nil),
		NewMemoryResult([]string{"count"}, nil),
	}, st, nil)
	assert.Error(t, err)
}
