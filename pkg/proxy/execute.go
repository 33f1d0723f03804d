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

package proxy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/merge"
	"github.com/daviszhen/shardmerge/pkg/metrics"
	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/rewrite"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/session"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// ShardExecutor runs rewritten SQL on the data sources.
type ShardExecutor interface {
	Query(ctx context.Context, units []rewrite.ExecutionUnit) ([]merge.QueryResult, error)
	Exec(ctx context.Context, units []rewrite.ExecutionUnit) (int64, error)
}

// Outcome is what a statement gives the client: merged rows, or only the
// command tag.
type Outcome struct {
	Result merge.MergedResult
	Merger string
	Tag    string
}

// Execute runs one bound query for the session.
func (s *Server) Execute(ctx context.Context, sess *session.Session, q *parser.Query) (ret *Outcome, err error) {
	st := q.Statement
	start := time.Now()
	defer func() {
		metrics.ObserveQuery(st.Kind.String(), start, err)
	}()
	switch st.Kind {
	case stmt.KindFetch:
		var res *merge.FetchOrderByMergedResult
		if res, err = merge.NewFetchOrderByMergedResult(sess.Cursors(), st.Cursor); err != nil {
			return nil, err
		}
		return &Outcome{Result: res, Merger: "fetch", Tag: "FETCH"}, nil
	case stmt.KindMove:
		err = fmt.Errorf("MOVE %s: %w", st.Cursor.Name, common.ErrUnsupportedFetch)
		return nil, err
	case stmt.KindCloseCursor:
		if err = sess.Cursors().Remove(st.Cursor.Name); err != nil {
			return nil, err
		}
		metrics.OpenCursors.Dec()
		return &Outcome{Tag: "CLOSE CURSOR"}, nil
	}

	var rc *route.RouteContext
	if rc, err = s.router.Route(st, sess); err != nil {
		return nil, err
	}
	metrics.RouteTotal.WithLabelValues(rc.Engine()).Inc()
	metrics.ShardFanout.Observe(float64(rc.Len()))
	if s.cfg.Debug.PrintRoute {
		util.Info("route", zap.String("sql", q.SQL), zap.Stringer("route", rc))
	}
	var rw *rewrite.Result
	if rw, err = rewrite.Rewrite(q, rc); err != nil {
		return nil, err
	}
	sess.MarkUsed(rc.DataSourceNames()...)

	var results []merge.QueryResult
	switch {
	case st.Kind == stmt.KindDeclareCursor:
		// the cursor outlives this statement
		if results, err = s.exec.Query(context.WithoutCancel(ctx), rw.Units); err != nil {
			return nil, err
		}
		_, replaced := sess.Cursors().Load(st.Cursor.Name)
		if err = s.merger.DeclareCursor(sess.Cursors(), st.Cursor.Name, results, rw.Statement); err != nil {
			return nil, err
		}
		if !replaced {
			metrics.OpenCursors.Inc()
		}
		return &Outcome{Tag: "DECLARE CURSOR"}, nil
	case st.Kind.ReturnsRows():
		if results, err = s.exec.Query(ctx, rw.Units); err != nil {
			return nil, err
		}
		var merged merge.MergedResult
		if merged, err = s.merger.Merge(results, rw.Statement); err != nil {
			return nil, err
		}
		return &Outcome{Result: merged, Merger: merge.Merger(rw.Statement, len(results)), Tag: "SELECT"}, nil
	default:
		var n int64
		if n, err = s.exec.Exec(ctx, rw.Units); err != nil {
			return nil, err
		}
		return &Outcome{Tag: tagOf(st.Kind, n)}, nil
	}
}

func tagOf(kind stmt.Kind, n int64) string {
	switch kind {
	case stmt.KindInsert:
		return fmt.Sprintf("INSERT 0 %d", n)
	case stmt.KindUpdate:
		return fmt.Sprintf("UPDATE %d", n)
	case stmt.KindDelete:
		return fmt.Sprintf("DELETE %d", n)
	default:
		return kind.String()
	}
}

// Labels returns the client visible column labels of the outcome.
func (o *Outcome) Labels() []string {
	if o.Result == nil {
		return nil
	}
	ret := make([]string, o.Result.ColumnCount())
	for i := range ret {
		ret[i] = o.Result.ColumnLabel(i)
	}
	return ret
}

// Rows drains the merged rows. The result is closed afterwards.
func (o *Outcome) Rows(fn func(row []any) error) (n int, err error) {
	if o.Result == nil {
		return 0, nil
	}
	defer func() {
		if cerr := o.Result.Close(); cerr != nil && err == nil {
			err = cerr
		}
		metrics.MergedRows.WithLabelValues(o.Merger).Add(float64(n))
	}()
	row := make([]any, o.Result.ColumnCount())
	for {
		ok, err := o.Result.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		for i := range row {
			val, err := o.Result.Value(i)
			if err != nil {
				return n, err
			}
			if val.IsNull() {
				row[i] = nil
			} else {
				row[i] = val.String()
			}
		}
		if err = fn(row); err != nil {
			return n, err
		}
		n++
	}
}
