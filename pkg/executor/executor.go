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
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/shardmerge/pkg/merge"
	"github.com/daviszhen/shardmerge/pkg/metrics"
	"github.com/daviszhen/shardmerge/pkg/rewrite"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// Executor runs the SQL of route units on their data sources.
type Executor struct {
	dbs      map[string]*sql.DB
	maxConns int
	sqlShow  bool
}

// Open connects every configured data source with the postgres driver.
func Open(cfg *util.Config) (*Executor, error) {
	dbs := make(map[string]*sql.DB, len(cfg.DataSources))
	for _, ds := range cfg.DataSources {
		db, err := sql.Open("postgres", ds.Dsn)
		if err != nil {
			closeDBs(dbs)
			return nil, fmt.Errorf("open data source %s: %w", ds.Name, err)
		}
		if ds.MaxOpenConns > 0 {
			db.SetMaxOpenConns(ds.MaxOpenConns)
		}
		dbs[ds.Name] = db
	}
	e := New(dbs, cfg.Props.MaxConnectionsPerQuery)
	e.sqlShow = cfg.Props.SqlShow
	return e, nil
}

// New wraps opened data sources. maxConns bounds the shard statements a
// query runs at once, 0 means unbounded.
func New(dbs map[string]*sql.DB, maxConns int) *Executor {
	return &Executor{dbs: dbs, maxConns: maxConns}
}

func (e *Executor) DB(name string) (*sql.DB, bool) {
	db, has := e.dbs[name]
	return db, has
}

func (e *Executor) db(unit rewrite.ExecutionUnit) (*sql.DB, error) {
	db, has := e.dbs[unit.DataSourceName()]
	if !has {
		return nil, fmt.Errorf("no data source %s", unit.DataSourceName())
	}
	return db, nil
}

func (e *Executor) group() *errgroup.Group {
	g := &errgroup.Group{}
	if e.maxConns > 0 {
		g.SetLimit(e.maxConns)
	}
	return g
}

func (e *Executor) show(unit rewrite.ExecutionUnit) {
	if e.sqlShow {
		util.Info("shard sql",
			zap.String("dataSource", unit.DataSourceName()),
			zap.String("sql", unit.SQL))
	}
}

// Query opens one cursor per unit in parallel. The results are in unit
// order. When any unit fails the opened cursors are closed and the first
// error is returned unchanged.
func (e *Executor) Query(ctx context.Context, units []rewrite.ExecutionUnit) ([]merge.QueryResult, error) {
	results := make([]merge.QueryResult, len(units))
	// the rows outlive the group, so the statements use ctx itself
	g := e.group()
	for i, unit := range units {
		g.Go(func() error {
			db, err := e.db(unit)
			if err != nil {
				return err
			}
			e.show(unit)
			rows, err := db.QueryContext(ctx, unit.SQL)
			if err != nil {
				metrics.ShardErrors.WithLabelValues(unit.DataSourceName()).Inc()
				util.Error("shard query failed",
					zap.String("dataSource", unit.DataSourceName()),
					zap.Error(err))
				return err
			}
			res, err := NewRowsResult(rows)
			if err != nil {
				return errors.Join(err, rows.Close())
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, res := range results {
			if res == nil {
				continue
			}
			if cerr := res.Close(); cerr != nil {
				util.Warn("close shard result", zap.Error(cerr))
			}
		}
		return nil, err
	}
	return results, nil
}

// Exec runs statements that return no rows and sums the affected rows.
func (e *Executor) Exec(ctx context.Context, units []rewrite.ExecutionUnit) (int64, error) {
	affected := make([]int64, len(units))
	g := e.group()
	for i, unit := range units {
		g.Go(func() error {
			db, err := e.db(unit)
			if err != nil {
				return err
			}
			e.show(unit)
			res, err := db.ExecContext(ctx, unit.SQL)
			if err != nil {
				metrics.ShardErrors.WithLabelValues(unit.DataSourceName()).Inc()
				util.Error("shard exec failed",
					zap.String("dataSource", unit.DataSourceName()),
					zap.Error(err))
				return err
			}
			n, err := res.RowsAffected()
			if err == nil {
				affected[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, n := range affected {
		total += n
	}
	return total, nil
}

func (e *Executor) Close() error {
	return closeDBs(e.dbs)
}

func closeDBs(dbs map[string]*sql.DB) error {
	var errs []error
	for _, db := range dbs {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}
