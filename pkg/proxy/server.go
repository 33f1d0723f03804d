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
	"errors"
	"fmt"
	"net"

	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/lib/pq/oid"
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/merge"
	"github.com/daviszhen/shardmerge/pkg/metrics"
	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/session"
	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

var (
	errNoSession = errors.New("no session on connection")
	errNoColumns = errors.New("table has no known columns, name the columns")
)

type sessionKey struct{}

// Server serves logical SQL over the PostgreSQL wire protocol.
// Every connection owns one session.
type Server struct {
	cfg    *util.Config
	router *route.Router
	merger *merge.Engine
	sch    *schema.Schema
	exec   ShardExecutor
	wire   *wire.Server
}

func NewServer(cfg *util.Config, rule *route.Rule, sch *schema.Schema, exec ShardExecutor) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		router: route.NewRouter(rule),
		merger: merge.NewEngine(sch),
		sch:    sch,
		exec:   exec,
	}
	srv, err := wire.NewServer(s.handle,
		wire.SessionMiddleware(s.openSession),
		wire.CloseConn(s.closeSession),
	)
	if err != nil {
		return nil, err
	}
	s.wire = srv
	return s, nil
}

func (s *Server) ListenAndServe() error {
	util.Info("shard proxy listening", zap.String("addr", s.cfg.Server.Addr))
	return s.wire.ListenAndServe(s.cfg.Server.Addr)
}

func (s *Server) Serve(listener net.Listener) error {
	return s.wire.Serve(listener)
}

func (s *Server) Close() error {
	return s.wire.Close()
}

func (s *Server) openSession(ctx context.Context) (context.Context, error) {
	sess := session.New()
	util.Debug("open session", zap.Stringer("id", sess.ID()))
	return context.WithValue(ctx, sessionKey{}, sess), nil
}

func (s *Server) closeSession(ctx context.Context) error {
	sess, err := sessionOf(ctx)
	if err != nil {
		return nil
	}
	metrics.OpenCursors.Sub(float64(sess.Cursors().Len()))
	return sess.Close()
}

func sessionOf(ctx context.Context) (*session.Session, error) {
	sess, ok := ctx.Value(sessionKey{}).(*session.Session)
	if !ok {
		return nil, errNoSession
	}
	return sess, nil
}

func (s *Server) handle(ctx context.Context, query string) (ret wire.PreparedStatements, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = util.ConvertPanicError(r)
			util.Error("handle query panic", zap.String("query", query), zap.Error(err))
		}
	}()
	util.Info("incoming SQL :", zap.String("query", query))
	sess, err := sessionOf(ctx)
	if err != nil {
		return nil, err
	}
	q, err := parser.Parse(query)
	if err != nil {
		return nil, err
	}
	labels, err := s.describe(sess, q)
	if err != nil {
		return nil, err
	}
	oids := make([]oid.Oid, q.ParamCount())
	for i := range oids {
		oids[i] = oid.T_text
	}
	return wire.Prepared(
		wire.NewStatement(func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
			params := make([]any, len(parameters))
			for i, p := range parameters {
				params[i] = string(p.Value())
			}
			// every execution binds its own copy
			bound := *q
			bound.Statement = q.Statement.Clone()
			bound.Bind(params)
			outcome, err := s.Execute(ctx, sess, &bound)
			if err != nil {
				return err
			}
			return writeOutcome(writer, outcome)
		}, wire.WithParameters(oids), wire.WithColumns(columnsOf(labels))),
	), nil
}

// describe resolves the columns of a statement without touching the shards.
// FETCH takes them from its open cursor, * from the schema.
func (s *Server) describe(sess *session.Session, q *parser.Query) ([]string, error) {
	st := q.Statement
	if st.Kind == stmt.KindFetch {
		res, err := merge.NewFetchOrderByMergedResult(sess.Cursors(), st.Cursor)
		if err != nil {
			return nil, err
		}
		defer res.Close()
		labels := make([]string, res.ColumnCount())
		for i := range labels {
			labels[i] = res.ColumnLabel(i)
		}
		return labels, nil
	}
	if !st.Kind.ReturnsRows() {
		return nil, nil
	}
	var labels []string
	for _, p := range st.Projections {
		switch {
		case p.Derived:
		case p.Star:
			cols, err := s.starLabels(st, p.Owner)
			if err != nil {
				return nil, err
			}
			labels = append(labels, cols...)
		default:
			labels = append(labels, p.Label())
		}
	}
	return labels, nil
}

// starLabels expands * or owner.* into the columns of the tables in FROM order.
func (s *Server) starLabels(st *stmt.Statement, owner string) ([]string, error) {
	tables := st.TableNames()
	if owner != "" {
		name, has := st.TableOfAlias(owner)
		if !has {
			return nil, fmt.Errorf("unknown table %s in %s.*", owner, owner)
		}
		tables = []string{name}
	}
	var labels []string
	for _, name := range tables {
		tab, has := s.sch.Table(name)
		if !has {
			return nil, fmt.Errorf("describe * over %s: %w", name, errNoColumns)
		}
		for _, col := range tab.Columns() {
			labels = append(labels, col.Name)
		}
	}
	return labels, nil
}

func columnsOf(labels []string) wire.Columns {
	cols := make(wire.Columns, 0, len(labels))
	for _, label := range labels {
		cols = append(cols, wire.Column{
			Name:  label,
			Oid:   oid.T_text,
			Width: -1,
		})
	}
	return cols
}

func writeOutcome(writer wire.DataWriter, outcome *Outcome) error {
	n, err := outcome.Rows(writer.Row)
	if err != nil {
		return err
	}
	if outcome.Result != nil {
		return writer.Complete(fmt.Sprintf("%s %d", outcome.Tag, n))
	}
	return writer.Complete(outcome.Tag)
}
