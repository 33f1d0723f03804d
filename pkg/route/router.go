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

package route

import (
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/stmt"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// Router selects the route engine of a statement and runs it.
// It only reads the rule, so one Router serves all connections.
type Router struct {
	rule *Rule
}

func NewRouter(rule *Rule) *Router {
	return &Router{rule: rule}
}

func (r *Router) Rule() *Rule {
	return r.rule
}

func (r *Router) Route(st *stmt.Statement, conn ConnectionContext) (*RouteContext, error) {
	engine := r.NewEngine(st, conn)
	rc, err := engine.Route(r.rule)
	if err != nil {
		return nil, err
	}
	util.Debug("route",
		zap.String("kind", st.Kind.String()),
		zap.String("engine", engine.Name()),
		zap.Stringer("units", unitsStringer(rc.units)))
	return rc, nil
}

// NewEngine picks the engine by statement kind and referenced tables.
func (r *Router) NewEngine(st *stmt.Statement, conn ConnectionContext) Engine {
	tables := st.TableNames()
	sharded := r.rule.ShardedTables(tables)
	var used []string
	if conn != nil {
		used = conn.UsedDataSourceNames()
	}
	switch {
	case st.Kind == stmt.KindTCL || st.Kind == stmt.KindSet:
		return &DatabaseBroadcastEngine{}
	case st.Kind.IsView():
		return &UnicastEngine{Tables: tables, Deterministic: true}
	case st.Kind.IsCursor():
		// a cursor over sharded tables opens on every shard, FETCH merges them
		if len(sharded) != 0 {
			return &StandardEngine{Tables: tables}
		}
		return &UnicastEngine{Tables: tables, Deterministic: true}
	case st.Kind == stmt.KindDDL:
		if len(sharded) != 0 {
			return &TableBroadcastEngine{Tables: tables}
		}
		if r.rule.AllBroadcast(tables) {
			return &DatabaseBroadcastEngine{Tables: tables}
		}
		return &UnicastEngine{Tables: tables, Used: used}
	case st.Kind == stmt.KindSelect || st.Kind.IsDML():
		if len(sharded) != 0 {
			return &StandardEngine{Tables: tables}
		}
		if st.Kind.IsDML() && r.rule.AllBroadcast(tables) {
			return &DatabaseBroadcastEngine{Tables: tables}
		}
		return &UnicastEngine{Tables: tables, Used: used}
	default:
		return &UnicastEngine{Tables: tables, Used: used}
	}
}

type unitsStringer []*RouteUnit

func (units unitsStringer) String() string {
	ret := ""
	for i, unit := range units {
		if i > 0 {
			ret += " "
		}
		ret += unit.String()
	}
	return ret
}
