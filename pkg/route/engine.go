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
	"math/rand/v2"
	"strings"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/util"
)

const (
	EngineStandard          = "standard"
	EngineUnicast           = "unicast"
	EngineDatabaseBroadcast = "database_broadcast"
	EngineTableBroadcast    = "table_broadcast"
)

// ConnectionContext is the connection state the routing reads.
type ConnectionContext interface {
	// UsedDataSourceNames returns the data sources the connection already holds.
	UsedDataSourceNames() []string
}

// Engine computes the route of one statement against a rule snapshot.
// Engines hold no mutable state and may be shared.
type Engine interface {
	Name() string
	Route(rule *Rule) (*RouteContext, error)
}

// StandardEngine fans out to every data node of the sharded tables.
// Several sharded tables must be bound: same count of data nodes on
// the same data sources. The other tables keep their names.
type StandardEngine struct {
	Tables []string
}

func (eng *StandardEngine) Name() string {
	return EngineStandard
}

func (eng *StandardEngine) Route(rule *Rule) (*RouteContext, error) {
	var sharded []*TableRule
	for _, tab := range eng.Tables {
		if tr, has := rule.TableRule(tab); has {
			sharded = append(sharded, tr)
		}
	}
	if len(sharded) == 0 {
		return nil, common.ErrNoRouteIntersection
	}
	first := sharded[0]
	for _, tr := range sharded[1:] {
		if !bound(first, tr) {
			return nil, common.ErrCrossShardJoin
		}
	}
	units := make([]*RouteUnit, 0, len(first.DataNodes))
	for i, node := range first.DataNodes {
		mappers := make([]RouteMapper, 0, len(eng.Tables))
		for _, tab := range eng.Tables {
			mappers = append(mappers, identity(tab))
		}
		for _, tr := range sharded {
			actual := tr.DataNodes[i].Table
			for j := range mappers {
				if strings.EqualFold(mappers[j].LogicName, tr.LogicTable) {
					mappers[j].ActualName = actual
				}
			}
		}
		units = append(units, NewRouteUnit(identity(node.DataSource), mappers))
	}
	return NewRouteContext(eng.Name(), units...), nil
}

func bound(a, b *TableRule) bool {
	if len(a.DataNodes) != len(b.DataNodes) {
		return false
	}
	for i := range a.DataNodes {
		if a.DataNodes[i].DataSource != b.DataNodes[i].DataSource {
			return false
		}
	}
	return true
}

// UnicastEngine routes to exactly one data source.
type UnicastEngine struct {
	Tables []string
	// Deterministic picks the first candidate. Cursor and view statements
	// need it so that later statements on the same object meet the same backend.
	Deterministic bool
	// Used are the data sources already used by the connection.
	Used []string
}

func (eng *UnicastEngine) Name() string {
	return EngineUnicast
}

func (eng *UnicastEngine) Route(rule *Rule) (*RouteContext, error) {
	sharded := rule.ShardedTables(eng.Tables)
	switch {
	case len(sharded) == 0:
		ds := eng.pick(rule.DataSourceNames())
		return eng.single(ds, nil), nil
	case len(eng.Tables) == 1:
		tr, _ := rule.TableRule(sharded[0])
		node := tr.DataNodes[0]
		if !eng.Deterministic {
			ds := eng.pick(tr.DataSourceNames())
			node, _ = tr.FirstNodeOn(ds)
		}
		return eng.single(node.DataSource, map[string]string{tr.LogicTable: node.Table}), nil
	default:
		candidates := rule.DataSourceNames()
		for _, tab := range sharded {
			tr, _ := rule.TableRule(tab)
			candidates = util.Intersect(candidates, tr.DataSourceNames())
		}
		if len(candidates) == 0 {
			return nil, common.ErrNoRouteIntersection
		}
		ds := eng.pick(candidates)
		actuals := make(map[string]string, len(sharded))
		for _, tab := range sharded {
			tr, _ := rule.TableRule(tab)
			node, _ := tr.FirstNodeOn(ds)
			actuals[tr.LogicTable] = node.Table
		}
		return eng.single(ds, actuals), nil
	}
}

func (eng *UnicastEngine) pick(candidates []string) string {
	util.AssertFunc(len(candidates) != 0)
	if eng.Deterministic {
		return candidates[0]
	}
	if used := util.Intersect(eng.Used, candidates); len(used) != 0 {
		return used[rand.IntN(len(used))]
	}
	return candidates[rand.IntN(len(candidates))]
}

func (eng *UnicastEngine) single(ds string, actuals map[string]string) *RouteContext {
	mappers := make([]RouteMapper, 0, len(eng.Tables))
	for _, tab := range eng.Tables {
		m := identity(tab)
		if actual, has := actuals[strings.ToLower(tab)]; has {
			m.ActualName = actual
		}
		mappers = append(mappers, m)
	}
	return NewRouteContext(eng.Name(), NewRouteUnit(identity(ds), mappers))
}

// DatabaseBroadcastEngine sends the statement to every data source.
type DatabaseBroadcastEngine struct {
	Tables []string
}

func (eng *DatabaseBroadcastEngine) Name() string {
	return EngineDatabaseBroadcast
}

func (eng *DatabaseBroadcastEngine) Route(rule *Rule) (*RouteContext, error) {
	mappers := make([]RouteMapper, 0, len(eng.Tables))
	for _, tab := range eng.Tables {
		mappers = append(mappers, identity(tab))
	}
	dss := rule.DataSourceNames()
	units := make([]*RouteUnit, 0, len(dss))
	for _, ds := range dss {
		units = append(units, NewRouteUnit(identity(ds), mappers))
	}
	return NewRouteContext(eng.Name(), units...), nil
}

// TableBroadcastEngine sends the statement to every data node of each
// sharded table, one table per unit.
type TableBroadcastEngine struct {
	Tables []string
}

func (eng *TableBroadcastEngine) Name() string {
	return EngineTableBroadcast
}

func (eng *TableBroadcastEngine) Route(rule *Rule) (*RouteContext, error) {
	var units []*RouteUnit
	for _, tab := range rule.ShardedTables(eng.Tables) {
		tr, _ := rule.TableRule(tab)
		for _, node := range tr.DataNodes {
			units = append(units, NewRouteUnit(
				identity(node.DataSource),
				[]RouteMapper{{LogicName: tr.LogicTable, ActualName: node.Table}}))
		}
	}
	if len(units) == 0 {
		return (&DatabaseBroadcastEngine{Tables: eng.Tables}).Route(rule)
	}
	return NewRouteContext(eng.Name(), units...), nil
}
