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
	"fmt"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/shardmerge/pkg/util"
)

// RouteMapper maps a logic name to an actual name.
type RouteMapper struct {
	LogicName  string
	ActualName string
}

func identity(name string) RouteMapper {
	return RouteMapper{LogicName: name, ActualName: name}
}

func (m RouteMapper) String() string {
	if m.LogicName == m.ActualName {
		return m.LogicName
	}
	return m.LogicName + " -> " + m.ActualName
}

// RouteUnit is one fan-out target. It is never changed after NewRouteUnit.
type RouteUnit struct {
	dataSource RouteMapper
	tables     []RouteMapper
}

func NewRouteUnit(dataSource RouteMapper, tables []RouteMapper) *RouteUnit {
	return &RouteUnit{
		dataSource: dataSource,
		tables:     util.CopyTo(tables),
	}
}

func (unit *RouteUnit) DataSourceMapper() RouteMapper {
	return unit.dataSource
}

func (unit *RouteUnit) DataSourceName() string {
	return unit.dataSource.ActualName
}

func (unit *RouteUnit) TableMappers() []RouteMapper {
	return util.CopyTo(unit.tables)
}

// ActualTable returns the actual table of the logic table in this unit.
func (unit *RouteUnit) ActualTable(logic string) (string, bool) {
	for _, m := range unit.tables {
		if strings.EqualFold(m.LogicName, logic) {
			return m.ActualName, true
		}
	}
	return "", false
}

func (unit *RouteUnit) String() string {
	parts := make([]string, 0, len(unit.tables))
	for _, m := range unit.tables {
		parts = append(parts, m.String())
	}
	return fmt.Sprintf("%s[%s]", unit.dataSource.ActualName, strings.Join(parts, ","))
}

// RouteContext is the ordered fan-out of one statement.
type RouteContext struct {
	engine string
	units  []*RouteUnit
}

func NewRouteContext(engine string, units ...*RouteUnit) *RouteContext {
	return &RouteContext{engine: engine, units: units}
}

// Engine names the route engine that produced the context.
func (rc *RouteContext) Engine() string {
	return rc.engine
}

func (rc *RouteContext) Units() []*RouteUnit {
	return rc.units
}

func (rc *RouteContext) Len() int {
	return len(rc.units)
}

func (rc *RouteContext) IsSingle() bool {
	return len(rc.units) == 1
}

// DataSourceNames returns the actual data sources in fan-out order, without duplicates.
func (rc *RouteContext) DataSourceNames() []string {
	ret := make([]string, 0, len(rc.units))
	seen := make(map[string]bool, len(rc.units))
	for _, unit := range rc.units {
		name := unit.DataSourceName()
		if seen[name] {
			continue
		}
		seen[name] = true
		ret = append(ret, name)
	}
	return ret
}

func (rc *RouteContext) Print(tree treeprint.Tree) {
	for i, unit := range rc.units {
		branch := tree.AddMetaBranch(i, unit.dataSource.String())
		for _, m := range unit.tables {
			branch.AddNode(m.String())
		}
	}
}

func (rc *RouteContext) String() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("RouteContext(%s):", rc.engine))
	rc.Print(tree)
	return tree.String()
}
