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
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/btree"
	"gopkg.in/yaml.v3"

	"github.com/daviszhen/shardmerge/pkg/common"
)

// DataNode is one physical table on one data source.
type DataNode struct {
	DataSource string
	Table      string
}

func (node DataNode) String() string {
	return node.DataSource + "." + node.Table
}

// TableRule lists the data nodes of a sharded logic table.
type TableRule struct {
	LogicTable string
	DataNodes  []DataNode
}

// DataSourceNames returns the data sources holding the table, in data node order.
func (tr *TableRule) DataSourceNames() []string {
	ret := make([]string, 0, len(tr.DataNodes))
	for _, node := range tr.DataNodes {
		if !slices.Contains(ret, node.DataSource) {
			ret = append(ret, node.DataSource)
		}
	}
	return ret
}

// FirstNodeOn returns the first data node placed on the data source.
func (tr *TableRule) FirstNodeOn(ds string) (DataNode, bool) {
	for _, node := range tr.DataNodes {
		if node.DataSource == ds {
			return node, true
		}
	}
	return DataNode{}, false
}

// RuleConfig is the yaml form of the sharding rule.
//
//	dataSources: [ds_0, ds_1]
//	tables:
//	  t_order:
//	    actualDataNodes: ds_${0..1}.t_order_${0..1}
//	broadcastTables: [t_dict]
type RuleConfig struct {
	DataSources     []string                   `yaml:"dataSources"`
	Tables          map[string]TableRuleConfig `yaml:"tables"`
	BroadcastTables []string                   `yaml:"broadcastTables"`
}

type TableRuleConfig struct {
	// ActualDataNodes is a comma separated list of ds.table,
	// each part may hold ${begin..end} ranges.
	ActualDataNodes string `yaml:"actualDataNodes"`
}

// Rule is the immutable sharding rule snapshot.
type Rule struct {
	dataSources []string
	tables      *btree.BTreeG[*TableRule]
	broadcast   *btree.BTreeG[string]
	// actual table name -> logic table name
	actualTables map[string]string
}

func LoadRule(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sharding rule: %w", err)
	}
	return ParseRule(data)
}

func ParseRule(data []byte) (*Rule, error) {
	cfg := RuleConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode sharding rule: %w", err)
	}
	return NewRule(cfg)
}

func NewRule(cfg RuleConfig) (*Rule, error) {
	if len(cfg.DataSources) == 0 {
		return nil, common.ErrNoDataSource
	}
	rule := &Rule{
		tables: btree.NewBTreeG[*TableRule](func(a, b *TableRule) bool {
			return a.LogicTable < b.LogicTable
		}),
		broadcast:    btree.NewBTreeG[string](func(a, b string) bool { return a < b }),
		actualTables: make(map[string]string),
	}
	for _, ds := range cfg.DataSources {
		ds = strings.TrimSpace(ds)
		if ds == "" {
			return nil, errors.New("empty data source name")
		}
		if slices.Contains(rule.dataSources, ds) {
			return nil, fmt.Errorf("duplicate data source %s", ds)
		}
		rule.dataSources = append(rule.dataSources, ds)
	}

	for logic, tabCfg := range cfg.Tables {
		logic = strings.ToLower(strings.TrimSpace(logic))
		tr := &TableRule{LogicTable: logic}
		if strings.TrimSpace(tabCfg.ActualDataNodes) == "" {
			for _, ds := range rule.dataSources {
				tr.DataNodes = append(tr.DataNodes, DataNode{DataSource: ds, Table: logic})
			}
		} else {
			nodes, err := parseDataNodes(tabCfg.ActualDataNodes)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", logic, err)
			}
			for _, node := range nodes {
				if !slices.Contains(rule.dataSources, node.DataSource) {
					return nil, fmt.Errorf("table %s: data node %s refers to unknown data source", logic, node)
				}
			}
			tr.DataNodes = nodes
		}
		for _, node := range tr.DataNodes {
			rule.actualTables[strings.ToLower(node.Table)] = logic
		}
		rule.tables.Set(tr)
	}

	for _, tab := range cfg.BroadcastTables {
		tab = strings.ToLower(strings.TrimSpace(tab))
		if _, has := rule.tables.Get(&TableRule{LogicTable: tab}); has {
			return nil, fmt.Errorf("table %s is both sharded and broadcast", tab)
		}
		rule.broadcast.Set(tab)
	}
	return rule, nil
}

// DataSourceNames returns the configured data sources in declaration order.
func (rule *Rule) DataSourceNames() []string {
	return append([]string(nil), rule.dataSources...)
}

func (rule *Rule) TableRule(logic string) (*TableRule, bool) {
	return rule.tables.Get(&TableRule{LogicTable: strings.ToLower(logic)})
}

func (rule *Rule) IsSharded(logic string) bool {
	_, has := rule.TableRule(logic)
	return has
}

func (rule *Rule) IsBroadcast(logic string) bool {
	_, has := rule.broadcast.Get(strings.ToLower(logic))
	return has
}

// ShardedTables keeps the sharded ones of the tables.
func (rule *Rule) ShardedTables(tables []string) []string {
	ret := make([]string, 0, len(tables))
	for _, tab := range tables {
		if rule.IsSharded(tab) {
			ret = append(ret, strings.ToLower(tab))
		}
	}
	return ret
}

// AllBroadcast reports whether tables is not empty and every table is broadcast.
func (rule *Rule) AllBroadcast(tables []string) bool {
	if len(tables) == 0 {
		return false
	}
	for _, tab := range tables {
		if !rule.IsBroadcast(tab) {
			return false
		}
	}
	return true
}

// LogicTableNames returns the sharded logic tables in name order.
func (rule *Rule) LogicTableNames() []string {
	ret := make([]string, 0, rule.tables.Len())
	rule.tables.Scan(func(tr *TableRule) bool {
		ret = append(ret, tr.LogicTable)
		return true
	})
	return ret
}

// FindLogicTable maps an actual table back to its sharded logic table.
func (rule *Rule) FindLogicTable(actual string) (string, bool) {
	logic, has := rule.actualTables[strings.ToLower(actual)]
	return logic, has
}

func parseDataNodes(text string) ([]DataNode, error) {
	var ret []DataNode
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		names, err := expandInline(part)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			dot := strings.IndexByte(name, '.')
			if dot <= 0 || dot == len(name)-1 {
				return nil, fmt.Errorf("invalid data node %q", name)
			}
			ret = append(ret, DataNode{
				DataSource: name[:dot],
				Table:      strings.ToLower(name[dot+1:]),
			})
		}
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("no data node in %q", text)
	}
	return ret, nil
}

// expandInline expands every ${begin..end} range of the text,
// leftmost range varies slowest.
func expandInline(text string) ([]string, error) {
	start := strings.Index(text, "${")
	if start < 0 {
		return []string{text}, nil
	}
	end := strings.IndexByte(text[start:], '}')
	if end < 0 {
		return nil, fmt.Errorf("unclosed inline expression in %q", text)
	}
	end += start
	begin, last, err := parseRange(text[start+2 : end])
	if err != nil {
		return nil, fmt.Errorf("inline expression %q: %w", text, err)
	}
	rest, err := expandInline(text[end+1:])
	if err != nil {
		return nil, err
	}
	prefix := text[:start]
	ret := make([]string, 0, (last-begin+1)*len(rest))
	for i := begin; i <= last; i++ {
		for _, suffix := range rest {
			ret = append(ret, prefix+strconv.Itoa(i)+suffix)
		}
	}
	return ret, nil
}

func parseRange(expr string) (int, int, error) {
	lo, hi, found := strings.Cut(expr, "..")
	if !found {
		return 0, 0, fmt.Errorf("expect begin..end, got %q", expr)
	}
	begin, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, err
	}
	last, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, err
	}
	if last < begin {
		return 0, 0, fmt.Errorf("range %d..%d is empty", begin, last)
	}
	return begin, last, nil
}
