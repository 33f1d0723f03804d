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

package schema

import (
	"strings"

	"github.com/tidwall/btree"
)

type Column struct {
	Name          string
	DataType      string
	CaseSensitive bool
}

// Table is the logical view of a table. Column lookups ignore case.
type Table struct {
	Name    string
	columns *btree.BTreeG[*Column]
	order   []*Column
}

func columnLess(a, b *Column) bool {
	return a.Name < b.Name
}

func NewTable(name string, columns ...*Column) *Table {
	tab := &Table{
		Name:    strings.ToLower(name),
		columns: btree.NewBTreeG[*Column](columnLess),
	}
	for _, col := range columns {
		tab.AddColumn(col)
	}
	return tab
}

func (tab *Table) AddColumn(col *Column) {
	key := &Column{
		Name:          strings.ToLower(col.Name),
		DataType:      col.DataType,
		CaseSensitive: col.CaseSensitive,
	}
	if _, has := tab.columns.Set(key); has {
		for i, old := range tab.order {
			if old.Name == key.Name {
				tab.order[i] = key
			}
		}
		return
	}
	tab.order = append(tab.order, key)
}

func (tab *Table) Column(name string) (*Column, bool) {
	return tab.columns.Get(&Column{Name: strings.ToLower(name)})
}

func (tab *Table) Columns() []*Column {
	return tab.order
}

// Schema holds the logical tables of the virtual database.
type Schema struct {
	tables *btree.BTreeG[*Table]
}

func tableLess(a, b *Table) bool {
	return a.Name < b.Name
}

func NewSchema(tables ...*Table) *Schema {
	sch := &Schema{
		tables: btree.NewBTreeG[*Table](tableLess),
	}
	for _, tab := range tables {
		sch.AddTable(tab)
	}
	return sch
}

func (sch *Schema) AddTable(tab *Table) {
	sch.tables.Set(tab)
}

func (sch *Schema) Table(name string) (*Table, bool) {
	if sch == nil {
		return nil, false
	}
	return sch.tables.Get(&Table{Name: strings.ToLower(name)})
}

func (sch *Schema) TableNames() []string {
	ret := make([]string, 0, sch.tables.Len())
	sch.tables.Scan(func(tab *Table) bool {
		ret = append(ret, tab.Name)
		return true
	})
	return ret
}

// FindColumn looks for the column in the tables in the given order.
// The first table that has the column wins.
func (sch *Schema) FindColumn(tables []string, column string) (*Column, bool) {
	for _, name := range tables {
		tab, has := sch.Table(name)
		if !has {
			continue
		}
		if col, has := tab.Column(column); has {
			return col, true
		}
	}
	return nil, false
}

// IsCaseSensitive reports the case sensitivity of the column in the first
// referenced table that contains it. Unknown columns are case insensitive.
func (sch *Schema) IsCaseSensitive(tables []string, column string) bool {
	col, has := sch.FindColumn(tables, column)
	if !has {
		return false
	}
	return col.CaseSensitive
}
