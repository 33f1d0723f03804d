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
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/util"
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LogicTableResolver maps a physical table name to its logical table.
type LogicTableResolver func(actualTable string) (string, bool)

var textTypes = map[string]bool{
	"text":              true,
	"character varying": true,
	"character":         true,
	"varchar":           true,
	"char":              true,
	"name":              true,
	"citext":            true,
}

func columnsQuery(schemaName string) (string, []any, error) {
	return sq.Select("table_name", "column_name", "data_type", "collation_name").
		From("information_schema.columns").
		Where(sq.Eq{"table_schema": schemaName}).
		OrderBy("table_name", "ordinal_position").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// Load reads the column catalog of one physical data source and folds the
// physical tables into logical ones. Tables the resolver does not know keep
// their physical name.
func Load(ctx context.Context, db Queryer, schemaName string, resolve LogicTableResolver) (*Schema, error) {
	query, args, err := columnsQuery(schemaName)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load columns of schema %s: %w", schemaName, err)
	}
	defer rows.Close()

	sch := NewSchema()
	for rows.Next() {
		var tableName, columnName, dataType string
		var collation sql.NullString
		if err = rows.Scan(&tableName, &columnName, &dataType, &collation); err != nil {
			return nil, err
		}
		logic := tableName
		if resolve != nil {
			if name, has := resolve(tableName); has {
				logic = name
			}
		}
		tab, has := sch.Table(logic)
		if !has {
			tab = NewTable(logic)
			sch.AddTable(tab)
		}
		if _, has = tab.Column(columnName); has {
			continue
		}
		tab.AddColumn(&Column{
			Name:          columnName,
			DataType:      dataType,
			CaseSensitive: isCaseSensitive(dataType, collation.String),
		})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	util.Debug("schema loaded",
		zap.String("schema", schemaName),
		zap.Strings("tables", sch.TableNames()))
	return sch, nil
}

func isCaseSensitive(dataType, collation string) bool {
	dataType = strings.ToLower(dataType)
	if dataType == "citext" {
		return false
	}
	if !textTypes[dataType] {
		return true
	}
	collation = strings.ToLower(collation)
	return !(strings.Contains(collation, "_ci") ||
		strings.Contains(collation, "-ci") ||
		strings.Contains(collation, "nocase"))
}
