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
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaLookup(t *testing.T) {
	sch := NewSchema(
		NewTable("t_order",
			&Column{Name: "order_id", CaseSensitive: true},
			&Column{Name: "status", CaseSensitive: false},
		),
		NewTable("T_User",
			&Column{Name: "status", CaseSensitive: true},
			&Column{Name: "name", CaseSensitive: true},
		),
	)
	tab, has := sch.Table("T_ORDER")
	require.True(t, has)
	assert.Len(t, tab.Columns(), 2)
	assert.Equal(t, []string{"t_order", "t_user"}, sch.TableNames())

	// first referenced table wins
	assert.False(t, sch.IsCaseSensitive([]string{"t_order", "t_user"}, "STATUS"))
	assert.True(t, sch.IsCaseSensitive([]string{"t_user", "t_order"}, "status"))
	assert.True(t, sch.IsCaseSensitive([]string{"t_order", "t_user"}, "name"))
	// unknown column
	assert.False(t, sch.IsCaseSensitive([]string{"t_order"}, "missing"))
	assert.False(t, sch.IsCaseSensitive(nil, "status"))

	tab.AddColumn(&Column{Name: "Status", CaseSensitive: true})
	assert.Len(t, tab.Columns(), 2)
	assert.True(t, sch.IsCaseSensitive([]string{"t_order"}, "status"))

	var nilSchema *Schema
	_, has = nilSchema.Table("t_order")
	assert.False(t, has)
}

func TestLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	query, _, err := columnsQuery("public")
	require.NoError(t, err)
	assert.True(t, strings.Contains(query, "$1"))

	rows := sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "collation_name"}).
		AddRow("t_order_0", "order_id", "bigint", nil).
		AddRow("t_order_0", "status", "character varying", "und-x-icu").
		AddRow("t_order_1", "order_id", "bigint", nil).
		AddRow("t_order_1", "status", "character varying", "und-x-icu").
		AddRow("t_user", "name", "citext", nil).
		AddRow("t_user", "nick", "text", "en_ci")
	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("public").WillReturnRows(rows)

	resolve := func(actual string) (string, bool) {
		if strings.HasPrefix(actual, "t_order_") {
			return "t_order", true
		}
		return "", false
	}
	sch, err := Load(context.Background(), db, "public", resolve)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"t_order", "t_user"}, sch.TableNames())
	order, has := sch.Table("t_order")
	require.True(t, has)
	assert.Len(t, order.Columns(), 2)
	assert.True(t, sch.IsCaseSensitive([]string{"t_order"}, "status"))
	assert.False(t, sch.IsCaseSensitive([]string{"t_user"}, "name"))
	assert.False(t, sch.IsCaseSensitive([]string{"t_user"}, "nick"))
}

func TestLoadError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)
	_, err = Load(context.Background(), db, "public", nil)
	assert.ErrorIs(t, err, assert.AnError)
}
