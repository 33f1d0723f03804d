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

package rewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/proto"

	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/route"
)

// RenameTables points every logic table at the actual table of the unit.
// With alias set, an unaliased table keeps its logic name as alias so
// qualified column references still resolve.
func RenameTables(tree *pg_query.ParseResult, unit *route.RouteUnit, alias bool) {
	_ = parser.Walk(tree, func(msg proto.Message) error {
		rv, ok := msg.(*pg_query.RangeVar)
		if !ok {
			return nil
		}
		actual, ok := unit.ActualTable(rv.Relname)
		if !ok || actual == rv.Relname {
			return nil
		}
		if alias && rv.Alias == nil {
			rv.Alias = &pg_query.Alias{Aliasname: rv.Relname}
		}
		rv.Relname = actual
		return nil
	})
}
