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
	"math"
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/shardmerge/pkg/pagination"
	"github.com/daviszhen/shardmerge/pkg/stmt"
)

// RevisePagination drops the offset of the shard query and widens its row
// count to offset+count. The global window is applied after the merge.
// Grouped queries need every shard row.
func RevisePagination(st *stmt.Statement, sel *pg_query.SelectStmt) error {
	if _, ok := st.Pagination.(*stmt.LimitClause); !ok {
		return nil
	}
	ctx, err := pagination.NewContext(st.Pagination, st.Params)
	if err != nil {
		return err
	}
	sel.LimitOffset = nil
	if rowCount, ok := ctx.RevisedRowCount(st); ok {
		sel.LimitCount = intConst(rowCount)
	} else {
		sel.LimitCount = nil
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_DEFAULT
	}
	return nil
}

func intConst(v int64) *pg_query.Node {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
			Val: &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: int32(v)}},
		}}}
	}
	return floatConst(strconv.FormatInt(v, 10))
}

func floatConst(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val: &pg_query.A_Const_Fval{Fval: &pg_query.Float{Fval: s}},
	}}}
}
