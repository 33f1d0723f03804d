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
	"fmt"
	"strconv"
	"time"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/proto"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/parser"
)

// InlineParams replaces every $n with the constant of params[n-1].
func InlineParams(tree *pg_query.ParseResult, params []any) error {
	return parser.Walk(tree, func(msg proto.Message) error {
		node, ok := msg.(*pg_query.Node)
		if !ok {
			return nil
		}
		ref := node.GetParamRef()
		if ref == nil {
			return nil
		}
		idx := int(ref.Number) - 1
		if idx < 0 || idx >= len(params) {
			return fmt.Errorf("no value bound for $%d", ref.Number)
		}
		node.Node = constOf(common.FromAny(params[idx])).Node
		return nil
	})
}

func constOf(val common.Value) *pg_query.Node {
	switch val.Kind {
	case common.KindNull:
		return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{Isnull: true}}}
	case common.KindInt:
		return intConst(val.I64)
	case common.KindFloat:
		return floatConst(strconv.FormatFloat(val.F64, 'f', -1, 64))
	case common.KindDecimal:
		return floatConst(val.Dec.String())
	case common.KindBool:
		return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
			Val: &pg_query.A_Const_Boolval{Boolval: &pg_query.Boolean{Boolval: val.Bool}},
		}}}
	case common.KindTime:
		return strConst(val.Time.Format(time.RFC3339Nano))
	default:
		return strConst(val.String())
	}
}

func strConst(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val: &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: s}},
	}}}
}
