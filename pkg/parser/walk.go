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

package parser

import (
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Walk visits every message of the tree depth first, parents before
// children. A parent may replace its children in fn.
func Walk(m proto.Message, fn func(proto.Message) error) error {
	return walk(m.ProtoReflect(), fn)
}

func walk(m protoreflect.Message, fn func(proto.Message) error) error {
	if err := fn(m.Interface()); err != nil {
		return err
	}
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.IsMap() || fd.Message() == nil {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len() && err == nil; i++ {
				err = walk(list.Get(i).Message(), fn)
			}
		} else {
			err = walk(v.Message(), fn)
		}
		return err == nil
	})
	return err
}

// ParamCount is the highest $n the query references.
func (q *Query) ParamCount() int {
	cnt := 0
	_ = Walk(q.Tree, func(msg proto.Message) error {
		if ref, ok := msg.(*pg_query.ParamRef); ok && int(ref.Number) > cnt {
			cnt = int(ref.Number)
		}
		return nil
	})
	return cnt
}
