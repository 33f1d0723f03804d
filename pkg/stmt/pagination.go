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

package stmt

import "fmt"

// PaginationClause is one of NoPagination, *LimitClause, *TopClause and *RowNumberClause.
type PaginationClause interface {
	isPagination()
}

type NoPagination struct{}

// NumberSegment is a literal number or a bound parameter marker.
type NumberSegment struct {
	Value int64
	// Param is the 0-based parameter index when Parameterized.
	Param         int
	Parameterized bool
}

func Literal(v int64) *NumberSegment {
	return &NumberSegment{Value: v}
}

func Param(idx int) *NumberSegment {
	return &NumberSegment{Param: idx, Parameterized: true}
}

func (seg *NumberSegment) String() string {
	if seg.Parameterized {
		return fmt.Sprintf("$%d", seg.Param+1)
	}
	return fmt.Sprintf("%d", seg.Value)
}

// LimitClause is LIMIT/OFFSET. Either side may be absent.
type LimitClause struct {
	Offset   *NumberSegment
	RowCount *NumberSegment
}

type CompareOp uint8

const (
	OpEqual CompareOp = iota
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	default:
		panic("usp")
	}
}

// RowNumberPredicate is one `column op value` comparison of an AND chain.
type RowNumberPredicate struct {
	Column string
	Op     CompareOp
	Value  NumberSegment
}

// TopClause is SQL Server TOP with the row number predicates of the enclosing WHERE.
type TopClause struct {
	RowCount       NumberSegment
	RowNumberAlias string
	Predicates     []RowNumberPredicate
}

// RowNumberClause is the Oracle ROWNUM predicates of a WHERE.
type RowNumberClause struct {
	RowNumberAlias string
	Predicates     []RowNumberPredicate
}

func (NoPagination) isPagination()     {}
func (*LimitClause) isPagination()     {}
func (*TopClause) isPagination()       {}
func (*RowNumberClause) isPagination() {}
