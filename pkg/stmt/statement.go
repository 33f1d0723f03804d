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

import (
	"strconv"
	"strings"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/shardmerge/pkg/common"
)

type Kind uint8

const (
	KindSelect Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindCreateView
	KindAlterView
	KindDropView
	KindDeclareCursor
	KindFetch
	KindMove
	KindCloseCursor
	KindDDL
	KindTCL
	KindSet
	KindOther
)

var kindNames = map[Kind]string{
	KindSelect:        "SELECT",
	KindInsert:        "INSERT",
	KindUpdate:        "UPDATE",
	KindDelete:        "DELETE",
	KindCreateView:    "CREATE VIEW",
	KindAlterView:     "ALTER VIEW",
	KindDropView:      "DROP VIEW",
	KindDeclareCursor: "DECLARE CURSOR",
	KindFetch:         "FETCH",
	KindMove:          "MOVE",
	KindCloseCursor:   "CLOSE CURSOR",
	KindDDL:           "DDL",
	KindTCL:           "TCL",
	KindSet:           "SET",
	KindOther:         "OTHER",
}

func (k Kind) String() string {
	if name, has := kindNames[k]; has {
		return name
	}
	panic("usp")
}

func (k Kind) IsView() bool {
	return k == KindCreateView || k == KindAlterView || k == KindDropView
}

func (k Kind) IsCursor() bool {
	return k == KindDeclareCursor || k == KindFetch || k == KindMove || k == KindCloseCursor
}

func (k Kind) IsDML() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// ReturnsRows reports whether the client expects a row stream.
func (k Kind) ReturnsRows() bool {
	return k == KindSelect || k == KindFetch
}

type TableRef struct {
	Name  string
	Alias string
}

type OrderByKind uint8

const (
	// OrderByColumn references a column by name.
	OrderByColumn OrderByKind = iota
	// OrderByIndex references a select list position.
	OrderByIndex
	// OrderByExpression is any other expression. It is compared case sensitively.
	OrderByExpression
)

type OrderByItem struct {
	Kind OrderByKind
	// Owner and Name are set for OrderByColumn.
	Owner string
	Name  string
	// Position is the 1-based select list position of OrderByIndex.
	Position int
	// Text is the expression text of OrderByExpression.
	Text       string
	Direction  common.Direction
	NullsOrder common.NullsOrder
	// Index is the 0-based result column of the item, -1 until resolved.
	Index int
	// Alias labels the derived column added when the item is not projected.
	Alias string
}

// ColumnLabel is the label the item is looked up by in the result metadata.
func (item *OrderByItem) ColumnLabel() string {
	if item.Alias != "" {
		return item.Alias
	}
	switch item.Kind {
	case OrderByColumn:
		return item.Name
	case OrderByIndex:
		return ""
	case OrderByExpression:
		return item.Text
	default:
		panic("usp")
	}
}

func (item *OrderByItem) String() string {
	var sb strings.Builder
	switch item.Kind {
	case OrderByColumn:
		if item.Owner != "" {
			sb.WriteString(item.Owner)
			sb.WriteByte('.')
		}
		sb.WriteString(item.Name)
	case OrderByIndex:
		sb.WriteString("#")
		sb.WriteString(strconv.Itoa(item.Position))
	case OrderByExpression:
		sb.WriteString(item.Text)
	default:
		panic("usp")
	}
	sb.WriteByte(' ')
	sb.WriteString(item.Direction.String())
	sb.WriteByte(' ')
	sb.WriteString(item.NullsOrder.String())
	return sb.String()
}

type AggregationType uint8

const (
	AggCount AggregationType = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (typ AggregationType) String() string {
	switch typ {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		panic("usp")
	}
}

// AggregationTypeOf maps a function name to its aggregation type.
func AggregationTypeOf(name string) (AggregationType, bool) {
	switch strings.ToLower(name) {
	case "count":
		return AggCount, true
	case "sum":
		return AggSum, true
	case "avg":
		return AggAvg, true
	case "min":
		return AggMin, true
	case "max":
		return AggMax, true
	}
	return 0, false
}

type AggregationItem struct {
	Type AggregationType
	// Expression is the argument text, "*" for COUNT(*).
	Expression string
	Distinct   bool
	Alias      string
	// Index is the 0-based result column of the aggregation.
	Index int
	// Derived holds the COUNT and SUM an AVG is recombined from.
	Derived []*AggregationItem
}

// DerivedPair returns the derived COUNT and SUM of an AVG item.
func (item *AggregationItem) DerivedPair() (count, sum *AggregationItem, ok bool) {
	if item.Type != AggAvg || len(item.Derived) != 2 {
		return nil, nil, false
	}
	for _, d := range item.Derived {
		switch d.Type {
		case AggCount:
			if count != nil {
				return nil, nil, false
			}
			count = d
		case AggSum:
			if sum != nil {
				return nil, nil, false
			}
			sum = d
		default:
			return nil, nil, false
		}
	}
	return count, sum, count != nil && sum != nil
}

func (item *AggregationItem) Text() string {
	var sb strings.Builder
	sb.WriteString(item.Type.String())
	sb.WriteByte('(')
	if item.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(item.Expression)
	sb.WriteByte(')')
	return sb.String()
}

type Projection struct {
	// Text is the expression as written.
	Text  string
	Alias string
	// Owner and Column are set when the projection is a plain column reference.
	Owner       string
	Column      string
	Star        bool
	Aggregation *AggregationItem
	// Derived projections are appended for the shards only and hidden from the client.
	Derived bool
}

// Label is the column label the projection produces.
func (p *Projection) Label() string {
	if p.Alias != "" {
		return p.Alias
	}
	if p.Column != "" {
		return p.Column
	}
	if p.Aggregation != nil {
		return strings.ToLower(p.Aggregation.Type.String())
	}
	return p.Text
}

type CursorSpec struct {
	Name      string
	Direction FetchDirection
	// Count is the row count of a FETCH FORWARD n.
	Count int64
}

type FetchDirection uint8

const (
	FetchForward FetchDirection = iota
	FetchAll
	FetchBackward
	FetchAbsolute
	FetchRelative
)

func (d FetchDirection) String() string {
	switch d {
	case FetchForward:
		return "FORWARD"
	case FetchAll:
		return "ALL"
	case FetchBackward:
		return "BACKWARD"
	case FetchAbsolute:
		return "ABSOLUTE"
	case FetchRelative:
		return "RELATIVE"
	default:
		panic("usp")
	}
}

// Statement is a parsed statement bound to the logical schema.
type Statement struct {
	Kind         Kind
	SQL          string
	Tables       []TableRef
	Projections  []*Projection
	Aggregations []*AggregationItem
	GroupBy      []*OrderByItem
	OrderBy      []*OrderByItem
	Distinct     bool
	Pagination   PaginationClause
	Cursor       *CursorSpec
	// ViewName is set for view ddl.
	ViewName string
	Params   []any
}

// TableNames returns the lower cased logical table names in reference order, without duplicates.
func (s *Statement) TableNames() []string {
	ret := make([]string, 0, len(s.Tables))
	seen := make(map[string]bool, len(s.Tables))
	for _, tab := range s.Tables {
		name := strings.ToLower(tab.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		ret = append(ret, name)
	}
	return ret
}

// TableOfAlias returns the table an owner qualifier refers to.
func (s *Statement) TableOfAlias(owner string) (string, bool) {
	for _, tab := range s.Tables {
		if strings.EqualFold(tab.Alias, owner) || strings.EqualFold(tab.Name, owner) {
			return strings.ToLower(tab.Name), true
		}
	}
	return "", false
}

func (s *Statement) HasStar() bool {
	for _, p := range s.Projections {
		if p.Star {
			return true
		}
	}
	return false
}

func (s *Statement) DerivedColumnCount() int {
	cnt := 0
	for _, p := range s.Projections {
		if p.Derived {
			cnt++
		}
	}
	return cnt
}

// IsGroupedQuery reports whether the rows must be regrouped after the merge.
func (s *Statement) IsGroupedQuery() bool {
	return len(s.GroupBy) != 0 || len(s.Aggregations) != 0
}

// HasPagination reports whether the statement carries any pagination clause.
func (s *Statement) HasPagination() bool {
	if s.Pagination == nil {
		return false
	}
	_, none := s.Pagination.(NoPagination)
	return !none
}

// Clone deep copies the statement so rewrites never touch the original.
func (s *Statement) Clone() *Statement {
	return clone.Clone(s).(*Statement)
}
