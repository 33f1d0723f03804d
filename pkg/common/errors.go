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

package common

import (
	"errors"
	"fmt"
)

const (
	ClauseOrderBy = "Order by"
	ClauseGroupBy = "Group by"
)

var (
	// ErrNoDataSource means the rule has no data source to route to.
	ErrNoDataSource = errors.New("no available data source")
	// ErrAggregateInvariant means an AVG item reached the merger without its derived COUNT and SUM.
	ErrAggregateInvariant  = errors.New("avg aggregation misses derived count and sum columns")
	ErrCursorNotFound      = errors.New("cursor does not exist")
	ErrUnsupportedFetch    = errors.New("unsupported fetch direction")
	ErrNoRouteIntersection = errors.New("cannot find actual data source intersection for logic tables")
	ErrCrossShardJoin      = errors.New("sharded tables with different data nodes cannot be routed together")
)

// NotComparableError reports a sort or group key value without a natural ordering.
type NotComparableError struct {
	Clause string
	Value  Value
	Other  Value
}

func (e *NotComparableError) Error() string {
	clause := e.Clause
	if clause == "" {
		clause = "Sort"
	}
	if e.Other.Kind != KindNull {
		return fmt.Sprintf("%s value %v (%s) cannot be compared with %v (%s)",
			clause, e.Value, e.Value.Kind, e.Other, e.Other.Kind)
	}
	return fmt.Sprintf("%s value must implements comparable: %v (%s)", clause, e.Value, e.Value.Kind)
}

// InClause names the clause a comparison error came from.
// Other errors are returned unchanged.
func InClause(clause string, err error) error {
	var nc *NotComparableError
	if errors.As(err, &nc) && nc.Clause == "" {
		ret := *nc
		ret.Clause = clause
		return &ret
	}
	return err
}
