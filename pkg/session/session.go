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

package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/util"
)

// Session is the state of one client connection: the data sources it
// touched and its open cursors.
type Session struct {
	id      uuid.UUID
	created time.Time
	lock    *util.ReentryLock
	used    *btree.BTreeG[string]
	cursors *CursorStore
	closed  bool
}

func New() *Session {
	return &Session{
		id:      uuid.New(),
		created: time.Now(),
		lock:    util.NewReentryLock(),
		used:    btree.NewBTreeG[string](func(a, b string) bool { return a < b }),
		cursors: NewCursorStore(),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Created() time.Time {
	return s.created
}

// UsedDataSourceNames returns the data sources used so far, in name order.
func (s *Session) UsedDataSourceNames() []string {
	return util.Guard(s.lock, func() []string {
		ret := make([]string, 0, s.used.Len())
		s.used.Scan(func(name string) bool {
			ret = append(ret, name)
			return true
		})
		return ret
	})
}

// MarkUsed records the data sources a statement ran on.
func (s *Session) MarkUsed(names ...string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, name := range names {
		s.used.Set(name)
	}
}

func (s *Session) Cursors() *CursorStore {
	return s.cursors
}

// Close discards every open cursor. Calling it twice is a no-op.
func (s *Session) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	err := s.cursors.CloseAll()
	util.Debug("session closed",
		zap.Stringer("session", s.id),
		zap.Duration("age", time.Since(s.created)),
		zap.Error(err))
	return err
}

var ErrSessionClosed = errors.New("session is closed")
