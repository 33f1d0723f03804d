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
	"io"
	"sort"
	"strings"

	"github.com/daviszhen/shardmerge/pkg/common"
	"github.com/daviszhen/shardmerge/pkg/util"
)

// CursorStore keeps the fetch merge state of the open cursors of one
// session, keyed by lower cased cursor name. Safe for concurrent use.
type CursorStore struct {
	lock   *util.ReentryLock
	states map[string]io.Closer
	closed bool
}

func NewCursorStore() *CursorStore {
	return &CursorStore{
		lock:   util.NewReentryLock(),
		states: make(map[string]io.Closer),
	}
}

func key(name string) string {
	return strings.ToLower(name)
}

func (store *CursorStore) Load(name string) (io.Closer, bool) {
	store.lock.Lock()
	defer store.lock.Unlock()
	state, has := store.states[key(name)]
	return state, has
}

// Store registers the state of a newly declared cursor. A cursor with the
// same name is closed and replaced.
func (store *CursorStore) Store(name string, state io.Closer) error {
	store.lock.Lock()
	defer store.lock.Unlock()
	if store.closed {
		return errors.Join(ErrSessionClosed, state.Close())
	}
	var err error
	if old, has := store.states[key(name)]; has {
		err = old.Close()
	}
	store.states[key(name)] = state
	return err
}

// Remove closes and forgets the cursor.
func (store *CursorStore) Remove(name string) error {
	store.lock.Lock()
	defer store.lock.Unlock()
	state, has := store.states[key(name)]
	if !has {
		return common.ErrCursorNotFound
	}
	delete(store.states, key(name))
	return state.Close()
}

func (store *CursorStore) Names() []string {
	return util.Guard(store.lock, func() []string {
		ret := make([]string, 0, len(store.states))
		for name := range store.states {
			ret = append(ret, name)
		}
		sort.Strings(ret)
		return ret
	})
}

func (store *CursorStore) Len() int {
	return util.Guard(store.lock, func() int {
		return len(store.states)
	})
}

// CloseAll closes every cursor. The store refuses new cursors afterwards.
func (store *CursorStore) CloseAll() error {
	store.lock.Lock()
	defer store.lock.Unlock()
	store.closed = true
	var errs []error
	for name, state := range store.states {
		if err := state.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(store.states, name)
	}
	return errors.Join(errs...)
}
