package util

import (
	"sync"

	"github.com/petermattis/goid"
)

// ReentryLock can be locked again by the goroutine that holds it.
// A cursor state closed under the store lock may call back into the store.
type ReentryLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

func NewReentryLock() *ReentryLock {
	lock := &ReentryLock{}
	lock.cond = sync.NewCond(&lock.mu)
	return lock
}

func (lock *ReentryLock) Lock() {
	gid := goid.Get()
	lock.mu.Lock()
	defer lock.mu.Unlock()
	for lock.depth != 0 && lock.owner != gid {
		lock.cond.Wait()
	}
	lock.owner = gid
	lock.depth++
}

func (lock *ReentryLock) Unlock() {
	gid := goid.Get()
	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.depth == 0 || lock.owner != gid {
		panic("unlock of unlocked mutex")
	}
	lock.depth--
	if lock.depth == 0 {
		lock.owner = 0
		lock.cond.Signal()
	}
}

// Held reports whether the calling goroutine owns the lock.
func (lock *ReentryLock) Held() bool {
	gid := goid.Get()
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.depth != 0 && lock.owner == gid
}

// Guard runs fn holding the lock.
func Guard[T any](lock *ReentryLock, fn func() T) T {
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

var _ sync.Locker = (*ReentryLock)(nil)
