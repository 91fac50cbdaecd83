// Package branchlock serializes writes to a single branch.
// write_manifest, write_account and remove_account each mutate one
// branch; two writers racing on the same branch would produce a lost
// update, so each of them takes the branch's lock for the duration of
// its read-modify-write-push sequence (spec.md §5, "per-branch
// serialization"). prune_expired_tags only deletes tags and takes no
// branch lock.
//
// Grounded on the teacher's internal/repo.CIDSet: a mutex-guarded map,
// here holding one *sync.Mutex per key instead of a struct{}, with the
// same lazy-insert-under-lock idiom.
package branchlock

import "sync"

// Map lazily allocates one mutex per branch name and hands out a
// release function from Lock, so callers never need to see the mutex
// itself.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMap returns an empty branch lock map.
func NewMap() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

func (m *Map) branchMutex(branch string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[branch]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[branch] = lk
	}
	return lk
}

// Lock blocks until branch's lock is held, and returns a function that
// releases it. Callers should defer the returned function immediately:
//
//	unlock := locks.Lock(branch)
//	defer unlock()
func (m *Map) Lock(branch string) (unlock func()) {
	lk := m.branchMutex(branch)
	lk.Lock()
	return lk.Unlock
}

// TryLock attempts to acquire branch's lock without blocking. On success
// it returns a release function and true; on failure it returns a nil
// function and false. The archive and vault write paths use Lock, not
// TryLock.
func (m *Map) TryLock(branch string) (unlock func(), ok bool) {
	lk := m.branchMutex(branch)
	if !lk.TryLock() {
		return nil, false
	}
	return lk.Unlock, true
}
