package branchlock

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestLockSerializesSameBranch(t *testing.T) {
	locks := NewMap()

	unlock := locks.Lock("440")
	acquired := make(chan struct{})
	go func() {
		u := locks.Lock("440")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after unlock")
	}
}

func TestDistinctBranchesDoNotContend(t *testing.T) {
	is := is.New(t)
	locks := NewMap()

	unlockA := locks.Lock("440")
	_, ok := locks.TryLock("730")
	is.True(ok)
	unlockA()
}

func TestTryLockFailsWhileHeld(t *testing.T) {
	is := is.New(t)
	locks := NewMap()

	unlock := locks.Lock("440")
	_, ok := locks.TryLock("440")
	is.True(!ok)
	unlock()

	u2, ok := locks.TryLock("440")
	is.True(ok)
	u2()
}
