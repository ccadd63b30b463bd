package memory

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUserLocksSerializeSameUser(t *testing.T) {
	l := newUserLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("u1")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	if n := l.len(); n != 0 {
		t.Fatalf("len() = %d after release, want 0", n)
	}
}

func TestUserLocksDifferentUsersDoNotBlock(t *testing.T) {
	l := newUserLocks()
	unlockA := l.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock(b) blocked behind lock(a)")
	}
	if n := l.len(); n != 1 {
		t.Fatalf("len() = %d, want 1", n)
	}
}
