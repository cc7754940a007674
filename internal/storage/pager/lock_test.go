package pager

import (
	"testing"
	"time"
)

func TestAcquirePathLockSharedAcrossHandles(t *testing.T) {
	path := "/tmp/lock-test-a.db"
	pl1 := acquirePathLock(path)
	pl2 := acquirePathLock(path)
	if pl1 != pl2 {
		t.Fatal("two acquirePathLock calls on the same path must return the same lock object")
	}
	releasePathLock(path)
	releasePathLock(path)
}

func TestReleasePathLockRemovesOnLastReference(t *testing.T) {
	path := "/tmp/lock-test-b.db"
	pl1 := acquirePathLock(path)
	releasePathLock(path)

	pl2 := acquirePathLock(path)
	defer releasePathLock(path)
	if pl1 == pl2 {
		t.Fatal("expected a fresh lock object once every prior reference was released")
	}
}

func TestPathLockDistinctPerPath(t *testing.T) {
	a := acquirePathLock("/tmp/lock-test-c1.db")
	b := acquirePathLock("/tmp/lock-test-c2.db")
	defer releasePathLock("/tmp/lock-test-c1.db")
	defer releasePathLock("/tmp/lock-test-c2.db")
	if a == b {
		t.Fatal("distinct paths must not share a lock object")
	}
}

func TestPathLockReaderWriterExclusion(t *testing.T) {
	path := "/tmp/lock-test-d.db"
	pl := acquirePathLock(path)
	defer releasePathLock(path)

	pl.RLock()
	pl.RLock() // multiple readers may hold the shared lock concurrently
	pl.RUnlock()
	pl.RUnlock()

	pl.Lock()
	done := make(chan struct{})
	go func() {
		pl.RLock() // must block until the writer unlocks
		pl.RUnlock()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("reader acquired the lock while a writer still held it")
	case <-time.After(20 * time.Millisecond):
	}
	pl.Unlock()
	<-done
}
