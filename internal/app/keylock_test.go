package app

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLock_SerializesSameCode(t *testing.T) {
	k := newKeyLock()
	unlock := k.Lock("AAAAAA")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("AAAAAA")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestKeyLock_IndependentCodes(t *testing.T) {
	k := newKeyLock()
	unlockA := k.Lock("AAAAAA")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		k.Lock("BBBBBB")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another code blocked")
	}
}

func TestKeyLock_ForgetsIdleCodes(t *testing.T) {
	k := newKeyLock()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("CCCCCC")
			unlock()
			unlock() // double unlock is a no-op
		}()
	}
	wg.Wait()
	if n := k.size(); n != 0 {
		t.Fatalf("size=%d, want 0", n)
	}
}
