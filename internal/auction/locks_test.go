package auction

import (
	"sync"
	"testing"
)

func TestItemLocks_SerialisesPerItem(t *testing.T) {
	l := newItemLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("item-1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := l.size(); n != 0 {
		t.Errorf("lock entries left = %d, want 0", n)
	}
}

func TestItemLocks_IndependentItems(t *testing.T) {
	l := newItemLocks()
	unlockA := l.lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
	if n := l.size(); n != 0 {
		t.Errorf("lock entries left = %d, want 0", n)
	}
}
