package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("conv-1")
			defer unlock()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.Len())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()

	assert.Equal(t, 0, km.Len())
}

func TestUnlockIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("a")
	unlock()
	unlock()

	// Key is usable again afterwards.
	unlock2 := km.Lock("a")
	unlock2()
	assert.Equal(t, 0, km.Len())
}

func TestEntriesCleanedUpAfterRelease(t *testing.T) {
	km := NewKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := km.Lock(string(rune('a' + n)))
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, km.Len())
}
