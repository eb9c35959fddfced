package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryTryAdd(t *testing.T) {
	r := newRegistry()

	assert.True(t, r.TryAdd("acme/widgets#7"))
	assert.False(t, r.TryAdd("acme/widgets#7"))
	assert.True(t, r.TryAdd("acme/widgets#8"))
	assert.Equal(t, 2, r.Len())

	r.Remove("acme/widgets#7")
	assert.True(t, r.TryAdd("acme/widgets#7"))
}

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	r := newRegistry()
	r.Remove("never-added")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAdd(t *testing.T) {
	r := newRegistry()

	const workers = 32
	wins := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.TryAdd("acme/widgets#7")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one goroutine may claim a PR")
}
