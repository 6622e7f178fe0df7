package mainloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInPostOrder(t *testing.T) {
	loop := New()
	stop := loop.Start()
	defer stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Do(func() {})

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopSerializesConcurrentPosts(t *testing.T) {
	loop := New()
	stop := loop.Start()
	defer stop()

	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				loop.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	loop.Do(func() { final = counter })
	assert.Equal(t, 2000, final)
}

func TestPostFromInsideLoop(t *testing.T) {
	loop := New()
	stop := loop.Start()
	defer stop()

	done := make(chan struct{})
	loop.Post(func() {
		loop.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestPendingBeforeStart(t *testing.T) {
	loop := New()
	loop.Post(func() {})
	loop.Post(func() {})
	loop.Post(nil)
	assert.Equal(t, 2, loop.Pending())

	stop := loop.Start()
	defer stop()
	loop.Do(func() {})
	assert.Equal(t, 0, loop.Pending())
}
