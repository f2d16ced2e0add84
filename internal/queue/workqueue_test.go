package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_PushPopFIFO(t *testing.T) {
	q := New()
	q.Push(Item{Request: 1})
	q.Push(Item{Request: 2})
	q.Push(Item{Request: 3})

	require.Equal(t, 3, q.Size())

	for _, want := range []int{1, 2, 3} {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, item.Request)
	}
	assert.True(t, q.Empty())
}

func TestWorkQueue_PopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan Item, 1)

	go func() {
		item, ok := q.Pop()
		require.True(t, ok)
		done <- item
	}()

	time.Sleep(20 * time.Millisecond) // give Pop time to start waiting
	q.Push(Item{Request: "hello"})

	select {
	case item := <-done:
		assert.Equal(t, "hello", item.Request)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestWorkQueue_ShutdownDrainsThenClosesPop(t *testing.T) {
	q := New()
	q.Push(Item{Request: 1})
	q.Push(Item{Request: 2})
	q.Shutdown()

	// Items queued before shutdown must still be poppable.
	_, ok := q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.True(t, ok)

	// Once drained and shut down, Pop returns immediately with ok=false.
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestWorkQueue_PushAfterShutdownIsNoOp(t *testing.T) {
	q := New()
	q.Shutdown()
	q.Push(Item{Request: 1})
	assert.True(t, q.Empty())

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestWorkQueue_ShutdownIsIdempotentAndWakesAllConsumers(t *testing.T) {
	q := New()
	const consumers = 8

	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			assert.False(t, ok)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	q.Shutdown() // idempotent

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("not all consumers woke up after shutdown")
	}
}

func TestWorkQueue_ConcurrentProducersNoLostItems(t *testing.T) {
	q := New()
	const producers = 10
	const perProducer = 200

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(Item{Request: p*perProducer + i})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < producers*perProducer; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		seen[item.Request.(int)] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
