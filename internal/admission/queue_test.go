package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSingleQueuePacing(t *testing.T) {
	q := NewSingleQueue(40*time.Millisecond, zerolog.Nop())
	defer q.Close()

	start := time.Now()
	var admitted []time.Duration
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			assert.NoError(t, q.Request(context.Background(), shard))
			mu.Lock()
			admitted = append(admitted, time.Since(start))
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, admitted, 5)

	// Four waits separate the first admission from the fifth.
	var last time.Duration
	for _, d := range admitted {
		if d > last {
			last = d
		}
	}
	assert.GreaterOrEqual(t, last, 4*40*time.Millisecond)
}

func TestConcurrentQueueAllowsParallelBuckets(t *testing.T) {
	q := NewConcurrentQueue(3, 50*time.Millisecond, zerolog.Nop())
	defer q.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for shard := 0; shard < 3; shard++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			assert.NoError(t, q.Request(context.Background(), shard))
		}(shard)
	}
	wg.Wait()

	// All three belong to distinct buckets, so all should admit near-instantly.
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestSingleQueueClosedAdmitsImmediately(t *testing.T) {
	q := NewSingleQueue(time.Second, zerolog.Nop())
	q.Close()

	err := q.Request(context.Background(), 0)
	assert.NoError(t, err)
}

func TestSingleQueueRespectsContextCancellation(t *testing.T) {
	q := NewSingleQueue(time.Second, zerolog.Nop())
	defer q.Close()

	// Consume the first free slot so the next request actually has to wait.
	assert.NoError(t, q.Request(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Request(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
