// Package admission paces shard identify calls under the upstream gateway's
// max_concurrency rule. It is grounded on the single/large-bot queue pair in
// the Rust original (src/utils.rs: LocalQueue, LargeBotQueue) and on the
// teacher's gateway.Manager.WaitForIdentifyRatelimit call site.
package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Queue paces admission of shard identify attempts.
type Queue interface {
	// Request blocks until the caller is admitted to identify shardID.
	// Every completed call must be followed by a real identify attempt.
	Request(ctx context.Context, shardID int) error

	// Close stops the pacer goroutines. In-flight waiters are released
	// immediately (soft-fail: Request then returns nil and logs a warning).
	Close()
}

type ticket struct {
	done chan struct{}
}

// singleQueue is one FIFO bucket: every admission sleeps wait after
// releasing a waiter, guaranteeing >= wait between admissions.
type singleQueue struct {
	requests chan ticket
	closed   chan struct{}
	log      zerolog.Logger
}

// NewSingleQueue creates a single-bucket admission queue pacing at wait
// between admissions.
func NewSingleQueue(wait time.Duration, log zerolog.Logger) Queue {
	q := &singleQueue{
		requests: make(chan ticket),
		closed:   make(chan struct{}),
		log:      log,
	}
	go q.pace(wait)
	return q
}

func (q *singleQueue) pace(wait time.Duration) {
	for {
		select {
		case t, ok := <-q.requests:
			if !ok {
				return
			}
			close(t.done)
			time.Sleep(wait)
		case <-q.closed:
			return
		}
	}
}

func (q *singleQueue) Request(ctx context.Context, shardID int) error {
	t := ticket{done: make(chan struct{})}

	select {
	case q.requests <- t:
	case <-q.closed:
		q.log.Warn().Int("shard", shardID).Msg("admission queue closed, admitting immediately")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *singleQueue) Close() {
	close(q.closed)
}

// concurrentQueue fans shard ids out across `buckets` independent FIFOs by
// shard_id mod buckets, allowing up to `buckets` admissions per `wait`.
type concurrentQueue struct {
	buckets []Queue
}

// NewConcurrentQueue creates a large-bot admission queue with the given
// number of independent pacing buckets.
func NewConcurrentQueue(buckets int, wait time.Duration, log zerolog.Logger) Queue {
	if buckets <= 1 {
		return NewSingleQueue(wait, log)
	}

	cq := &concurrentQueue{buckets: make([]Queue, buckets)}
	for i := range cq.buckets {
		cq.buckets[i] = NewSingleQueue(wait, log)
	}

	return cq
}

func (q *concurrentQueue) Request(ctx context.Context, shardID int) error {
	bucket := shardID % len(q.buckets)
	return q.buckets[bucket].Request(ctx, shardID)
}

func (q *concurrentQueue) Close() {
	for _, b := range q.buckets {
		b.Close()
	}
}
