package scheduler

import (
	"context"
	"sync"

	"github.com/autobolt/runner/internal/models"
)

// queueItem is one directory's pending (or retried) attempt, waiting to be
// drawn by a worker.
type queueItem struct {
	directory models.DirectoryDescriptor
	failureRate float64
	attemptOrdinal int
	score float64
	retriesLeft int
}

// priorityQueue is four FIFO lanes (unbounded slices), one per bucket, composed by a
// strict-priority selector: a full priority heap is not required, and
// per-bucket FIFO order keeps draws deterministic on ties. Retries re-enter
// via Push at their boosted score, which may move them into a higher bucket.
type priorityQueue struct {
	mu sync.Mutex
	cond *sync.Cond
	buckets map[models.PriorityBucket][]*queueItem
	active int // items drawn but not yet finished
	closed bool // no more items will ever be pushed once drained
}

func newPriorityQueue() *priorityQueue {
	q:= &priorityQueue{buckets: make(map[models.PriorityBucket][]*queueItem)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues item at the tail of its score's bucket.
func (q *priorityQueue) Push(item *queueItem) {
	bucket:= models.BucketFor(item.score)
	q.mu.Lock()
	q.buckets[bucket] = append(q.buckets[bucket], item)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Close marks that no further items will be pushed once the queue drains;
// Pop then returns ok=false once all buckets are empty and nothing is active.
func (q *priorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Finish marks one previously-popped item as terminally done (no retry will
// follow), decrementing the active count that gates queue completion.
func (q *priorityQueue) Finish() {
	q.mu.Lock()
	q.active--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pop draws the next item in strict bucket-priority, within-bucket-FIFO
// order, blocking until one is available, the queue drains, or ctx is
// cancelled.
func (q *priorityQueue) Pop(ctx context.Context) (*queueItem, bool) {
	done:= make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		for _, bucket:= range models.BucketOrder() {
			items:= q.buckets[bucket]
			if len(items) > 0 {
				item:= items[0]
				q.buckets[bucket] = items[1:]
				q.active++
				return item, true
			}
		}
		if q.closed && q.active == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}
