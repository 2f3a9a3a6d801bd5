package server

import (
	"errors"
	"sync"
)

var errWriteQueueClosed = errors.New("write queue closed")

// writeQueue serializes outbound frames toward a single transport writer.
// The worker goroutine enqueues; the write pump drains. Responses use
// enqueue, which blocks when the byte budget is exhausted. Pushes use
// tryEnqueue, which refuses instead of blocking once buffered bytes reach
// the high water mark.
type writeQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   [][]byte
	bytes    int
	budget   int
	closed   bool
	closeErr error
}

func newWriteQueue(budget int) *writeQueue {
	q := &writeQueue{budget: budget}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends a frame, waiting for capacity if needed. A single frame
// larger than the budget is still accepted when the queue is empty.
func (q *writeQueue) enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return q.closeErr
		}
		if q.bytes == 0 || q.bytes+len(frame) <= q.budget {
			q.frames = append(q.frames, frame)
			q.bytes += len(frame)
			q.cond.Broadcast()
			return nil
		}
		q.cond.Wait()
	}
}

// tryEnqueue appends a frame only if buffered bytes stay below the high
// water mark. It never blocks.
func (q *writeQueue) tryEnqueue(frame []byte, highWaterMark int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.bytes+len(frame) > highWaterMark {
		return false
	}
	q.frames = append(q.frames, frame)
	q.bytes += len(frame)
	q.cond.Broadcast()
	return true
}

// next blocks until a frame is available or the queue is closed.
func (q *writeQueue) next() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.bytes -= len(frame)
			q.cond.Broadcast()
			return frame, nil
		}
		if q.closed {
			return nil, q.closeErr
		}
		q.cond.Wait()
	}
}

// buffered returns the byte size of queued frames.
func (q *writeQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// drainClose rejects further enqueues but lets next keep serving the
// frames already queued. Used on orderly teardown so queued responses and
// system frames still reach the wire.
func (q *writeQueue) drainClose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.closeErr = errWriteQueueClosed
	q.cond.Broadcast()
}

// close rejects further enqueues, drops queued frames, and wakes all
// waiters. The transport is gone, so nothing buffered can be delivered.
func (q *writeQueue) close(err error) {
	if err == nil {
		err = errWriteQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.closeErr = err
	q.frames = nil
	q.bytes = 0
	q.cond.Broadcast()
}
