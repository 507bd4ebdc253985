package lsprpc

import "sync"

// msgQueue is the unbounded FIFO between the dispatcher and the writer
// loop. Push never blocks; Pop blocks until a message or close. Outbound
// order is the push order, which is what gives the connection its
// in-order write guarantee.
type msgQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

func newMsgQueue() *msgQueue {
	q := &msgQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a message. It fails with ErrShutdown once the queue is
// closed.
func (q *msgQueue) Push(msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrShutdown
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
	return nil
}

// Pop removes and returns the oldest message, blocking while the queue is
// empty. It returns ok=false once the queue is closed and drained.
func (q *msgQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return "", false
		}
		q.cond.Wait()
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// Close marks the queue closed and wakes all waiters. Queued messages are
// discarded; nothing further should reach the server once the connection
// is being torn down.
func (q *msgQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}
