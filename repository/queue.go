package repository

import "sync"

// opQueue is an unbounded FIFO of pending operations.
//
// Producers never block, so submitting from a UI loop cannot stall on
// storage. The single worker waits on signal, which has a buffer of one and
// coalesces wakeups.
type opQueue struct {
	mu     sync.Mutex
	ops    []*Op
	closed bool
	signal chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{
		ops:    make([]*Op, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends op. It returns false once the queue is closed.
func (q *opQueue) push(op *Op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.ops = append(q.ops, op)
	q.notify()
	return true
}

// pop removes the front op. done is true when the queue is closed and empty,
// which tells the worker to exit.
func (q *opQueue) pop() (op *Op, ok bool, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false, q.closed
	}
	op = q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]
	return op, true, false
}

// close stops accepting ops. Queued ops are still handed out by pop.
func (q *opQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notify()
}

// drain removes and returns every queued op.
func (q *opQueue) drain() []*Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil
	return ops
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// notify must be called with mu held.
func (q *opQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
