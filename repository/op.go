package repository

import (
	"context"
	"sync/atomic"

	"github.com/robertmeta/saveit/model"
)

// Kind names the mutation an Op performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

const (
	statePending int32 = iota
	stateRunning
	stateDone
)

// Op is a handle to a queued mutation. It can be awaited and, until the
// worker picks it up, cancelled.
type Op struct {
	kind Kind
	seq  uint64
	id   int64
	src  model.Source
	ctx  context.Context

	state atomic.Int32
	done  chan struct{}

	// Written once before done is closed.
	resultID int64
	err      error
}

func newOp(ctx context.Context, kind Kind, id int64, src model.Source) *Op {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Op{
		kind: kind,
		id:   id,
		src:  src,
		ctx:  ctx,
		done: make(chan struct{}),
	}
}

// Kind returns the mutation type.
func (o *Op) Kind() Kind { return o.kind }

// Seq is the op's position in the writer queue. Ops rejected at submission
// have sequence 0.
func (o *Op) Seq() uint64 { return o.seq }

// Done is closed when the op has finished, failed or been cancelled.
func (o *Op) Done() <-chan struct{} { return o.done }

// Wait blocks until the op finishes or ctx is done. It returns the source ID
// (the new ID for creates) and the op's error. A ctx error only means the
// caller stopped waiting; the op itself keeps its place in the queue.
func (o *Op) Wait(ctx context.Context) (int64, error) {
	// A finished op always reports its result, even to a done ctx.
	select {
	case <-o.done:
		return o.resultID, o.err
	default:
	}

	select {
	case <-o.done:
		return o.resultID, o.err
	case <-ctx.Done():
		return model.NewID, ctx.Err()
	}
}

// Err returns the final error, or nil while the op is still pending.
func (o *Op) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Cancel removes the op from the queue if it has not started. It reports
// whether the cancellation took effect; a running op always completes.
func (o *Op) Cancel() bool {
	if !o.state.CompareAndSwap(statePending, stateDone) {
		return false
	}
	o.resultID, o.err = model.NewID, ErrCancelled
	close(o.done)
	return true
}

// start moves the op to running. It fails if the op was cancelled.
func (o *Op) start() bool {
	return o.state.CompareAndSwap(statePending, stateRunning)
}

// abort finishes a pending op with err. Running ops are left alone.
func (o *Op) abort(err error) bool {
	if !o.state.CompareAndSwap(statePending, stateDone) {
		return false
	}
	o.resultID, o.err = model.NewID, err
	close(o.done)
	return true
}

// finish records the result of a running op.
func (o *Op) finish(id int64, err error) {
	o.resultID, o.err = id, err
	o.state.Store(stateDone)
	close(o.done)
}
