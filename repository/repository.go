// Package repository owns every mutation of stored sources.
//
// Mutations are queued and executed one at a time, in submission order, by a
// single writer goroutine. After each successful write the writer refreshes
// the cache before taking the next op, so the order in which refreshes observe
// storage always matches the order in which writes landed. Two ops on the same
// source (say update then delete) therefore always leave the cache showing the
// outcome of the later one.
//
// Submitting never blocks on storage. Each submission returns an *Op that can
// be awaited or cancelled. Close drains the queue: queued ops run to
// completion unless the shutdown context expires first, in which case
// unstarted ops fail with ErrShutdown and the running op's context is
// cancelled.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/model"
	"github.com/robertmeta/saveit/store"
)

var (
	// ErrClosed is returned for ops submitted after Close.
	ErrClosed = errors.New("repository is closed")
	// ErrCancelled is returned for ops cancelled before they started.
	ErrCancelled = errors.New("operation cancelled")
	// ErrShutdown is returned for queued ops abandoned by Close.
	ErrShutdown = errors.New("repository shut down before operation ran")
)

// Gateway performs the durable writes.
type Gateway interface {
	CreateSource(ctx context.Context, src model.Source) (int64, error)
	UpdateSource(ctx context.Context, id int64, src model.Source) error
	DeleteSource(ctx context.Context, id int64) error
}

// Refresher reloads the read cache after a write.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Repository serializes mutations and their cache refreshes.
type Repository struct {
	gw        Gateway
	refresher Refresher
	log       logger.Logger

	mu     sync.Mutex // guards seq and closed
	seq    uint64
	closed bool

	queue      *opQueue
	shutdown   context.Context
	abort      context.CancelFunc
	workerDone chan struct{}
	closeOnce  sync.Once
}

// New starts the writer goroutine. Call Close to stop it.
func New(gw Gateway, r Refresher, log logger.Logger) *Repository {
	if log == nil {
		log = logger.NewNop()
	}
	shutdown, abort := context.WithCancel(context.Background())
	repo := &Repository{
		gw:         gw,
		refresher:  r,
		log:        log.With(logger.String("component", "repository")),
		queue:      newOpQueue(),
		shutdown:   shutdown,
		abort:      abort,
		workerDone: make(chan struct{}),
	}
	go repo.run()
	return repo
}

// CreateAsync queues the insertion of src. The ID in src is ignored.
func (r *Repository) CreateAsync(ctx context.Context, src model.Source) *Op {
	return r.submit(newOp(ctx, KindCreate, model.NewID, src))
}

// UpdateAsync queues replacing every field of source id with src.
func (r *Repository) UpdateAsync(ctx context.Context, id int64, src model.Source) *Op {
	src.ID = id
	return r.submit(newOp(ctx, KindUpdate, id, src))
}

// DeleteAsync queues the removal of source id.
func (r *Repository) DeleteAsync(ctx context.Context, id int64) *Op {
	return r.submit(newOp(ctx, KindDelete, id, model.Source{}))
}

// Create inserts src and waits for the write and the cache refresh.
func (r *Repository) Create(ctx context.Context, src model.Source) (int64, error) {
	return r.CreateAsync(ctx, src).Wait(ctx)
}

// Update replaces source id and waits for the write and the cache refresh.
func (r *Repository) Update(ctx context.Context, id int64, src model.Source) error {
	_, err := r.UpdateAsync(ctx, id, src).Wait(ctx)
	return err
}

// Delete removes source id and waits for the write and the cache refresh.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.DeleteAsync(ctx, id).Wait(ctx)
	return err
}

// Pending returns the number of queued ops not yet started.
func (r *Repository) Pending() int {
	return r.queue.len()
}

func (r *Repository) submit(op *Op) *Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		op.abort(ErrClosed)
		return op
	}
	r.seq++
	op.seq = r.seq
	r.queue.push(op)

	r.log.Debug("Queued op",
		logger.String("op", string(op.kind)),
		logger.Uint64("seq", op.seq),
		logger.Int64("id", op.id),
	)
	return op
}

// Close stops accepting ops and waits for the queue to drain. If ctx ends
// first, unstarted ops fail with ErrShutdown, the running op is cancelled,
// and ctx's error is returned once the writer has exited.
func (r *Repository) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.queue.close()
	})

	select {
	case <-r.workerDone:
		r.abort()
		return nil
	case <-ctx.Done():
	}

	dropped := 0
	for _, op := range r.queue.drain() {
		if op.abort(ErrShutdown) {
			dropped++
		}
	}
	r.abort()
	<-r.workerDone

	r.log.Warn("Shutdown deadline reached",
		logger.Int("abandoned_ops", dropped),
		logger.Err(ctx.Err()),
	)
	return ctx.Err()
}

func (r *Repository) run() {
	defer close(r.workerDone)

	for {
		op, ok, done := r.queue.pop()
		if done {
			return
		}
		if !ok {
			select {
			case <-r.queue.signal:
			case <-r.shutdown.Done():
			}
			continue
		}
		r.execute(op)
	}
}

func (r *Repository) execute(op *Op) {
	if !op.start() {
		return
	}
	log := r.log.With(
		logger.String("op", string(op.kind)),
		logger.Uint64("seq", op.seq),
		logger.Int64("id", op.id),
	)

	if err := op.ctx.Err(); err != nil {
		op.finish(model.NewID, fmt.Errorf("%w: %w", ErrCancelled, err))
		return
	}

	ctx, cancel := context.WithCancel(op.ctx)
	defer cancel()
	stop := context.AfterFunc(r.shutdown, cancel)
	defer stop()

	id, err := r.write(ctx, op)
	if err != nil {
		log.Warn("Write failed, cache unchanged", logger.Err(err))
		op.finish(id, err)
		return
	}

	if err := r.refresher.Refresh(ctx); err != nil {
		log.Warn("Write committed but cache refresh failed", logger.Int64("id", id), logger.Err(err))
		op.finish(id, store.NewError("refresh", id, store.KindRefresh, err))
		return
	}

	log.Debug("Op completed", logger.Int64("result_id", id))
	op.finish(id, nil)
}

func (r *Repository) write(ctx context.Context, op *Op) (int64, error) {
	switch op.kind {
	case KindCreate:
		if err := op.src.Validate(); err != nil {
			return model.NewID, store.NewError("create", model.NewID, store.KindConstraint, err)
		}
		return r.gw.CreateSource(ctx, op.src)

	case KindUpdate:
		if op.id < 0 {
			return op.id, store.NewError("update", op.id, store.KindNotFound, store.ErrNotFound)
		}
		if err := op.src.Validate(); err != nil {
			return op.id, store.NewError("update", op.id, store.KindConstraint, err)
		}
		return op.id, r.gw.UpdateSource(ctx, op.id, op.src)

	case KindDelete:
		if op.id < 0 {
			return op.id, store.NewError("delete", op.id, store.KindNotFound, store.ErrNotFound)
		}
		return op.id, r.gw.DeleteSource(ctx, op.id)
	}
	return model.NewID, fmt.Errorf("unknown op kind %q", op.kind)
}
