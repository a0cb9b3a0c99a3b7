package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/robertmeta/saveit/cache"
	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/model"
	"github.com/robertmeta/saveit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memGateway is an in-memory gateway that records the order of writes and
// fetches. hold, when set, blocks every write until a value is received.
type memGateway struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]model.Source
	events  []string
	failErr error
	hold    chan struct{}
	started chan struct{}
	delay   time.Duration
}

func newMemGateway() *memGateway {
	return &memGateway{nextID: 1, rows: map[int64]model.Source{}}
}

func (g *memGateway) beforeWrite(ctx context.Context) error {
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
			return store.NewError("write", model.NewID, "", ctx.Err())
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return nil
}

func (g *memGateway) CreateSource(ctx context.Context, src model.Source) (int64, error) {
	if err := g.beforeWrite(ctx); err != nil {
		return model.NewID, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return model.NewID, store.NewError("create", model.NewID, store.KindConnection, g.failErr)
	}
	id := g.nextID
	g.nextID++
	src.ID = id
	g.rows[id] = src
	g.events = append(g.events, fmt.Sprintf("create:%d", id))
	return id, nil
}

func (g *memGateway) UpdateSource(ctx context.Context, id int64, src model.Source) error {
	if err := g.beforeWrite(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return store.NewError("update", id, store.KindConnection, g.failErr)
	}
	if _, ok := g.rows[id]; !ok {
		g.events = append(g.events, fmt.Sprintf("update:%d:missing", id))
		return store.NewError("update", id, store.KindNotFound, store.ErrNotFound)
	}
	src.ID = id
	g.rows[id] = src
	g.events = append(g.events, fmt.Sprintf("update:%d", id))
	return nil
}

func (g *memGateway) DeleteSource(ctx context.Context, id int64) error {
	if err := g.beforeWrite(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return store.NewError("delete", id, store.KindConnection, g.failErr)
	}
	if _, ok := g.rows[id]; !ok {
		g.events = append(g.events, fmt.Sprintf("delete:%d:missing", id))
		return store.NewError("delete", id, store.KindNotFound, store.ErrNotFound)
	}
	delete(g.rows, id)
	g.events = append(g.events, fmt.Sprintf("delete:%d", id))
	return nil
}

func (g *memGateway) GetAllSources(ctx context.Context) ([]model.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Source, 0, len(g.rows))
	for _, src := range g.rows {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	g.events = append(g.events, "fetch")
	return out, nil
}

func (g *memGateway) log() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

func (g *memGateway) setFail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}

// failingRefresher counts calls and fails when err is set.
type failingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingRefresher) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func validSource(title string) model.Source {
	return model.Source{
		ID:         model.NewID,
		Title:      title,
		URL:        "https://example.com/" + title,
		ViewedDate: model.Date(2024, time.January, 1),
	}
}

func newRepo(t *testing.T, gw *memGateway) (*Repository, *cache.Synchronizer) {
	t.Helper()
	cached := cache.New(gw, logger.NewNop())
	repo := New(gw, cached, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = repo.Close(ctx)
	})
	return repo, cached
}

func TestRepository_CreateRefreshesCache(t *testing.T) {
	gw := newMemGateway()
	repo, cached := newRepo(t, gw)
	ctx := context.Background()

	id, err := repo.Create(ctx, validSource("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, ok := cached.Get(id)
	require.True(t, ok, "created source should be in the snapshot")
	assert.Equal(t, "a", got.Title)
	assert.Equal(t, []string{"create:1", "fetch"}, gw.log())
}

func TestRepository_UpdateAndDelete(t *testing.T) {
	gw := newMemGateway()
	repo, cached := newRepo(t, gw)
	ctx := context.Background()

	id, err := repo.Create(ctx, validSource("a"))
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, id, validSource("b")))
	got, _ := cached.Get(id)
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, id, got.ID)

	require.NoError(t, repo.Delete(ctx, id))
	_, ok := cached.Get(id)
	assert.False(t, ok)
	assert.Equal(t, uint64(3), cached.Generation(), "one refresh per successful mutation")
}

func TestRepository_ExactlyOneRefreshPerSuccess(t *testing.T) {
	gw := newMemGateway()
	ref := &failingRefresher{}
	repo := New(gw, ref, logger.NewNop())
	defer repo.Close(context.Background())
	ctx := context.Background()

	id, err := repo.Create(ctx, validSource("a"))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, id, validSource("b")))
	require.Error(t, repo.Delete(ctx, 99))

	ref.mu.Lock()
	defer ref.mu.Unlock()
	assert.Equal(t, 2, ref.calls)
}

func TestRepository_FailedWriteLeavesCacheUnchanged(t *testing.T) {
	gw := newMemGateway()
	repo, cached := newRepo(t, gw)
	ctx := context.Background()

	_, err := repo.Create(ctx, validSource("a"))
	require.NoError(t, err)
	before := cached.Snapshot()
	gen := cached.Generation()

	gw.setFail(errors.New("disk full"))
	_, err = repo.Create(ctx, validSource("b"))
	require.Error(t, err)
	kind, ok := store.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, store.KindConnection, kind)

	assert.Equal(t, before, cached.Snapshot())
	assert.Equal(t, gen, cached.Generation())
}

func TestRepository_NotFound(t *testing.T) {
	gw := newMemGateway()
	repo, cached := newRepo(t, gw)
	ctx := context.Background()

	err := repo.Update(ctx, 7, validSource("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.Delete(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.Delete(ctx, model.NewID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, uint64(0), cached.Generation())
}

func TestRepository_InvalidSourceIsConstraintError(t *testing.T) {
	gw := newMemGateway()
	repo, _ := newRepo(t, gw)

	src := validSource("a")
	src.URL = ""
	_, err := repo.Create(context.Background(), src)
	assert.ErrorIs(t, err, store.ErrConstraint)
	assert.Empty(t, gw.log(), "storage must not be touched")
}

func TestRepository_RefreshFailureAfterCommit(t *testing.T) {
	gw := newMemGateway()
	ref := &failingRefresher{err: errors.New("fetch failed")}
	repo := New(gw, ref, logger.NewNop())
	defer repo.Close(context.Background())

	id, err := repo.Create(context.Background(), validSource("a"))
	require.Error(t, err)
	assert.Equal(t, int64(1), id, "the committed ID is still reported")

	kind, _ := store.KindOf(err)
	assert.Equal(t, store.KindRefresh, kind)
}

func TestRepository_FIFOWriteRefreshOrdering(t *testing.T) {
	gw := newMemGateway()
	repo, _ := newRepo(t, gw)
	ctx := context.Background()

	id, err := repo.Create(ctx, validSource("a"))
	require.NoError(t, err)

	ops := []*Op{
		repo.UpdateAsync(ctx, id, validSource("v1")),
		repo.DeleteAsync(ctx, id),
		repo.CreateAsync(ctx, validSource("c")),
	}
	for i, op := range ops {
		_, _ = op.Wait(ctx)
		if i > 0 {
			assert.Greater(t, op.Seq(), ops[i-1].Seq())
		}
	}

	assert.Equal(t, []string{
		"create:1", "fetch",
		"update:1", "fetch",
		"delete:1", "fetch",
		"create:2", "fetch",
	}, gw.log())
}

func TestRepository_UpdateThenDeleteIsDeterministic(t *testing.T) {
	for run := 0; run < 25; run++ {
		gw := newMemGateway()
		gw.delay = time.Millisecond
		repo, cached := newRepo(t, gw)
		ctx := context.Background()

		id, err := repo.Create(ctx, validSource("a"))
		require.NoError(t, err)

		update := repo.UpdateAsync(ctx, id, validSource("v1"))
		del := repo.DeleteAsync(ctx, id)

		_, updErr := update.Wait(ctx)
		_, delErr := del.Wait(ctx)
		require.NoError(t, updErr)
		require.NoError(t, delErr)

		_, ok := cached.Get(id)
		assert.False(t, ok, "run %d: A must be absent", run)
		assert.Empty(t, cached.Snapshot())
	}
}

func TestRepository_DeleteThenUpdateIsDeterministic(t *testing.T) {
	for run := 0; run < 25; run++ {
		gw := newMemGateway()
		repo, cached := newRepo(t, gw)
		ctx := context.Background()

		id, err := repo.Create(ctx, validSource("a"))
		require.NoError(t, err)

		del := repo.DeleteAsync(ctx, id)
		update := repo.UpdateAsync(ctx, id, validSource("v1"))

		_, delErr := del.Wait(ctx)
		_, updErr := update.Wait(ctx)
		require.NoError(t, delErr)
		assert.ErrorIs(t, updErr, store.ErrNotFound, "run %d", run)
		assert.Empty(t, cached.Snapshot())
	}
}

func TestRepository_ConcurrentSubmittersKeepCacheEqualToStorage(t *testing.T) {
	for run := 0; run < 10; run++ {
		gw := newMemGateway()
		repo, cached := newRepo(t, gw)
		ctx := context.Background()

		id, err := repo.Create(ctx, validSource("a"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = repo.Update(ctx, id, validSource("v1"))
		}()
		go func() {
			defer wg.Done()
			_ = repo.Delete(ctx, id)
		}()
		wg.Wait()

		stored, err := gw.GetAllSources(ctx)
		require.NoError(t, err)
		assert.Equal(t, stored, cached.Snapshot(), "run %d: cache must match storage", run)
		if len(stored) == 1 {
			assert.Equal(t, "v1", stored[0].Title)
		}
	}
}

func TestRepository_WithSQLiteStore(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	cached := cache.New(st, logger.NewNop())
	require.NoError(t, cached.Refresh(context.Background()))
	repo := New(st, cached, logger.NewNop())
	defer repo.Close(context.Background())
	ctx := context.Background()

	r := validSource("Example")
	r.PublishedDateUnknown = true
	id, err := repo.Create(ctx, r)
	require.NoError(t, err)

	snap := cached.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
	assert.True(t, r.SameContent(snap[0]))

	update := repo.UpdateAsync(ctx, id, validSource("v1"))
	del := repo.DeleteAsync(ctx, id)
	_, err = update.Wait(ctx)
	require.NoError(t, err)
	_, err = del.Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached.Snapshot())
}

func TestOp_CancelBeforeStart(t *testing.T) {
	gw := newMemGateway()
	gw.hold = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	repo, cached := newRepo(t, gw)
	ctx := context.Background()

	first := repo.CreateAsync(ctx, validSource("blocking"))
	<-gw.started

	second := repo.CreateAsync(ctx, validSource("cancelled"))
	assert.True(t, second.Cancel())
	assert.False(t, second.Cancel(), "cancel is idempotent")
	assert.False(t, first.Cancel(), "a running op cannot be cancelled")

	_, err := second.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	gw.hold <- struct{}{}
	_, err = first.Wait(ctx)
	require.NoError(t, err)

	assert.Len(t, cached.Snapshot(), 1)
	assert.Equal(t, []string{"create:1", "fetch"}, gw.log())
}

func TestOp_ContextCancelledWhileQueued(t *testing.T) {
	gw := newMemGateway()
	gw.hold = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	repo, _ := newRepo(t, gw)

	first := repo.CreateAsync(context.Background(), validSource("blocking"))
	<-gw.started

	ctx, cancel := context.WithCancel(context.Background())
	second := repo.CreateAsync(ctx, validSource("queued"))
	cancel()

	gw.hold <- struct{}{}
	_, err := first.Wait(context.Background())
	require.NoError(t, err)

	_, err = second.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOp_WaitOnFinishedOpIgnoresDoneContext(t *testing.T) {
	gw := newMemGateway()
	repo, _ := newRepo(t, gw)

	op := repo.CreateAsync(context.Background(), validSource("a"))
	<-op.Done()
	assert.Equal(t, KindCreate, op.Kind())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		id, err := op.Wait(cancelled)
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, int64(1), id)
	}
}

func TestOp_Kind(t *testing.T) {
	gw := newMemGateway()
	repo, _ := newRepo(t, gw)
	ctx := context.Background()

	assert.Equal(t, KindCreate, repo.CreateAsync(ctx, validSource("a")).Kind())
	assert.Equal(t, KindUpdate, repo.UpdateAsync(ctx, 1, validSource("b")).Kind())
	assert.Equal(t, KindDelete, repo.DeleteAsync(ctx, 1).Kind())
}

func TestOp_WaitTimeoutDoesNotCancel(t *testing.T) {
	gw := newMemGateway()
	gw.hold = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	repo, cached := newRepo(t, gw)

	op := repo.CreateAsync(context.Background(), validSource("slow"))
	<-gw.started

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := op.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, op.Err(), "op is still running")

	gw.hold <- struct{}{}
	<-op.Done()
	assert.NoError(t, op.Err())
	assert.Equal(t, 1, cached.Len())
}

func TestRepository_CloseDrainsQueue(t *testing.T) {
	gw := newMemGateway()
	gw.delay = 2 * time.Millisecond
	cached := cache.New(gw, logger.NewNop())
	repo := New(gw, cached, logger.NewNop())
	ctx := context.Background()

	var ops []*Op
	for i := 0; i < 5; i++ {
		ops = append(ops, repo.CreateAsync(ctx, validSource(fmt.Sprintf("s%d", i))))
	}
	require.NoError(t, repo.Close(ctx))

	for _, op := range ops {
		select {
		case <-op.Done():
		default:
			t.Fatal("Close returned before every op finished")
		}
		assert.NoError(t, op.Err())
	}
	assert.Equal(t, 5, cached.Len())
	assert.Equal(t, 0, repo.Pending())
}

func TestRepository_SubmitAfterClose(t *testing.T) {
	gw := newMemGateway()
	repo := New(gw, cache.New(gw, nil), nil)
	require.NoError(t, repo.Close(context.Background()))
	require.NoError(t, repo.Close(context.Background()), "Close is idempotent")

	op := repo.CreateAsync(context.Background(), validSource("late"))
	_, err := op.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, uint64(0), op.Seq())
	assert.Empty(t, gw.log())
}

func TestRepository_CloseDeadlineReportsAbandonedOps(t *testing.T) {
	gw := newMemGateway()
	gw.hold = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	cached := cache.New(gw, logger.NewNop())
	repo := New(gw, cached, logger.NewNop())
	bg := context.Background()

	running := repo.CreateAsync(bg, validSource("running"))
	<-gw.started
	queued := repo.CreateAsync(bg, validSource("queued"))

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	err := repo.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = queued.Wait(bg)
	assert.ErrorIs(t, err, ErrShutdown)

	_, err = running.Wait(bg)
	assert.ErrorIs(t, err, context.Canceled, "in-flight op is cancelled and reported")

	assert.Equal(t, 0, cached.Len(), "cache must not reference writes that never completed")
	assert.Empty(t, gw.log())
}
