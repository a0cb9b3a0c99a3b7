// Package cache keeps an in-memory snapshot of every stored source.
//
// Readers call Snapshot, which never touches storage. Refresh reloads the
// full set and swaps it in atomically, so a reader sees either the previous
// snapshot or the new one, never a mix. Refreshes are serialized: one that
// starts later also finishes later, which keeps a slow early fetch from
// overwriting newer data. Callers that mutate storage order their refreshes
// through the repository's single writer queue.
package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/model"
)

// Fetcher loads the complete current set of sources.
type Fetcher interface {
	GetAllSources(ctx context.Context) ([]model.Source, error)
}

type snapshot struct {
	sources     []model.Source
	generation  uint64
	refreshedAt time.Time
}

// Synchronizer owns the cached snapshot.
type Synchronizer struct {
	fetcher Fetcher
	log     logger.Logger

	refreshMu sync.Mutex
	current   atomic.Pointer[snapshot]
}

// New creates a Synchronizer with an empty snapshot. Call Refresh to load it.
func New(f Fetcher, log logger.Logger) *Synchronizer {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Synchronizer{fetcher: f, log: log.With(logger.String("component", "cache"))}
	s.current.Store(&snapshot{sources: []model.Source{}})
	return s
}

// Snapshot returns a copy of the cached sources.
func (s *Synchronizer) Snapshot() []model.Source {
	return slices.Clone(s.current.Load().sources)
}

// Len returns the number of cached sources.
func (s *Synchronizer) Len() int {
	return len(s.current.Load().sources)
}

// Generation counts successful refreshes. It starts at 0.
func (s *Synchronizer) Generation() uint64 {
	return s.current.Load().generation
}

// RefreshedAt is the time of the last successful refresh, zero before the first.
func (s *Synchronizer) RefreshedAt() time.Time {
	return s.current.Load().refreshedAt
}

// Get looks up one cached source by ID.
func (s *Synchronizer) Get(id int64) (model.Source, bool) {
	for _, src := range s.current.Load().sources {
		if src.ID == id {
			return src, true
		}
	}
	return model.Source{}, false
}

// Search returns the cached sources matching query (see model.Source.Contains).
func (s *Synchronizer) Search(query string) []model.Source {
	return Filter(s.current.Load().sources, Query{Search: query})
}

// Refresh reloads every source and replaces the snapshot.
// On error the previous snapshot stays in place.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	sources, err := s.fetcher.GetAllSources(ctx)
	if err != nil {
		s.log.Warn("Refresh failed, keeping previous snapshot", logger.Err(err))
		return err
	}
	if sources == nil {
		sources = []model.Source{}
	}

	prev := s.current.Load()
	next := &snapshot{
		sources:     sources,
		generation:  prev.generation + 1,
		refreshedAt: time.Now(),
	}
	s.current.Store(next)

	s.log.Debug("Snapshot refreshed",
		logger.Int("sources", len(sources)),
		logger.Uint64("generation", next.generation),
	)
	return nil
}
