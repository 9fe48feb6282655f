package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source fetches catalog entities from the backend.
type Source interface {
	Products(ctx context.Context) ([]Product, error)
	Suppliers(ctx context.Context) ([]Supplier, error)
}

type payload struct {
	Products  []Product  `json:"products"`
	Suppliers []Supplier `json:"suppliers"`
	LoadedAt  time.Time  `json:"loaded_at"`
}

// Store keeps the current catalog Snapshot. Concurrent loads are coalesced
// and go through the shared Redis cache when one is configured.
type Store struct {
	source Source
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group

	mu      sync.RWMutex
	current Snapshot
	stale   bool

	// gen counts invalidations; a fetch only clears stale when none
	// happened while it was loading
	gen uint64
}

// NewStore constructs a Store. cache may be nil.
func NewStore(source Source, cache *Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{source: source, cache: cache, logger: logger, now: time.Now}
}

// Snapshot returns the current snapshot without fetching. It may be unloaded.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load returns a fresh snapshot, fetching only when nothing is loaded or the
// data was invalidated.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	current, stale := s.current, s.stale
	s.mu.RUnlock()
	if current.Loaded() && !stale {
		return current, nil
	}
	return s.fetch(ctx)
}

// Refresh fetches regardless of the current state.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	s.markStale()
	return s.fetch(ctx)
}

// Invalidate marks the snapshot stale and bumps the shared cache version.
// The stale snapshot stays readable until the next Load.
func (s *Store) Invalidate(ctx context.Context) error {
	s.markStale()
	if _, err := s.cache.Bump(ctx); err != nil {
		return fmt.Errorf("catalog: bump cache: %w", err)
	}
	return nil
}

// Watch drops the in-memory snapshot whenever another instance bumps the
// cache version.
func (s *Store) Watch(ctx context.Context) error {
	return s.cache.Subscribe(ctx, func(version int64) {
		s.logger.Debug("catalog invalidated", slog.Int64("version", version))
		s.markStale()
	})
}

func (s *Store) markStale() {
	s.mu.Lock()
	s.stale = true
	s.gen++
	s.mu.Unlock()
}

func (s *Store) fetch(ctx context.Context) (Snapshot, error) {
	res, err, _ := s.group.Do("catalog", func() (any, error) {
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()

		key, err := s.cache.BuildKey(ctx, "catalog", "snapshot")
		if err != nil {
			s.logger.Warn("catalog cache key", slog.Any("error", err))
			key = ""
		}
		var data payload
		if key == "" {
			loaded, err := s.loadFromSource(ctx)
			if err != nil {
				return nil, err
			}
			data = loaded
		} else if err := s.cache.FetchJSON(ctx, key, &data, func(ctx context.Context) (any, error) {
			return s.loadFromSource(ctx)
		}); err != nil {
			return nil, err
		}
		snap := NewSnapshot(data.Products, data.Suppliers, data.LoadedAt)
		s.mu.Lock()
		s.current = snap
		if s.gen == gen {
			s.stale = false
		}
		s.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return s.Snapshot(), err
	}
	snap, ok := res.(Snapshot)
	if !ok {
		return s.Snapshot(), errors.New("catalog: unexpected load result")
	}
	return snap, nil
}

func (s *Store) loadFromSource(ctx context.Context) (payload, error) {
	if s.source == nil {
		return payload{}, errors.New("catalog: source not configured")
	}
	products, err := s.source.Products(ctx)
	if err != nil {
		return payload{}, fmt.Errorf("catalog: load products: %w", err)
	}
	suppliers, err := s.source.Suppliers(ctx)
	if err != nil {
		return payload{}, fmt.Errorf("catalog: load suppliers: %w", err)
	}
	return payload{Products: products, Suppliers: suppliers, LoadedAt: s.now().UTC()}, nil
}
