package schema

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/dbconsole/internal/openapi"
)

// Snapshot is one fully normalized copy of the control plane's document.
// It is immutable once published.
type Snapshot struct {
	Document  map[string]any
	Paths     Paths
	Index     *openapi.Index
	FetchedAt time.Time
}

// Fetcher retrieves the raw OpenAPI document on behalf of a session token.
type Fetcher interface {
	FetchDocument(ctx context.Context, token string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, token string) ([]byte, error)

// FetchDocument calls f.
func (f FetcherFunc) FetchDocument(ctx context.Context, token string) ([]byte, error) {
	return f(ctx, token)
}

// Store fetches the document at most once and shares it between sessions
// until Invalidate is called. Concurrent first callers share one fetch.
// Readers only ever see a completely normalized snapshot.
type Store struct {
	fetcher      Fetcher
	logger       *zap.Logger
	fetchTimeout time.Duration
	observe      func(time.Duration, error)

	group   singleflight.Group
	current atomic.Pointer[Snapshot]
	gen     atomic.Uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFetchTimeout bounds a shared fetch independently of the caller that
// started it.
func WithFetchTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.fetchTimeout = d }
}

// WithFetchObserver is called after every fetch attempt.
func WithFetchObserver(fn func(time.Duration, error)) StoreOption {
	return func(s *Store) { s.observe = fn }
}

// NewStore creates an empty Store.
func NewStore(fetcher Fetcher, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		fetcher:      fetcher,
		logger:       logger,
		fetchTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Loaded reports whether a snapshot has been published.
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}

// Invalidate drops the published snapshot. The next Get fetches again.
func (s *Store) Invalidate() {
	s.gen.Add(1)
	s.current.Store(nil)
}

// Get returns the published snapshot, fetching it with token if needed.
func (s *Store) Get(ctx context.Context, token string) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}

	gen := s.gen.Load()
	ch := s.group.DoChan(fmt.Sprintf("schema:%d", gen), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		snap, err := s.build(fetchCtx, token)
		if err != nil {
			return nil, err
		}
		if s.gen.Load() == gen {
			s.current.Store(snap)
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (s *Store) build(ctx context.Context, token string) (*Snapshot, error) {
	start := time.Now()
	snap, err := s.load(ctx, token)
	if s.observe != nil {
		s.observe(time.Since(start), err)
	}
	if err != nil {
		s.logger.Error("schema fetch failed", zap.Error(err))
		return nil, err
	}
	s.logger.Info("schema loaded",
		zap.Int("paths", len(snap.Paths)),
		zap.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

func (s *Store) load(ctx context.Context, token string) (*Snapshot, error) {
	raw, err := s.fetcher.FetchDocument(ctx, token)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: decoding document: %w", err)
	}
	normalized, err := Normalize(doc)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Document:  normalized,
		Paths:     PathsFrom(normalized),
		FetchedAt: time.Now(),
	}

	idx, err := openapi.Load(ctx, raw)
	if err != nil {
		s.logger.Warn("openapi index unavailable", zap.Error(err))
	} else {
		if verr := idx.ValidationErr(); verr != nil {
			s.logger.Warn("openapi document does not validate", zap.Error(verr))
		}
		snap.Index = idx
	}
	return snap, nil
}
