package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrNoStream is returned by an Upstream when the resource has no event
// stream. The subscription then falls back to one plain read.
var ErrNoStream = errors.New("events: resource does not support streaming")

// Upstream opens the requests a subscription needs.
type Upstream interface {
	// OpenStream performs the streaming GET of the events endpoint for
	// path and passes the body to read until it returns.
	OpenStream(ctx context.Context, path string, read func(io.Reader) error) error
	// Fetch performs a plain GET of path into out.
	Fetch(ctx context.Context, path string, out any) error
}

// Observer receives subscription lifecycle and record counts.
type Observer interface {
	SubscriptionOpened()
	SubscriptionClosed()
	StreamFallback()
	RecordApplied(event string)
}

type nopObserver struct{}

func (nopObserver) SubscriptionOpened()  {}
func (nopObserver) SubscriptionClosed()  {}
func (nopObserver) StreamFallback()      {}
func (nopObserver) RecordApplied(string) {}

// State is the lifecycle position of a subscription.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateFallingBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFallingBack:
		return "falling_back"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ResolveFunc receives every new snapshot, in arrival order.
type ResolveFunc func(snapshot map[string]any)

// RejectFunc receives a failure that is neither an abort nor a fallback.
type RejectFunc func(err error)

// Option configures a subscription.
type Option func(*Subscription)

// WithLogger sets the subscription logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscription) { s.logger = l }
}

// WithRegistry records the path as monitored while the subscription runs.
func WithRegistry(r *Registry) Option {
	return func(s *Subscription) { s.registry = r }
}

// WithObserver attaches metrics hooks.
func WithObserver(o Observer) Option {
	return func(s *Subscription) { s.observer = o }
}

const readChunk = 32 * 1024

// Subscription watches one resource path. Callbacks run on the
// subscription's own goroutine, one at a time.
type Subscription struct {
	path     string
	upstream Upstream
	resolve  ResolveFunc
	reject   RejectFunc
	logger   *zap.Logger
	registry *Registry
	observer Observer

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe starts watching path. Cancel ctx or call Close to abort.
func Subscribe(ctx context.Context, up Upstream, path string, resolve ResolveFunc, reject RejectFunc, opts ...Option) *Subscription {
	s := &Subscription{
		path:     path,
		upstream: up,
		resolve:  resolve,
		reject:   reject,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.state.Store(int32(StateConnecting))
	go s.run(ctx)
	return s
}

// Path returns the watched resource path.
func (s *Subscription) Path() string { return s.path }

// State returns the current lifecycle state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// Done is closed once the subscription reaches StateClosed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close aborts the subscription and waits for it to finish. No callback
// runs after Close returns.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Subscription) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("subscription state", zap.String("path", s.path), zap.Stringer("state", st))
}

func (s *Subscription) run(ctx context.Context) {
	s.observer.SubscriptionOpened()
	var release func()
	if s.registry != nil {
		release = s.registry.Add(s.path)
	}
	defer func() {
		if release != nil {
			release()
		}
		s.setState(StateClosed)
		s.observer.SubscriptionClosed()
		close(s.done)
	}()

	s.logger.Info("subscription opened", zap.String("path", s.path))
	err := s.upstream.OpenStream(ctx, s.path, func(body io.Reader) error {
		s.setState(StateStreaming)
		return s.consume(ctx, body)
	})

	switch {
	case err == nil:
		s.logger.Info("subscription stream ended", zap.String("path", s.path))
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		s.logger.Debug("subscription aborted", zap.String("path", s.path))
	case errors.Is(err, ErrNoStream):
		s.fallback(ctx)
	default:
		s.logger.Warn("subscription failed", zap.String("path", s.path), zap.Error(err))
		s.fail(err)
	}
}

// consume reads the body in arrival order and dispatches each record.
func (s *Subscription) consume(ctx context.Context, body io.Reader) error {
	var p Parser
	rec := NewReconciler(s.logger)
	buf := make([]byte, readChunk)
	for {
		n, err := body.Read(buf)
		for _, r := range p.Feed(buf[:n]) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			snap, changed, aerr := rec.Apply(r)
			if aerr != nil {
				s.logger.Warn("dropping malformed record", zap.String("path", s.path), zap.Error(aerr))
				continue
			}
			s.observer.RecordApplied(r.Event)
			if changed && s.resolve != nil {
				s.resolve(snap)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// fallback serves servers and resources without streaming: one plain GET.
func (s *Subscription) fallback(ctx context.Context) {
	s.setState(StateFallingBack)
	s.observer.StreamFallback()
	s.logger.Warn("event stream unavailable, falling back to a plain read", zap.String("path", s.path))

	var data map[string]any
	err := s.upstream.Fetch(ctx, s.path, &data)
	switch {
	case err == nil:
		if data == nil {
			data = map[string]any{}
		}
		if s.resolve != nil && ctx.Err() == nil {
			s.resolve(data)
		}
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
	default:
		s.fail(err)
	}
}

func (s *Subscription) fail(err error) {
	if s.reject != nil {
		s.reject(err)
	}
}
