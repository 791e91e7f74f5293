// Package controlplane is the console's client for the DBaaS control-plane
// REST API: authenticated CRUD, login, event streams and role templates,
// behind a circuit breaker and a short-lived read cache.
package controlplane

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultPrefix is the control plane's REST mount point.
const DefaultPrefix = "/nuodb-cp"

// Media types the control plane speaks.
const (
	ContentJSON      = "application/json"
	ContentJSONPatch = "application/json-patch+json"
	ContentEvents    = "text/event-stream"
)

// Config locates the control plane and bounds calls to it.
type Config struct {
	BaseURL  string
	Prefix   string
	Timeout  time.Duration
	CacheTTL time.Duration
	Breaker  BreakerConfig
}

// Observer receives request and cache outcomes for metrics.
type Observer interface {
	// Request is called once per HTTP exchange. status is 0 when no
	// answer was received.
	Request(method string, status int, elapsed time.Duration)
	Cache(outcome string)
	BreakerChanged(state BreakerState)
}

type nopObserver struct{}

func (nopObserver) Request(string, int, time.Duration) {}
func (nopObserver) Cache(string)                      {}
func (nopObserver) BreakerChanged(BreakerState)       {}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for ordinary calls. Streams
// use a copy without the overall timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver attaches metrics hooks.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// Client talks to one control plane on behalf of many sessions.
type Client struct {
	root     string
	http     *http.Client
	stream   *http.Client
	logger   *zap.Logger
	observer Observer
	breaker  *Breaker
	cache    *readCache
	tracer   trace.Tracer
}

// New returns a client for cfg.
func New(cfg Config, opts ...Option) *Client {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	c := &Client{
		root:     strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(prefix, "/"),
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
		observer: nopObserver{},
		breaker:  NewBreaker(cfg.Breaker),
		cache:    newReadCache(ttl),
		tracer:   otel.Tracer("github.com/pitabwire/dbconsole/internal/controlplane"),
	}
	for _, o := range opts {
		o(c)
	}
	streamClient := *c.http
	streamClient.Timeout = 0
	c.stream = &streamClient
	c.breaker.OnChange(func(s BreakerState) {
		c.logger.Warn("control plane circuit breaker changed state", zap.Stringer("state", s))
		c.observer.BreakerChanged(s)
	})
	return c
}

// Breaker exposes the breaker for readiness checks.
func (c *Client) Breaker() *Breaker { return c.breaker }

// URL returns the absolute URL of a control-plane path. Leading slashes of
// p are ignored; a query string is kept.
func (c *Client) URL(p string) string {
	return c.root + "/" + strings.TrimLeft(p, "/")
}

// Session binds the client to one bearer token.
func (c *Client) Session(token string) *Session {
	return &Session{c: c, token: token}
}

// FetchDocument returns the raw OpenAPI document as seen by token.
func (c *Client) FetchDocument(ctx context.Context, token string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, token, call{method: http.MethodGet, path: "/openapi", handle: copyTo(&buf)})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// call describes one exchange.
type call struct {
	method      string
	path        string
	body        []byte
	contentType string
	accept      string
	user, pass  string
	handle      func(*http.Response) error
	streaming   bool
	noProbe     bool
}

func (c *Client) do(ctx context.Context, token string, cl call) error {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("control plane call refused", zap.String("method", cl.method), zap.String("path", cl.path))
		return err
	}

	ctx, span := c.tracer.Start(ctx, "controlplane "+cl.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", cl.method),
			attribute.String("dbconsole.path", cl.path),
		))
	defer span.End()

	hc := c.http
	if cl.streaming {
		hc = c.stream
	}
	b := requests.URL(c.URL(cl.path)).
		Client(hc).
		Method(cl.method).
		AddValidator(statusValidator(cl.method, cl.path))
	if token != "" {
		b.Bearer(token)
	}
	if cl.user != "" {
		b.BasicAuth(cl.user, cl.pass)
	}
	if cl.accept != "" {
		b.Accept(cl.accept)
	} else {
		b.Accept(ContentJSON)
	}
	if cl.body != nil {
		ct := cl.contentType
		if ct == "" {
			ct = ContentJSON
		}
		b.BodyBytes(cl.body).ContentType(ct)
	}
	carrier := propagation.HeaderCarrier(http.Header{})
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		b.Header(k, carrier.Get(k))
	}
	if cl.handle != nil {
		b.Handle(cl.handle)
	} else {
		b.Handle(drain)
	}

	start := time.Now()
	err := b.Fetch(ctx)
	status := StatusCode(err)
	if err == nil {
		status = http.StatusOK
	}
	c.observer.Request(cl.method, status, time.Since(start))

	switch {
	case countsAsFailure(err):
		c.breaker.Failure()
	case err == nil || status != 0:
		c.breaker.Success()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status == http.StatusUnauthorized && token != "" && !cl.noProbe {
			return c.probe(ctx, token, err)
		}
		if !isCanceled(err) {
			c.logger.Debug("control plane call failed",
				zap.String("method", cl.method), zap.String("path", cl.path), zap.Int("status", status), zap.Error(err))
		}
		return err
	}
	c.logger.Debug("control plane call",
		zap.String("method", cl.method), zap.String("path", cl.path), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// probe distinguishes a forbidden resource from a dead session: a 401
// counts as an expired session only when /openapi refuses the token too.
func (c *Client) probe(ctx context.Context, token string, cause error) error {
	err := c.do(ctx, token, call{method: http.MethodGet, path: "/openapi", noProbe: true})
	switch {
	case StatusCode(err) == http.StatusUnauthorized:
		c.logger.Info("control plane rejected session token")
		return errors.Join(ErrSessionExpired, cause)
	case err != nil:
		c.logger.Warn("access probe failed", zap.Error(err))
	}
	return cause
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func drain(res *http.Response) error {
	_, err := io.Copy(io.Discard, res.Body)
	return err
}

func copyTo(buf *bytes.Buffer) func(*http.Response) error {
	return func(res *http.Response) error {
		_, err := buf.ReadFrom(res.Body)
		return err
	}
}

// decodeInto decodes a JSON answer into out. An empty body leaves out
// untouched.
func decodeInto(out any) func(*http.Response) error {
	return func(res *http.Response) error {
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		return decodeBytes(data, out)
	}
}

func decodeBytes(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// parentOf is the collection a mutation of p may change.
func parentOf(p string) string {
	p, _, _ = strings.Cut(p, "?")
	p = "/" + strings.Trim(p, "/")
	if dir := path.Dir(p); dir != "/" {
		return dir
	}
	return p
}
