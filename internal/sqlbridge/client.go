package sqlbridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/requests"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// HTTPPrefix is the bridge's statement endpoint.
const HTTPPrefix = "/api/sql"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client sends one POST per request.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
	next   atomic.Uint64
}

// NewClient returns a client for the bridge at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the bridge root.
func (c *Client) BaseURL() string { return c.base }

// Run sends op with args as the database user creds. A FAILURE answer is
// returned together with an error wrapping ErrFailure.
func (c *Client) Run(ctx context.Context, t Target, creds Credentials, op Operation, args ...any) (*Response, error) {
	req := Request{Operation: op, Args: args}
	return c.send(ctx, t, req, func(b *requests.Builder) {
		b.BasicAuth(creds.Username, creds.Password)
	})
}

// Forward relays a browser request carrying its own Authorization header.
func (c *Client) Forward(ctx context.Context, t Target, authorization string, req Request) (*Response, error) {
	return c.send(ctx, t, req, func(b *requests.Builder) {
		if authorization != "" {
			b.Header("Authorization", authorization)
		}
	})
}

func (c *Client) send(ctx context.Context, t Target, req Request, auth func(*requests.Builder)) (*Response, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !req.Operation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation)
	}
	if req.RequestID == "" {
		req.RequestID = strconv.FormatUint(c.next.Add(1)-1, 10)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sqlbridge: encoding request: %w", err)
	}

	var res Response
	b := requests.URL(c.base + t.path(HTTPPrefix)).
		Client(c.http).
		Post().
		BodyBytes(body).
		ContentType("application/json").
		Accept("application/json").
		AddValidator(checkStatus).
		Handle(func(r *http.Response) error {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, &res)
		})
	auth(b)

	start := time.Now()
	if err := b.Fetch(ctx); err != nil {
		c.logger.Warn("sql bridge request failed",
			zap.Stringer("target", t), zap.String("operation", string(req.Operation)), zap.Error(err))
		return nil, fmt.Errorf("sqlbridge: %s on %s: %w", req.Operation, t, err)
	}
	c.logger.Debug("sql bridge request",
		zap.Stringer("target", t), zap.String("operation", string(req.Operation)),
		zap.String("status", res.Status), zap.Duration("elapsed", time.Since(start)))
	return &res, res.Err()
}
