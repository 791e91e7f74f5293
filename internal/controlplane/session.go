package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/events"
	"github.com/pitabwire/dbconsole/internal/field"
)

// Session performs calls with one bearer token. It implements
// events.Upstream.
type Session struct {
	c     *Client
	token string
}

var _ events.Upstream = (*Session)(nil)

// Token returns the bearer token.
func (s *Session) Token() string { return s.token }

// Get reads path into out, bypassing the cache.
func (s *Session) Get(ctx context.Context, path string, out any) error {
	return s.c.do(ctx, s.token, call{method: http.MethodGet, path: path, handle: decodeInto(out)})
}

// Fetch is the plain read used when a resource has no event stream.
func (s *Session) Fetch(ctx context.Context, path string, out any) error {
	return s.Get(ctx, path, out)
}

// CachedGet reads path into out through the read cache.
func (s *Session) CachedGet(ctx context.Context, path string, out any) error {
	body, outcome, err := s.c.cache.get(ctx, s.token, path, func(ctx context.Context) ([]byte, error) {
		var buf strings.Builder
		err := s.c.do(ctx, s.token, call{method: http.MethodGet, path: path, handle: func(res *http.Response) error {
			_, err := io.Copy(&buf, res.Body)
			return err
		}})
		return []byte(buf.String()), err
	})
	s.c.observer.Cache(outcome)
	if outcome == CacheHit {
		s.c.logger.Debug("read cache hit", zap.String("path", path))
	}
	if err != nil {
		return err
	}
	return decodeBytes(body, out)
}

// Put writes body to path and decodes the answer into out.
func (s *Session) Put(ctx context.Context, path string, body, out any) error {
	return s.send(ctx, http.MethodPut, path, body, ContentJSON, out)
}

// Post sends body to path and decodes the answer into out.
func (s *Session) Post(ctx context.Context, path string, body, out any) error {
	return s.send(ctx, http.MethodPost, path, body, ContentJSON, out)
}

// Patch applies an RFC 6902 document to path.
func (s *Session) Patch(ctx context.Context, path string, ops any, out any) error {
	return s.send(ctx, http.MethodPatch, path, ops, ContentJSONPatch, out)
}

// Delete removes path.
func (s *Session) Delete(ctx context.Context, path string) error {
	err := s.c.do(ctx, s.token, call{method: http.MethodDelete, path: path})
	if err == nil {
		s.c.cache.invalidate(parentOf(path))
	}
	return err
}

func (s *Session) send(ctx context.Context, method, path string, body any, contentType string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("controlplane: encoding %s %s body: %w", method, path, err)
	}
	err = s.c.do(ctx, s.token, call{
		method:      method,
		path:        path,
		body:        data,
		contentType: contentType,
		handle:      decodeInto(out),
	})
	if err == nil {
		s.c.cache.invalidate(parentOf(path))
	}
	return err
}

// OpenStream opens the event stream of path and hands the body to read.
// A 404 means the resource cannot be streamed and is reported as
// events.ErrNoStream.
func (s *Session) OpenStream(ctx context.Context, path string, read func(io.Reader) error) error {
	err := s.c.do(ctx, s.token, call{
		method:    http.MethodGet,
		path:      "/events/" + strings.TrimLeft(path, "/"),
		accept:    ContentEvents,
		streaming: true,
		handle:    func(res *http.Response) error { return read(res.Body) },
	})
	if StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %w", events.ErrNoStream, err)
	}
	return err
}

// RoleTemplatesPath lists every role template the session may use.
const RoleTemplatesPath = "/cluster/roletemplates?listAccessible=true&expand=true&limit=1000"

// RoleTemplates returns the variables of every accessible role template.
func (s *Session) RoleTemplates(ctx context.Context) (field.RoleCatalog, error) {
	var list struct {
		Items []field.RoleTemplate `json:"items"`
	}
	if err := s.CachedGet(ctx, RoleTemplatesPath, &list); err != nil {
		return nil, fmt.Errorf("controlplane: listing role templates: %w", err)
	}
	return field.NewRoleCatalog(list.Items), nil
}

// DefaultExpiresIn is the token lifetime requested on login.
const DefaultExpiresIn = "24h"

// LoginResult is the control plane's answer to a login.
type LoginResult struct {
	Token         string       `json:"token"`
	ExpiresAtTime string       `json:"expiresAtTime"`
	AccessRule    *access.Rule `json:"accessRule,omitempty"`
}

// ExpiresAt parses ExpiresAtTime.
func (r *LoginResult) ExpiresAt() (time.Time, error) {
	return time.Parse(time.RFC3339, r.ExpiresAtTime)
}

// Login exchanges credentials for a session token. An answer without
// token or expiry is ErrLoginRejected.
func (c *Client) Login(ctx context.Context, username, password, expiresIn string) (*LoginResult, error) {
	if expiresIn == "" {
		expiresIn = DefaultExpiresIn
	}
	body, err := json.Marshal(map[string]string{"expiresIn": expiresIn})
	if err != nil {
		return nil, err
	}
	var res LoginResult
	err = c.do(ctx, "", call{
		method:  http.MethodPost,
		path:    "/login",
		body:    body,
		user:    username,
		pass:    password,
		handle:  decodeInto(&res),
		noProbe: true,
	})
	if err != nil {
		return nil, err
	}
	if res.Token == "" || res.ExpiresAtTime == "" {
		return nil, ErrLoginRejected
	}
	c.logger.Info("control plane login", zap.String("username", username))
	return &res, nil
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnavailable reports whether err means the control plane could not be
// reached or is refusing calls.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBreakerOpen) || (err != nil && StatusCode(err) == 0 && !isCanceled(err))
}
