package controlplane

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/dbconsole/internal/events"
)

type recorded struct {
	method, path, query, auth, accept, contentType, body string
}

type fakeControlPlane struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func newFake(t *testing.T) (*fakeControlPlane, *Client) {
	t.Helper()
	f := &fakeControlPlane{handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recorded{
			method: r.Method, path: r.URL.Path, query: r.URL.RawQuery,
			auth: r.Header.Get("Authorization"), accept: r.Header.Get("Accept"),
			contentType: r.Header.Get("Content-Type"), body: string(body),
		})
		h := f.handlers[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, New(Config{BaseURL: srv.URL, Breaker: BreakerConfig{FailureThreshold: 3}}, WithHTTPClient(srv.Client()))
}

func (f *fakeControlPlane) on(route string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[route] = h
	f.mu.Unlock()
}

func (f *fakeControlPlane) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			n++
		}
	}
	return n
}

func (f *fakeControlPlane) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClient_URL(t *testing.T) {
	c := New(Config{BaseURL: "http://cp.local/"})
	tests := []struct{ in, want string }{
		{"/databases", "http://cp.local/nuodb-cp/databases"},
		{"//login", "http://cp.local/nuodb-cp/login"},
		{"projects?listAccessible=true", "http://cp.local/nuodb-cp/projects?listAccessible=true"},
	}
	for _, tt := range tests {
		if got := c.URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	c = New(Config{BaseURL: "http://cp.local", Prefix: "/api/"})
	if got := c.URL("/x"); got != "http://cp.local/api/x" {
		t.Errorf("got %v, want %v", got, "http://cp.local/api/x")
	}
}

func TestSession_CRUD(t *testing.T) {
	f, c := newFake(t)
	f.on("GET /nuodb-cp/databases/acme", jsonReply(200, `{"items":[{"name":"db1"}]}`))
	f.on("PUT /nuodb-cp/databases/acme/p/db1", jsonReply(200, `{"name":"db1"}`))
	f.on("PATCH /nuodb-cp/databases/acme/p/db1", jsonReply(200, `{}`))
	f.on("DELETE /nuodb-cp/databases/acme/p/db1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s := c.Session("tok")
	ctx := context.Background()

	var list map[string]any
	require.NoError(t, s.Get(ctx, "/databases/acme?listAccessible=true", &list))
	require.Equal(t, "listAccessible=true", f.last().query)
	require.Equal(t, "Bearer tok", f.last().auth)
	require.Len(t, list["items"], 1)

	var put map[string]any
	require.NoError(t, s.Put(ctx, "/databases/acme/p/db1", map[string]any{"tier": "n0.small"}, &put))
	require.Equal(t, "application/json", f.last().contentType)
	require.JSONEq(t, `{"tier":"n0.small"}`, f.last().body)
	require.Equal(t, "db1", put["name"])

	ops := []map[string]any{{"op": "replace", "path": "/maintenance/isDisabled", "value": true}}
	require.NoError(t, s.Patch(ctx, "/databases/acme/p/db1", ops, nil))
	require.Equal(t, "application/json-patch+json", f.last().contentType)

	require.NoError(t, s.Delete(ctx, "/databases/acme/p/db1"))
	require.Equal(t, http.MethodDelete, f.last().method)
}

func TestSession_StatusErrorCarriesDetail(t *testing.T) {
	f, c := newFake(t)
	f.on("PUT /nuodb-cp/projects/acme/p1", jsonReply(409, `{"status":"Conflict","detail":"version mismatch"}`))

	err := c.Session("tok").Put(context.Background(), "/projects/acme/p1", map[string]any{}, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusConflict, StatusCode(err))
	require.Equal(t, "version mismatch", ErrorMessage(err))
	require.Equal(t, "unknown error", ErrorMessage(errors.New("dial tcp: refused")))
}

func TestSession_UnauthorizedProbe(t *testing.T) {
	t.Run("expired session", func(t *testing.T) {
		f, c := newFake(t)
		f.on("GET /nuodb-cp/databases", jsonReply(401, `{}`))
		f.on("GET /nuodb-cp/openapi", jsonReply(401, `{}`))

		err := c.Session("old").Get(context.Background(), "/databases", nil)
		require.ErrorIs(t, err, ErrSessionExpired)
		require.Equal(t, 1, f.count(http.MethodGet, "/nuodb-cp/openapi"))
	})

	t.Run("forbidden resource", func(t *testing.T) {
		f, c := newFake(t)
		f.on("GET /nuodb-cp/cluster/roles", jsonReply(401, `{"detail":"no access"}`))
		f.on("GET /nuodb-cp/openapi", jsonReply(200, `{}`))

		err := c.Session("tok").Get(context.Background(), "/cluster/roles", nil)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrSessionExpired)
		require.Equal(t, http.StatusUnauthorized, StatusCode(err))
	})
}

func TestSession_CachedGetSharesAndExpires(t *testing.T) {
	f, c := newFake(t)
	release := make(chan struct{})
	var hits atomic.Int32
	f.on("GET /nuodb-cp/projects", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		jsonReply(200, `{"items":[]}`)(w, nil)
	})
	s := c.Session("tok")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out map[string]any
			if err := s.CachedGet(context.Background(), "/projects", &out); err != nil {
				t.Errorf("CachedGet: %v", err)
			}
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), hits.Load())

	var out map[string]any
	require.NoError(t, s.CachedGet(context.Background(), "/projects", &out))
	require.Equal(t, int32(1), hits.Load())

	now := time.Now()
	c.cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, s.CachedGet(context.Background(), "/projects", &out))
	require.Equal(t, int32(2), hits.Load())
}

func TestSession_CacheIsPerTokenAndInvalidatedByWrites(t *testing.T) {
	f, c := newFake(t)
	f.on("GET /nuodb-cp/databases/acme/p", jsonReply(200, `{"items":[]}`))
	f.on("PUT /nuodb-cp/databases/acme/p/db1", jsonReply(200, `{}`))
	ctx := context.Background()

	require.NoError(t, c.Session("a").CachedGet(ctx, "/databases/acme/p", nil))
	require.NoError(t, c.Session("b").CachedGet(ctx, "/databases/acme/p", nil))
	require.Equal(t, 2, f.count(http.MethodGet, "/nuodb-cp/databases/acme/p"))

	require.NoError(t, c.Session("a").Put(ctx, "/databases/acme/p/db1", map[string]any{}, nil))
	require.Zero(t, c.cache.len())
	require.NoError(t, c.Session("a").CachedGet(ctx, "/databases/acme/p", nil))
	require.Equal(t, 3, f.count(http.MethodGet, "/nuodb-cp/databases/acme/p"))
}

func TestSession_OpenStream(t *testing.T) {
	f, c := newFake(t)
	f.on("GET /nuodb-cp/events/databases/acme", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: RESYNC\ndata: {\"items\":[]}\n\n")
	})

	var got string
	err := c.Session("tok").OpenStream(context.Background(), "/databases/acme?listAccessible=true", func(r io.Reader) error {
		b, err := io.ReadAll(r)
		got = string(b)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", f.last().accept)
	require.Equal(t, "listAccessible=true", f.last().query)
	require.True(t, strings.HasPrefix(got, "event: RESYNC"))

	err = c.Session("tok").OpenStream(context.Background(), "/backuppolicies/acme", func(io.Reader) error { return nil })
	require.ErrorIs(t, err, events.ErrNoStream)
}

func TestSession_SubscriptionFallsBackToPlainRead(t *testing.T) {
	f, c := newFake(t)
	f.on("GET /nuodb-cp/databases/acme/p/db1", jsonReply(200, `{"name":"db1"}`))

	done := make(chan map[string]any, 1)
	sub := events.Subscribe(context.Background(), c.Session("tok"), "/databases/acme/p/db1",
		func(s map[string]any) { done <- s },
		func(err error) { t.Errorf("unexpected reject: %v", err) })
	select {
	case snap := <-done:
		require.Equal(t, "db1", snap["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	sub.Close()
}

func TestClient_Login(t *testing.T) {
	f, c := newFake(t)
	f.on("POST /nuodb-cp/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "acme/admin" || pass != "secret" {
			jsonReply(401, `{}`)(w, r)
			return
		}
		jsonReply(200, `{"token":"t1","expiresAtTime":"2026-10-18T10:00:00Z","accessRule":{"allow":["all:acme"]}}`)(w, r)
	})

	res, err := c.Login(context.Background(), "acme/admin", "secret", "")
	require.NoError(t, err)
	require.Equal(t, "t1", res.Token)
	require.Equal(t, []string{"all:acme"}, res.AccessRule.Allow)
	require.JSONEq(t, `{"expiresIn":"24h"}`, f.last().body)
	exp, err := res.ExpiresAt()
	require.NoError(t, err)
	require.Equal(t, 2026, exp.Year())

	_, err = c.Login(context.Background(), "acme/admin", "wrong", "")
	require.Equal(t, http.StatusUnauthorized, StatusCode(err))
	require.Zero(t, f.count(http.MethodGet, "/nuodb-cp/openapi"))
}

func TestClient_LoginWithoutTokenIsRejected(t *testing.T) {
	f, c := newFake(t)
	f.on("POST /nuodb-cp/login", jsonReply(200, `{"token":"t1"}`))
	_, err := c.Login(context.Background(), "u", "p", "1h")
	require.ErrorIs(t, err, ErrLoginRejected)
}

func TestSession_RoleTemplates(t *testing.T) {
	f, c := newFake(t)
	f.on("GET /nuodb-cp/cluster/roletemplates", jsonReply(200, `{"items":[
		{"name":"dba","spec":{"allow":[{"resource":"all:/databases/{organization}/{project}"}],"deny":[{"resource":"write:/projects/{organization}"}]}},
		{"name":"broken"}
	]}`))

	cat, err := c.Session("tok").RoleTemplates(context.Background())
	require.NoError(t, err)
	q, err := url.ParseQuery(f.last().query)
	require.NoError(t, err)
	require.Equal(t, "1000", q.Get("limit"))
	require.Equal(t, "true", q.Get("expand"))
	vars, ok := cat.RoleVariables("dba")
	require.True(t, ok)
	require.Equal(t, []string{"organization", "project"}, vars)
	_, ok = cat.RoleVariables("broken")
	require.False(t, ok)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	f, c := newFake(t)
	var states []BreakerState
	c.observer = observerFunc(func(s BreakerState) { states = append(states, s) })
	f.on("GET /nuodb-cp/projects", jsonReply(503, `{}`))
	f.on("GET /nuodb-cp/missing", jsonReply(404, `{}`))
	s := c.Session("tok")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Error(t, s.Get(ctx, "/missing", nil))
	}
	require.Equal(t, BreakerClosed, c.Breaker().State())

	for i := 0; i < 3; i++ {
		require.Error(t, s.Get(ctx, "/projects", nil))
	}
	require.Equal(t, BreakerOpen, c.Breaker().State())
	require.ErrorIs(t, s.Get(ctx, "/projects", nil), ErrBreakerOpen)
	require.True(t, IsUnavailable(ErrBreakerOpen))
	require.Equal(t, 3, f.count(http.MethodGet, "/nuodb-cp/projects"))
	require.Equal(t, []BreakerState{BreakerOpen}, states)
}

type observerFunc func(BreakerState)

func (observerFunc) Request(string, int, time.Duration) {}
func (observerFunc) Cache(string)                      {}
func (f observerFunc) BreakerChanged(s BreakerState)   { f(s) }

func TestParentOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/databases/acme/p/db1", "/databases/acme/p"},
		{"/databases/acme/p/db1?timeout=5", "/databases/acme/p"},
		{"/projects", "/projects"},
		{"projects/acme/", "/projects"},
	}
	for _, tt := range tests {
		if got := parentOf(tt.in); got != tt.want {
			t.Errorf("parentOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
