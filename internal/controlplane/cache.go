package controlplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache outcomes reported to the Observer.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)

type cached struct {
	path    string
	body    []byte
	expires time.Time
}

// readCache is a short-lived read-through cache for idempotent GETs keyed
// by session and path. Concurrent misses for one key share one request.
type readCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cached
}

func newReadCache(ttl time.Duration) *readCache {
	return &readCache{ttl: ttl, now: time.Now, entries: map[string]cached{}}
}

func cacheKey(token, path string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8]) + " " + path
}

// get returns the body for key, loading it when absent or expired. The
// load runs detached from the caller's cancellation so that one caller
// giving up does not fail the others waiting on it.
func (rc *readCache) get(ctx context.Context, token, path string, load func(context.Context) ([]byte, error)) ([]byte, string, error) {
	key := cacheKey(token, path)
	if body, ok := rc.lookup(key); ok {
		return body, CacheHit, nil
	}

	ch := rc.group.DoChan(key, func() (any, error) {
		if body, ok := rc.lookup(key); ok {
			return body, nil
		}
		body, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		rc.store(key, path, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, CacheMiss, ctx.Err()
	case res := <-ch:
		outcome := CacheMiss
		if res.Shared {
			outcome = CacheShared
		}
		if res.Err != nil {
			return nil, outcome, res.Err
		}
		return res.Val.([]byte), outcome, nil
	}
}

func (rc *readCache) lookup(key string) ([]byte, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[key]
	if !ok || !rc.now().Before(e.expires) {
		return nil, false
	}
	return e.body, true
}

func (rc *readCache) store(key, path string, body []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	now := rc.now()
	for k, e := range rc.entries {
		if !now.Before(e.expires) {
			delete(rc.entries, k)
		}
	}
	rc.entries[key] = cached{path: path, body: body, expires: now.Add(rc.ttl)}
}

// invalidate drops every entry whose path starts with prefix, for all
// sessions.
func (rc *readCache) invalidate(prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for k, e := range rc.entries {
		p, _, _ := strings.Cut(e.path, "?")
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			delete(rc.entries, k)
		}
	}
}

func (rc *readCache) len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}
