package access

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type cacheEntry struct {
	user    string
	rule    Rule
	expires time.Time
}

// Resolver remembers the access rule granted to each session token until the
// token expires. Sessions it has never seen get the fallback rule.
type Resolver struct {
	fallback Rule
	ttl      time.Duration
	mu       sync.RWMutex
	cache    map[string]cacheEntry
	now      func() time.Time
}

// NewResolver creates a Resolver. ttl bounds entries whose token carries no
// expiry of its own.
func NewResolver(fallback Rule, ttl time.Duration) *Resolver {
	return &Resolver{
		fallback: fallback,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Fallback returns the rule of sessions the resolver has not seen.
func (r *Resolver) Fallback() Rule { return r.fallback }

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Remember stores the rule for token. A zero expiresAt uses the resolver TTL.
func (r *Resolver) Remember(token string, rule Rule, expiresAt time.Time) {
	r.RememberSession(token, "", rule, expiresAt)
}

// RememberSession stores the user and rule of a console login.
func (r *Resolver) RememberSession(token, user string, rule Rule, expiresAt time.Time) {
	if token == "" {
		return
	}
	if expiresAt.IsZero() {
		expiresAt = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.cache[tokenKey(token)] = cacheEntry{user: user, rule: rule, expires: expiresAt}
	r.evictExpired()
	r.mu.Unlock()
}

// Resolve returns the rule for token, or the fallback rule.
func (r *Resolver) Resolve(token string) Rule {
	r.mu.RLock()
	entry, ok := r.cache[tokenKey(token)]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.rule
	}
	return r.fallback
}

// Lookup returns the user and expiry recorded for token at login. ok is
// false for unknown or expired tokens and for tokens remembered without a
// user.
func (r *Resolver) Lookup(token string) (user string, expiresAt time.Time, ok bool) {
	r.mu.RLock()
	entry, found := r.cache[tokenKey(token)]
	r.mu.RUnlock()
	if !found || entry.user == "" || !r.now().Before(entry.expires) {
		return "", time.Time{}, false
	}
	return entry.user, entry.expires, true
}

// Forget drops the rule for token, e.g. on logout or a confirmed 401.
func (r *Resolver) Forget(token string) {
	r.mu.Lock()
	delete(r.cache, tokenKey(token))
	r.mu.Unlock()
}

// evictExpired must be called with the write lock held.
func (r *Resolver) evictExpired() {
	now := r.now()
	for k, e := range r.cache {
		if !now.Before(e.expires) {
			delete(r.cache, k)
		}
	}
}
