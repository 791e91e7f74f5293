package customization

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// SettingsStore persists the user layer of each console user.
type SettingsStore interface {
	// Load returns the stored layer of user, an empty layer when none.
	Load(ctx context.Context, user string) ([]byte, error)
	// Save replaces the stored layer of user.
	Save(ctx context.Context, user string, layer []byte) error
}

// --- MemorySettingsStore ---

// MemorySettingsStore keeps user layers in process memory. Suitable for
// tests and single-instance deployments.
type MemorySettingsStore struct {
	mu     sync.RWMutex
	layers map[string][]byte
}

// NewMemorySettingsStore returns an empty store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{layers: map[string][]byte{}}
}

// Load returns a copy of the stored layer.
func (s *MemorySettingsStore) Load(_ context.Context, user string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.layers[user]...), nil
}

// Save stores a copy of layer.
func (s *MemorySettingsStore) Save(_ context.Context, user string, layer []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[user] = append([]byte(nil), layer...)
	return nil
}

// --- RedisSettingsStore ---

// RedisSettingsStore keeps user layers under "dbconsole:settings:{user}".
type RedisSettingsStore struct {
	client redis.Cmdable
}

// NewRedisSettingsStore returns a store backed by client.
func NewRedisSettingsStore(client redis.Cmdable) *RedisSettingsStore {
	return &RedisSettingsStore{client: client}
}

// SettingsKey is the redis key of a user's layer.
func SettingsKey(user string) string {
	return "dbconsole:settings:" + user
}

// Load reads the layer of user.
func (s *RedisSettingsStore) Load(ctx context.Context, user string) ([]byte, error) {
	raw, err := s.client.Get(ctx, SettingsKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", SettingsKey(user), err)
	}
	return raw, nil
}

// Save writes the layer of user without expiry.
func (s *RedisSettingsStore) Save(ctx context.Context, user string, layer []byte) error {
	if err := s.client.Set(ctx, SettingsKey(user), layer, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", SettingsKey(user), err)
	}
	return nil
}

// HealthCheck pings redis.
func (s *RedisSettingsStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// --- PgSettingsStore ---

// PgSettingsStore keeps user layers in the console_user_settings table:
//
//	CREATE TABLE console_user_settings (
//	    username   TEXT PRIMARY KEY,
//	    settings   JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PgSettingsStore struct {
	pool *pgxpool.Pool
}

// NewPgSettingsStore returns a store backed by pool.
func NewPgSettingsStore(pool *pgxpool.Pool) *PgSettingsStore {
	return &PgSettingsStore{pool: pool}
}

// Load reads the layer of user.
func (s *PgSettingsStore) Load(ctx context.Context, user string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM console_user_settings WHERE username = $1`, user,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	return raw, nil
}

// Save upserts the layer of user.
func (s *PgSettingsStore) Save(ctx context.Context, user string, layer []byte) error {
	if !json.Valid(layer) {
		return fmt.Errorf("user settings for %q are not JSON", user)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO console_user_settings (username, settings, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (username) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()`,
		user, layer,
	)
	if err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgSettingsStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
