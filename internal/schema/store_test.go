package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

const storeDocument = `{
  "openapi": "3.0.3",
  "info": {"title": "cp", "version": "1"},
  "paths": {
    "/projects/{organization}": {
      "get": {
        "x-ui": true,
        "parameters": [{"name": "organization", "in": "path", "required": true, "schema": {"$ref": "#/components/schemas/Name"}}],
        "responses": {"200": {"description": "ok"}, "404": {"description": "missing"}}
      }
    }
  },
  "components": {"schemas": {"Name": {"type": "string"}}}
}`

type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) FetchDocument(ctx context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(storeDocument), nil
}

func TestStore_SharesConcurrentFetch(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	s := NewStore(f, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = s.Get(context.Background(), "tok")
		}(i)
	}

	// Let every caller reach the shared fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	for i := range snaps {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if snaps[i] != snaps[0] {
			t.Errorf("caller %d got a different snapshot", i)
		}
	}
}

func TestStore_PublishesNormalizedSnapshot(t *testing.T) {
	s := NewStore(&countingFetcher{}, zap.NewNop())
	if s.Loaded() {
		t.Fatal("Loaded() = true before first Get")
	}

	snap, err := s.Get(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !s.Loaded() {
		t.Error("Loaded() = false after Get")
	}

	item := snap.Paths["/projects/{organization}"]
	if item == nil {
		t.Fatalf("paths = %v", snap.Paths)
	}
	get := item["get"].(map[string]any)
	responses := get["responses"].(map[string]any)
	if _, ok := responses["404"]; ok {
		t.Error("404 response should be stripped")
	}
	param := get["parameters"].([]any)[0].(map[string]any)
	if param["schema"].(map[string]any)["type"] != "string" {
		t.Errorf("parameter schema not inlined: %v", param)
	}
	if snap.Index == nil || len(snap.Index.Navigation()) != 1 {
		t.Error("openapi index should expose one navigation entry")
	}
}

func TestStore_CachesUntilInvalidate(t *testing.T) {
	f := &countingFetcher{}
	s := NewStore(f, zap.NewNop())
	ctx := context.Background()

	first, _ := s.Get(ctx, "tok")
	second, _ := s.Get(ctx, "tok")
	if first != second || f.calls.Load() != 1 {
		t.Fatalf("second Get should hit the cache, calls = %d", f.calls.Load())
	}

	s.Invalidate()
	third, err := s.Get(ctx, "tok")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if third == first {
		t.Error("Invalidate should force a new snapshot")
	}
	if f.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", f.calls.Load())
	}
}

func TestStore_ErrorIsNotCached(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	var observed atomic.Int32
	s := NewStore(f, zap.NewNop(), WithFetchObserver(func(time.Duration, error) { observed.Add(1) }))

	if _, err := s.Get(context.Background(), "tok"); err == nil {
		t.Fatal("expected error")
	}
	f.err = nil
	if _, err := s.Get(context.Background(), "tok"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if observed.Load() != 2 {
		t.Errorf("observer calls = %d, want 2", observed.Load())
	}
}

func TestStore_CallerCancellation(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	defer close(f.release)
	s := NewStore(f, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Get(ctx, "tok"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
