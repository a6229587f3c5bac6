package template

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource counts fetches and can fail or stall on demand.
type fakeSource struct {
	version string
	fetches atomic.Int64

	mu    sync.Mutex
	fail  error
	stall bool
}

func (f *fakeSource) CurrentVersion(ctx context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeSource) Fetch(ctx context.Context, version string) (*Snapshot, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	fail, stall := f.fail, f.stall
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	return &Snapshot{
		Version: version,
		PDF:     []byte("pdf-" + version),
		Catalog: Catalog{"10100": "Line10100"},
		Fields:  map[string]bool{"Line10100": true},
	}, nil
}

func (f *fakeSource) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func TestCache_SingleFetchAcrossWaiters(t *testing.T) {
	src := &fakeSource{version: "v1"}
	c := NewCache(src, time.Second, discardLog())

	const n = 16
	snaps := make([]*Snapshot, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.Get(context.Background(), "v1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			snaps[i] = snap
		}()
	}
	wg.Wait()

	if got := src.fetches.Load(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	for i := 1; i < n; i++ {
		if snaps[i] != snaps[0] {
			t.Fatal("waiters received different snapshots")
		}
	}
}

func TestCache_HitSkipsSource(t *testing.T) {
	src := &fakeSource{version: "v1"}
	c := NewCache(src, time.Second, discardLog())

	for range 5 {
		if _, err := c.Get(context.Background(), "v1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := src.fetches.Load(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestCache_FailedFetchNotCached(t *testing.T) {
	src := &fakeSource{version: "v1"}
	src.setFail(errors.New("store down"))
	c := NewCache(src, time.Second, discardLog())

	_, err := c.Get(context.Background(), "v1")
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if unavailable.Version != "v1" {
		t.Errorf("expected version v1 in error, got %q", unavailable.Version)
	}

	src.setFail(nil)
	snap, err := c.Get(context.Background(), "v1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if snap.Version != "v1" {
		t.Errorf("expected snapshot v1, got %q", snap.Version)
	}
	if got := src.fetches.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}

func TestCache_InvalidateDropsOnlyThatVersion(t *testing.T) {
	src := &fakeSource{version: "v1"}
	c := NewCache(src, time.Second, discardLog())

	if _, err := c.Get(context.Background(), "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Get(context.Background(), "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Invalidate("v1")

	if _, err := c.Get(context.Background(), "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.fetches.Load(); got != 2 {
		t.Errorf("v2 should still be cached, got %d fetches", got)
	}

	if _, err := c.Get(context.Background(), "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.fetches.Load(); got != 3 {
		t.Errorf("v1 should have refetched, got %d fetches", got)
	}
}

func TestCache_FetchTimeout(t *testing.T) {
	src := &fakeSource{version: "v1", stall: true}
	c := NewCache(src, 20*time.Millisecond, discardLog())

	_, err := c.Get(context.Background(), "v1")
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestCache_CurrentResolvesLiveVersion(t *testing.T) {
	src := &fakeSource{version: "2024.1"}
	c := NewCache(src, time.Second, discardLog())

	snap, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Version != "2024.1" {
		t.Errorf("expected snapshot 2024.1, got %q", snap.Version)
	}

	// A new published version is a new key, not an overwrite.
	src.version = "2024.2"
	snap, err = c.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Version != "2024.2" {
		t.Errorf("expected snapshot 2024.2, got %q", snap.Version)
	}
	if got := src.fetches.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}
