package tilecache_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samirrijal/terragrid/internal/adapters/memory"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
	"github.com/samirrijal/terragrid/internal/pkg/tilecache"
)

type mockSource struct {
	name    string
	fetchFn func(ctx context.Context, req domain.FetchRequest) ([]byte, error)
	calls   atomic.Int32
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	m.calls.Add(1)
	return m.fetchFn(ctx, req)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

var tileReq = domain.FetchRequest{Tile: &domain.TileCoordinate{X: 8058, Y: 6004, Z: 14}}

func TestEntry_RoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 42, time.UTC)
	in := domain.CacheEntry{Key: "xyz:tile:14/1/2", Payload: []byte{0, 1, 2, 0xff}, StoredAt: at}

	out, err := tilecache.DecodeEntry(tilecache.EncodeEntry(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Key != in.Key || string(out.Payload) != string(in.Payload) || !out.StoredAt.Equal(at) {
		t.Errorf("round trip mismatch: %+v", out)
	}

	if _, err := tilecache.DecodeEntry([]byte{0x0a, 0x05, 'a'}); err == nil {
		t.Error("expected error for truncated entry")
	}
}

func TestSource_HitAfterMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg)
	src := &mockSource{name: "xyz", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		return []byte("tile"), nil
	}}
	store := memory.NewCache()
	cached := tilecache.New(store, time.Hour, tilecache.WithMetrics(m)).Wrap(src)

	if cached.Name() != "xyz" {
		t.Errorf("Name = %q", cached.Name())
	}
	for i := 0; i < 3; i++ {
		body, err := cached.Fetch(context.Background(), tileReq)
		if err != nil || string(body) != "tile" {
			t.Fatalf("fetch %d: %q, %v", i, body, err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d keys, want 1", store.Len())
	}
	expected := `
# HELP terragrid_cache_hits_total Total tile cache hits
# TYPE terragrid_cache_hits_total counter
terragrid_cache_hits_total{source="xyz"} 2
# HELP terragrid_cache_misses_total Total tile cache misses
# TYPE terragrid_cache_misses_total counter
terragrid_cache_misses_total{source="xyz"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"terragrid_cache_hits_total", "terragrid_cache_misses_total"); err != nil {
		t.Error(err)
	}
}

func TestSource_ExpiredEntryRefetches(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	src := &mockSource{name: "pmtiles", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		return []byte("v"), nil
	}}
	cached := tilecache.New(memory.NewCache(), time.Minute, tilecache.WithClock(clock)).Wrap(src)

	if _, err := cached.Fetch(context.Background(), tileReq); err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Second)
	if _, err := cached.Fetch(context.Background(), tileReq); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("fresh entry should be served, calls = %d", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.Fetch(context.Background(), tileReq); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("stale entry should refetch, calls = %d", got)
	}
}

func TestSource_ErrorsAreNotCached(t *testing.T) {
	fail := true
	src := &mockSource{name: "xyz", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		if fail {
			return nil, domain.ErrTileNotFound
		}
		return []byte("ok"), nil
	}}
	store := memory.NewCache()
	cached := tilecache.New(store, time.Hour).Wrap(src)

	if _, err := cached.Fetch(context.Background(), tileReq); !errors.Is(err, domain.ErrTileNotFound) {
		t.Fatalf("expected ErrTileNotFound, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("failed fetch must not be stored")
	}
	fail = false
	if body, err := cached.Fetch(context.Background(), tileReq); err != nil || string(body) != "ok" {
		t.Errorf("retry after failure: %q, %v", body, err)
	}
}

func TestSource_BrokenStoreFallsThrough(t *testing.T) {
	src := &mockSource{name: "overpass", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		return []byte("{}"), nil
	}}
	cached := tilecache.New(brokenStore{}, time.Hour).Wrap(src)

	req := domain.FetchRequest{Region: domain.Region{Center: domain.GeoPoint{Lat: 43.26, Lon: -2.93}, RadiusMeters: 200}}
	body, err := cached.Fetch(context.Background(), req)
	if err != nil || string(body) != "{}" {
		t.Fatalf("expected upstream payload despite cache failure, got %q, %v", body, err)
	}
}

func TestSource_KeysDoNotCollide(t *testing.T) {
	store := memory.NewCache()
	cache := tilecache.New(store, time.Hour)
	a := cache.Wrap(&mockSource{name: "xyz", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		return []byte("a"), nil
	}})
	b := cache.Wrap(&mockSource{name: "pmtiles", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		return []byte("b"), nil
	}})

	if body, _ := a.Fetch(context.Background(), tileReq); string(body) != "a" {
		t.Errorf("xyz got %q", body)
	}
	if body, _ := b.Fetch(context.Background(), tileReq); string(body) != "b" {
		t.Errorf("pmtiles got %q", body)
	}
}

func TestSource_ConcurrentFetchesShareUpstream(t *testing.T) {
	release := make(chan struct{})
	src := &mockSource{name: "xyz", fetchFn: func(context.Context, domain.FetchRequest) ([]byte, error) {
		<-release
		return []byte("shared"), nil
	}}
	cached := tilecache.New(memory.NewCache(), time.Hour).Wrap(src)

	const n = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			body, err := cached.Fetch(context.Background(), tileReq)
			if err == nil && string(body) != "shared" {
				err = errors.New("unexpected body " + string(body))
			}
			errs <- err
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if got := src.calls.Load(); got > 2 {
		t.Errorf("upstream calls = %d, expected in-flight sharing", got)
	}
}

func TestSource_CancelledCallerDoesNotFailOthers(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var upstreamCancelled atomic.Bool
	src := &mockSource{name: "xyz", fetchFn: func(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		if err := ctx.Err(); err != nil {
			upstreamCancelled.Store(true)
			return nil, err
		}
		return []byte("shared"), nil
	}}
	store := memory.NewCache()
	cached := tilecache.New(store, time.Hour).Wrap(src)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Fetch(firstCtx, tileReq)
		firstErr <- err
	}()
	<-entered

	type result struct {
		body []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		body, err := cached.Fetch(context.Background(), tileReq)
		second <- result{body, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared fetch")
	}

	close(release)
	r := <-second
	if r.err != nil || string(r.body) != "shared" {
		t.Fatalf("second caller got %q, %v", r.body, r.err)
	}
	if upstreamCancelled.Load() {
		t.Error("upstream fetch saw a cancelled context")
	}
	if store.Len() != 1 {
		t.Errorf("shared payload should be cached, store has %d entries", store.Len())
	}
}
