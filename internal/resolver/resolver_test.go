package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlshelf/internal/fetch"
	"dlshelf/internal/images"
	"dlshelf/internal/library"
	"dlshelf/internal/store"
)

// fakeFetcher resolves from a fixed table and records the order of calls.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[library.WorkID]*library.Metadata
	calls   []library.WorkID
	block   chan struct{} // when set, Fetch waits on it
}

var errFetchBoom = errors.New("exit status 1")

func (f *fakeFetcher) Fetch(ctx context.Context, id library.WorkID, lang string) (*library.Metadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	meta, ok := f.results[id]
	if !ok {
		return nil, errFetchBoom
	}
	return meta, nil
}

func (f *fakeFetcher) callCount(id library.WorkID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

type fixture struct {
	root      string
	assetRoot string
	cache     *store.Cache
	fetcher   *fakeFetcher
	resolver  *Resolver
}

func newFixture(t *testing.T, fetcher *fakeFetcher) *fixture {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "library")
	assetRoot := filepath.Join(dir, "img_cache")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cache, err := store.OpenCache(filepath.Join(dir, "cache.json"), zerolog.Nop())
	require.NoError(t, err)

	downloader := images.NewDownloader(assetRoot, nil, zerolog.Nop())
	scanner := library.NewScanner(zerolog.Nop())

	return &fixture{
		root:      root,
		assetRoot: assetRoot,
		cache:     cache,
		fetcher:   fetcher,
		resolver:  New(scanner, cache, nil, fetcher, downloader, nil, zerolog.Nop()),
	}
}

func (f *fixture) addWorkDir(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, id), 0o755))
}

func (f *fixture) addAssetDir(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.assetRoot, id), 0o755))
}

var _ fetch.Fetcher = (*fakeFetcher)(nil)

func TestCycleResolvesAllScannedIDs(t *testing.T) {
	fetcher := &fakeFetcher{results: map[library.WorkID]*library.Metadata{
		"RJ123456": {Title: "Example"},
	}}
	f := newFixture(t, fetcher)
	f.addWorkDir(t, "RJ123456")
	f.addWorkDir(t, "RJ234567") // fetch will fail for this one

	result, err := f.resolver.Cycle(context.Background(), f.root, "en_US")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.Failed)

	// Every scanned ID has a cache entry, full or degraded.
	rec, found := f.cache.Get("RJ123456")
	require.True(t, found)
	assert.Equal(t, "Example", rec.Title)
	assert.False(t, rec.FetchFailed)
	require.NotNil(t, rec.AddedAt)

	degraded, found := f.cache.Get("RJ234567")
	require.True(t, found)
	assert.True(t, degraded.FetchFailed)
	assert.Equal(t, "RJ234567", degraded.Title)
	assert.Equal(t, errFetchBoom.Error(), degraded.LastFetchError)
	require.NotNil(t, degraded.LastFetchAttemptAt)
	require.NotNil(t, degraded.AddedAt)

	// Default view shows both, title-ascending: "Example" before "RJ234567".
	entries := library.View(f.cache.Snapshot(), library.DefaultFilterSpec())
	require.Len(t, entries, 2)
	assert.Equal(t, library.WorkID("RJ123456"), entries[0].ID)
	assert.Equal(t, library.WorkID("RJ234567"), entries[1].ID)
}

func TestDegradedRecordIsNotRetried(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	f.addWorkDir(t, "RJ234567")

	_, err := f.resolver.Cycle(context.Background(), f.root, "")
	require.NoError(t, err)
	_, err = f.resolver.Cycle(context.Background(), f.root, "")
	require.NoError(t, err)

	// The failed ID satisfies cache.Has, so only the first cycle fetched.
	assert.Equal(t, 1, fetcher.callCount("RJ234567"))
}

func TestRetryAfterUserDelete(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	f.addWorkDir(t, "RJ234567")

	_, err := f.resolver.Cycle(context.Background(), f.root, "")
	require.NoError(t, err)

	// Explicit user action: drop the entry, next cycle resolves again.
	require.NoError(t, f.cache.Delete("RJ234567"))
	_, err = f.resolver.Cycle(context.Background(), f.root, "")
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.callCount("RJ234567"))
}

func TestReconcilePurgesVanishedWorks(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	f.addWorkDir(t, "RJ111111")

	require.NoError(t, f.cache.Set("RJ111111", library.WorkRecord{Title: "Keep"}))
	require.NoError(t, f.cache.Set("RJ999999", library.WorkRecord{Title: "Gone"}))

	purged, _ := f.resolver.Reconcile([]library.WorkID{"RJ111111"})
	assert.Equal(t, 1, purged)

	assert.True(t, f.cache.Has("RJ111111"))
	assert.False(t, f.cache.Has("RJ999999"))
}

func TestReconcilePurgesOrphanedAssets(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	f.addWorkDir(t, "RJ111111")

	require.NoError(t, f.cache.Set("RJ111111", library.WorkRecord{}))
	require.NoError(t, f.cache.Set("RJ999999", library.WorkRecord{}))

	f.addAssetDir(t, "RJ111111") // on disk and cached: kept
	f.addAssetDir(t, "RJ999999") // gone from disk, purged from cache: removed
	f.addAssetDir(t, "RJ555555") // neither on disk nor cached: removed
	f.addAssetDir(t, "RJ123456") // on disk but not yet cached: kept
	f.addWorkDir(t, "RJ123456")

	_, purgedAssets := f.resolver.Reconcile([]library.WorkID{"RJ111111", "RJ123456"})
	assert.Equal(t, 2, purgedAssets)

	assert.DirExists(t, filepath.Join(f.assetRoot, "RJ111111"))
	assert.DirExists(t, filepath.Join(f.assetRoot, "RJ123456"))
	assert.NoDirExists(t, filepath.Join(f.assetRoot, "RJ999999"))
	assert.NoDirExists(t, filepath.Join(f.assetRoot, "RJ555555"))
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	f.addWorkDir(t, "RJ111111")
	f.addAssetDir(t, "RJ111111")

	require.NoError(t, f.cache.Set("RJ111111", library.WorkRecord{Title: "Keep"}))
	require.NoError(t, f.cache.Set("RJ999999", library.WorkRecord{Title: "Gone"}))

	current := []library.WorkID{"RJ111111"}
	f.resolver.Reconcile(current)
	afterFirst := f.cache.Snapshot()

	purged, purgedAssets := f.resolver.Reconcile(current)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 0, purgedAssets)
	assert.Equal(t, afterFirst, f.cache.Snapshot())
}

func TestCycleUnconfiguredRoot(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})

	_, err := f.resolver.Cycle(context.Background(), "", "")
	assert.ErrorIs(t, err, library.ErrNotConfigured)

	_, err = f.resolver.Cycle(context.Background(), filepath.Join(f.root, "missing"), "")
	assert.ErrorIs(t, err, library.ErrRootMissing)
}

func TestCycleSingleFlight(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{
		results: map[library.WorkID]*library.Metadata{"RJ123456": {Title: "Example"}},
		block:   block,
	}
	f := newFixture(t, fetcher)
	f.addWorkDir(t, "RJ123456")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.resolver.Cycle(context.Background(), f.root, "")
		assert.NoError(t, err)
	}()

	require.Eventually(t, f.resolver.IsRunning, time.Second, 5*time.Millisecond)

	// A cycle invoked while one runs is rejected, not interleaved.
	_, err := f.resolver.Cycle(context.Background(), f.root, "")
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(block)
	<-done
	assert.False(t, f.resolver.IsRunning())
}

func TestResolveMissingSequentialOrder(t *testing.T) {
	fetcher := &fakeFetcher{results: map[library.WorkID]*library.Metadata{
		"RJ111111": {Title: "A"},
		"RJ222222": {Title: "B"},
		"RJ333333": {Title: "C"},
	}}
	f := newFixture(t, fetcher)

	ids := []library.WorkID{"RJ111111", "RJ222222", "RJ333333"}
	resolved, failed := f.resolver.ResolveMissing(context.Background(), ids, "")
	assert.Equal(t, 3, resolved)
	assert.Equal(t, 0, failed)
	assert.Equal(t, ids, fetcher.calls, "IDs are fetched strictly in order")
}

func TestResolveMergesIntoExistingRecord(t *testing.T) {
	fetcher := &fakeFetcher{results: map[library.WorkID]*library.Metadata{
		"RJ111111": {Title: "Example", Circle: "Circle"},
	}}
	f := newFixture(t, fetcher)

	// A stub left by a recorded play session carries user fields that a
	// resolve must not wipe.
	seed := func(id library.WorkID) {
		require.NoError(t, f.cache.Set(id, library.WorkRecord{
			Title:                string(id),
			Rating:               4,
			CustomTags:           []string{"favorite"},
			TotalPlayTimeSeconds: 300,
		}))
	}
	seed("RJ111111")
	seed("RJ222222")

	assert.True(t, f.resolver.resolveOne(context.Background(), "RJ111111", ""))
	rec, ok := f.cache.Get("RJ111111")
	require.True(t, ok)
	assert.Equal(t, "Example", rec.Title)
	assert.Equal(t, 4, rec.Rating)
	assert.Equal(t, []string{"favorite"}, rec.CustomTags)
	assert.Equal(t, int64(300), rec.TotalPlayTimeSeconds)

	// A failed fetch degrades the record but keeps the user fields too.
	assert.False(t, f.resolver.resolveOne(context.Background(), "RJ222222", ""))
	rec, ok = f.cache.Get("RJ222222")
	require.True(t, ok)
	assert.True(t, rec.FetchFailed)
	assert.Equal(t, "RJ222222", rec.Title)
	assert.Equal(t, 4, rec.Rating)
	assert.Equal(t, int64(300), rec.TotalPlayTimeSeconds)
}
