// Package resolver drives the scan cycle that keeps the metadata cache
// consistent with the library directory: reconcile (purge entries for
// vanished directories), scan (list current work IDs), resolve (fetch
// metadata for new IDs).
package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dlshelf/internal/fetch"
	"dlshelf/internal/images"
	"dlshelf/internal/library"
	"dlshelf/internal/store"
)

// ErrScanInProgress is returned when a cycle is invoked while one is
// already running. The purge step is destructive, so cycles never
// interleave; callers treat this as "already being handled".
var ErrScanInProgress = errors.New("scan already in progress")

// Resolver owns one library root's cache consistency. All collaborators are
// injected; nothing here touches globals.
type Resolver struct {
	scanner    *library.Scanner
	cache      *store.Cache
	sessions   *store.Sessions
	fetcher    fetch.Fetcher
	downloader *images.Downloader
	imageServe *images.Server
	logger     zerolog.Logger

	mu         sync.Mutex
	running    bool
	lastResult *CycleResult
}

func New(
	scanner *library.Scanner,
	cache *store.Cache,
	sessions *store.Sessions,
	fetcher fetch.Fetcher,
	downloader *images.Downloader,
	imageServe *images.Server,
	logger zerolog.Logger,
) *Resolver {
	return &Resolver{
		scanner:    scanner,
		cache:      cache,
		sessions:   sessions,
		fetcher:    fetcher,
		downloader: downloader,
		imageServe: imageServe,
		logger:     logger,
	}
}

// IsRunning reports whether a cycle is currently executing.
func (r *Resolver) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastResult returns the result of the most recent completed cycle, if any.
func (r *Resolver) LastResult() (CycleResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastResult == nil {
		return CycleResult{}, false
	}
	return *r.lastResult, true
}

// CycleResult summarizes one scan cycle.
type CycleResult struct {
	Found         int `json:"found"`
	PurgedEntries int `json:"purgedEntries"`
	PurgedAssets  int `json:"purgedAssets"`
	Resolved      int `json:"resolved"`
	Failed        int `json:"failed"`
}

// Cycle runs one full pass: scan, reconcile, resolve. Only one cycle runs
// at a time; a concurrent call gets ErrScanInProgress. A missing or unset
// library root aborts the cycle before any reconcile, returning the scanner
// error with the cache untouched: a misconfigured root must never purge an
// intact library.
func (r *Resolver) Cycle(ctx context.Context, root, lang string) (CycleResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return CycleResult{}, ErrScanInProgress
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var result CycleResult

	ids, err := r.scanner.ListWorkIDs(root)
	if err != nil {
		return result, err
	}
	result.Found = len(ids)

	purgedEntries, purgedAssets := r.Reconcile(ids)
	result.PurgedEntries = purgedEntries
	result.PurgedAssets = purgedAssets

	resolved, failed := r.ResolveMissing(ctx, ids, lang)
	result.Resolved = resolved
	result.Failed = failed

	r.mu.Lock()
	r.lastResult = &result
	r.mu.Unlock()

	r.logger.Info().
		Int("found", result.Found).
		Int("purged", result.PurgedEntries).
		Int("resolved", result.Resolved).
		Int("failed", result.Failed).
		Msg("scan cycle finished")

	return result, nil
}

// Reconcile removes cache entries whose directory is gone, then asset
// directories belonging to works neither on disk nor still cached. Cache
// purge runs first so an asset directory survives as long as the work is on
// disk or validly cached; a transient cache corruption then costs a
// re-fetch, not a re-download of images. Running it twice with no
// filesystem change is a no-op.
func (r *Resolver) Reconcile(currentIDs []library.WorkID) (purgedEntries, purgedAssets int) {
	current := make(map[library.WorkID]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = struct{}{}
	}

	for _, id := range r.cache.ListIDs() {
		if _, ok := current[id]; ok {
			continue
		}
		if err := r.cache.Delete(id); err != nil {
			r.logger.Error().Err(err).Str("id", string(id)).Msg("cache purge failed")
			continue
		}
		if r.sessions != nil {
			if err := r.sessions.Purge(id); err != nil {
				r.logger.Warn().Err(err).Str("id", string(id)).Msg("session purge failed")
			}
		}
		purgedEntries++
		r.logger.Info().Str("id", string(id)).Msg("purged stale cache entry")
	}

	purgedAssets = r.purgeAssets(current)
	return purgedEntries, purgedAssets
}

func (r *Resolver) purgeAssets(current map[library.WorkID]struct{}) int {
	assetRoot := r.downloader.Root()
	entries, err := os.ReadDir(assetRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("root", assetRoot).Msg("asset root unreadable")
		}
		return 0
	}

	purged := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := library.ParseWorkID(entry.Name())
		if !ok {
			continue
		}
		if _, onDisk := current[id]; onDisk {
			continue
		}
		if r.cache.Has(id) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(assetRoot, entry.Name())); err != nil {
			r.logger.Error().Err(err).Str("id", string(id)).Msg("asset purge failed")
			continue
		}
		if r.imageServe != nil {
			r.imageServe.Invalidate(id)
		}
		purged++
		r.logger.Info().Str("id", string(id)).Msg("purged asset directory")
	}
	return purged
}

// ResolveMissing fetches metadata for every ID that has no cache entry yet.
// IDs are processed strictly sequentially: it bounds load on the fetch
// collaborator, keeps cache writes non-overlapping, and makes the logs
// deterministic. One ID's failure never stops the rest; a failed fetch
// leaves a degraded record so the ID is not retried on the next cycle.
func (r *Resolver) ResolveMissing(ctx context.Context, ids []library.WorkID, lang string) (resolved, failed int) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return resolved, failed
		}
		if r.cache.Has(id) {
			continue
		}
		if r.resolveOne(ctx, id, lang) {
			resolved++
		} else {
			failed++
		}
	}
	return resolved, failed
}

func (r *Resolver) resolveOne(ctx context.Context, id library.WorkID, lang string) bool {
	now := time.Now()

	meta, err := r.fetcher.Fetch(ctx, id, lang)
	if err != nil {
		r.logger.Warn().Err(err).Str("id", string(id)).Msg("metadata fetch failed")

		// Merge into any existing record so user fields (rating, tags,
		// play time) survive a degraded re-resolve.
		saveErr := r.cache.Upsert(id, func(rec *library.WorkRecord) {
			if rec.Title == "" {
				rec.Title = string(id)
			}
			if rec.AddedAt == nil {
				rec.AddedAt = &now
			}
			rec.FetchFailed = true
			rec.LastFetchError = err.Error()
			rec.LastFetchAttemptAt = &now
		})
		if saveErr != nil {
			r.logger.Error().Err(saveErr).Str("id", string(id)).Msg("degraded record save failed")
		}
		return false
	}

	var title string
	saveErr := r.cache.Upsert(id, func(rec *library.WorkRecord) {
		if rec.AddedAt == nil {
			rec.AddedAt = &now
		}
		rec.LastFetchAttemptAt = &now
		rec.ApplyMetadata(meta)
		title = rec.Title
	})
	if saveErr != nil {
		r.logger.Error().Err(saveErr).Str("id", string(id)).Msg("record save failed")
		return false
	}

	r.logger.Info().Str("id", string(id)).Str("title", title).Msg("metadata resolved")

	// Images are best-effort; a record without refs renders a placeholder.
	assets := r.downloader.Download(ctx, id, meta)
	if assets.Cover != "" || len(assets.Samples) > 0 {
		err := r.cache.Update(id, func(rec *library.WorkRecord) {
			rec.CoverImage = assets.Cover
			rec.SampleImages = assets.Samples
		})
		if err != nil {
			r.logger.Error().Err(err).Str("id", string(id)).Msg("image ref save failed")
		}
	}

	return true
}
