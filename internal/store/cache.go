package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

// ErrNotFound means the work ID has no cache entry.
var ErrNotFound = errors.New("work not in cache")

// Cache is the on-disk metadata store: one JSON document mapping work ID to
// record. Every mutation rewrites the whole document immediately, so views
// taken after a mutation always observe it without an explicit reload. The
// in-memory map stays authoritative when a flush fails; the error is
// returned and the next successful mutation writes everything out.
type Cache struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	records map[library.WorkID]library.WorkRecord
}

// OpenCache loads the cache document at path, creating an empty one if the
// file is missing. A corrupt document is logged, reset to empty and
// rewritten rather than surfaced as an error.
func OpenCache(path string, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		path:    path,
		logger:  logger,
		records: make(map[library.WorkID]library.WorkRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := c.flushLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &c.records); err != nil {
			logger.Error().Err(err).Str("path", path).
				Msg("cache document corrupt, resetting to empty")
			c.records = make(map[library.WorkID]library.WorkRecord)
			if err := c.flushLocked(); err != nil {
				return nil, err
			}
		}
	}

	// Older documents may miss the key inside the record; normalize so
	// callers can rely on it.
	for id, rec := range c.records {
		if rec.WorkID == "" {
			rec.WorkID = id
			c.records[id] = rec
		}
	}

	return c, nil
}

// Snapshot returns a copy of the full map, safe for the caller to hold
// across later mutations.
func (c *Cache) Snapshot() map[library.WorkID]library.WorkRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(map[library.WorkID]library.WorkRecord, len(c.records))
	for id, rec := range c.records {
		snap[id] = rec
	}
	return snap
}

// Get returns the record for id.
func (c *Cache) Get(id library.WorkID) (library.WorkRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	return rec, ok
}

// Has reports whether id has an entry, degraded or not.
func (c *Cache) Has(id library.WorkID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[id]
	return ok
}

// ListIDs returns all cached work IDs in map order.
func (c *Cache) ListIDs() []library.WorkID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]library.WorkID, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of cached records.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Set creates or replaces the record for id and persists the document.
func (c *Cache) Set(id library.WorkID, rec library.WorkRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.WorkID = id
	c.records[id] = rec
	return c.flushLocked()
}

// Update applies a mutation to the existing record for id and persists.
// Returns ErrNotFound without touching the document if id is absent.
func (c *Cache) Update(id library.WorkID, apply func(*library.WorkRecord)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return ErrNotFound
	}
	apply(&rec)
	rec.WorkID = id
	c.records[id] = rec
	return c.flushLocked()
}

// Upsert applies a mutation to the record for id, creating a fresh record
// first if none exists, and persists.
func (c *Cache) Upsert(id library.WorkID, apply func(*library.WorkRecord)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		rec = library.WorkRecord{WorkID: id}
	}
	apply(&rec)
	rec.WorkID = id
	c.records[id] = rec
	return c.flushLocked()
}

// Delete removes the entry for id and persists. Deleting an absent id is a
// no-op.
func (c *Cache) Delete(id library.WorkID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return nil
	}
	delete(c.records, id)
	return c.flushLocked()
}

// Clear drops every entry and persists an empty document.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[library.WorkID]library.WorkRecord)
	return c.flushLocked()
}

// flushLocked writes the whole document atomically: marshal, write a temp
// file next to the target, rename over it. Caller holds c.mu.
func (c *Cache) flushLocked() error {
	data, err := json.MarshalIndent(c.records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Error().Err(err).Str("path", c.path).Msg("cache flush failed")
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		c.logger.Error().Err(err).Str("path", c.path).Msg("cache flush failed")
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		c.logger.Error().Err(err).Str("path", c.path).Msg("cache flush failed")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		c.logger.Error().Err(err).Str("path", c.path).Msg("cache flush failed")
		return err
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		c.logger.Error().Err(err).Str("path", c.path).Msg("cache flush failed")
		return err
	}
	return nil
}
