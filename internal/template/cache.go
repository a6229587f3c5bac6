package template

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache holds immutable snapshots keyed by version token. Reads are
// lock-free; a miss is single-flighted so N concurrent requests for the
// same version trigger exactly one remote fetch. Entries never expire on
// their own: a new template version simply introduces a new key, and
// Invalidate drops exactly one key.
type Cache struct {
	src     Source
	timeout time.Duration
	log     *slog.Logger

	snaps sync.Map // version -> *Snapshot
	group singleflight.Group
}

// NewCache wraps a source. timeout bounds each remote fetch so no request
// blocks indefinitely on the template store.
func NewCache(src Source, timeout time.Duration, log *slog.Logger) *Cache {
	return &Cache{src: src, timeout: timeout, log: log}
}

// Current resolves the live version token and returns its snapshot.
func (c *Cache) Current(ctx context.Context) (*Snapshot, error) {
	version, err := c.src.CurrentVersion(ctx)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	return c.Get(ctx, version)
}

// Get returns the snapshot for version, fetching and publishing it once on
// miss. All concurrent waiters receive the same snapshot. A failed fetch
// publishes nothing, so later requests retry cleanly.
func (c *Cache) Get(ctx context.Context, version string) (*Snapshot, error) {
	if v, ok := c.snaps.Load(version); ok {
		return v.(*Snapshot), nil
	}

	v, err, shared := c.group.Do(version, func() (any, error) {
		if v, ok := c.snaps.Load(version); ok {
			return v.(*Snapshot), nil
		}
		// Detached from the request context: waiters other than the
		// caller must not lose the fetch to one client disconnecting.
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		snap, err := c.src.Fetch(fetchCtx, version)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = errors.New("fetch timed out")
			}
			return nil, err
		}
		c.snaps.Store(version, snap)
		c.log.Info("published template snapshot",
			"version", version,
			"catalog_entries", len(snap.Catalog),
			"template_bytes", len(snap.PDF),
		)
		return snap, nil
	})
	if err != nil {
		return nil, &UnavailableError{Version: version, Err: err}
	}
	if shared {
		c.log.Debug("template fetch shared across waiters", "version", version)
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the entry for version. Readers of other versions are
// unaffected.
func (c *Cache) Invalidate(version string) {
	c.snaps.Delete(version)
}
