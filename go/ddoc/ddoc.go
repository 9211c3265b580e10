// Package ddoc provides the design-document store contract consumed by
// the merge coordinator, plus an LRU cache in front of it so the
// revision-gate retry loop (spec.md §4.4) doesn't round-trip to the
// store on every retry attempt.
package ddoc

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the set/db or the design document itself
// does not exist.
var ErrNotFound = errors.New("not_found")

// DesignDoc is the {id, revision, body} triple of spec.md §3. Revision is
// compared only by equality.
type DesignDoc struct {
	ID       string
	Revision string
	Body     map[string]any
}

// Store resolves design documents by set/db and id. Implementations are
// provided by the document store, external to this spec (spec.md §6).
type Store interface {
	GetDDoc(ctx context.Context, set, id string) (DesignDoc, error)
}

// CachingStore wraps a Store with a bounded LRU of the most recently
// resolved revisions, keyed by (set, id). A cache hit still asks the
// caller whether it's acceptable via the normal revision-gate logic in
// go/coordinator; this cache only avoids redundant store round-trips when
// the same (set, id) is re-resolved across retry attempts in quick
// succession.
type CachingStore struct {
	backing Store
	cache   *lru.Cache[cacheKey, DesignDoc]
}

type cacheKey struct{ set, id string }

// NewCachingStore wraps backing with an LRU of the given size. size must
// be positive.
func NewCachingStore(backing Store, size int) (*CachingStore, error) {
	var c, err = lru.New[cacheKey, DesignDoc](size)
	if err != nil {
		return nil, errors.Wrap(err, "constructing ddoc LRU")
	}
	return &CachingStore{backing: backing, cache: c}, nil
}

// GetDDoc returns the cached DesignDoc if present, else resolves and
// caches it via the backing store.
func (c *CachingStore) GetDDoc(ctx context.Context, set, id string) (DesignDoc, error) {
	var key = cacheKey{set, id}
	if doc, ok := c.cache.Get(key); ok {
		return doc, nil
	}
	var doc, err = c.backing.GetDDoc(ctx, set, id)
	if err != nil {
		return DesignDoc{}, err
	}
	c.cache.Add(key, doc)
	return doc, nil
}

// Invalidate drops any cached entry for (set, id), used after a
// revision_mismatch forces a re-resolve against the authoritative store.
func (c *CachingStore) Invalidate(set, id string) {
	c.cache.Remove(cacheKey{set, id})
}
