package interaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax/pampax/internal/store"
)

// DefaultCacheTTL is the default signature-cache entry lifetime.
const DefaultCacheTTL = 7 * 24 * time.Hour

// CacheEntry is one signature-cache hit, recording the bundle it
// resolved to and the provenance state it was computed against so a
// later lookup can tell whether it's gone stale.
type CacheEntry struct {
	BundleID         string
	CreatedAt        time.Time
	EmbedderIdentity string
	ProfileVersion   int
	// Provenance maps file path to the content hash of the file at the
	// time the bundle was assembled from it.
	Provenance map[string]string
}

// SignatureCache maps a query signature (see Signature) to the last
// bundle it resolved to, evicting by both TTL and LRU capacity.
type SignatureCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *CacheEntry]
	ttl     time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewSignatureCache creates a cache holding up to capacity entries,
// each expiring after ttl (DefaultCacheTTL if ttl <= 0).
func NewSignatureCache(capacity int, ttl time.Duration) *SignatureCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c, _ := lru.New[string, *CacheEntry](capacity)
	return &SignatureCache{cache: c, ttl: ttl}
}

// Put records entry under key, stamping CreatedAt if unset.
func (s *SignatureCache) Put(key string, entry *CacheEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, entry)
}

// Get returns the cached entry for key if present and not TTL-expired.
// An expired entry is evicted as a side effect of the lookup.
func (s *SignatureCache) Get(key string) (*CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	if time.Since(entry.CreatedAt) > s.ttl {
		s.cache.Remove(key)
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return entry, true
}

// Hits reports the number of Get calls that returned a live entry.
func (s *SignatureCache) Hits() int64 { return s.hits.Load() }

// Misses reports the number of Get calls that found nothing or a
// TTL-expired entry.
func (s *SignatureCache) Misses() int64 { return s.misses.Load() }

// Invalidate removes key unconditionally.
func (s *SignatureCache) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

// Len reports the current entry count.
func (s *SignatureCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Fresh reports whether entry is still valid against the current
// repository state: none of its provenance files may have a newer
// content hash, and the embedder identity / packing profile version it
// was built against must be unchanged (spec.md §4.10 invalidation
// triggers: file change, embedder identity change, profile version
// change).
func Fresh(ctx context.Context, meta store.MetadataStore, projectID string, entry *CacheEntry, currentEmbedder string, currentProfileVersion int) bool {
	if entry.EmbedderIdentity != currentEmbedder {
		return false
	}
	if entry.ProfileVersion != currentProfileVersion {
		return false
	}
	for path, hash := range entry.Provenance {
		f, err := meta.GetFileByPath(ctx, projectID, path)
		if err != nil || f == nil {
			return false
		}
		if f.ContentHash != hash {
			return false
		}
	}
	return true
}
