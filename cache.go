package continuum

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Cache is the pluggable layer behind Recall's fingerprint lookup.
// Implementations must degrade silently: a cache failure is always a
// miss, never a caller-visible error (KindCache is always swallowed),
// using a pass-through fallback rather than requiring a concrete Redis
// client — no Redis SDK is assumed here, so RedisClient below is modeled
// as an interface a caller supplies rather than a fabricated dependency.
type Cache interface {
	GetSearch(ctx context.Context, tenantID, fingerprint string) (RecallResult, bool)
	SetSearch(ctx context.Context, tenantID, fingerprint string, result RecallResult, ttl time.Duration)
	InvalidateSearch(ctx context.Context, tenantID string)
	GetStatsCache(ctx context.Context, tenantID string) (EntityStats, bool)
	SetStatsCache(ctx context.Context, tenantID string, stats EntityStats, ttl time.Duration)
	InvalidateStats(ctx context.Context, tenantID string)
	InvalidateGraph(ctx context.Context, tenantID string)
}

// Fingerprint derives a stable cache key for a recall query. Identical
// messages (modulo case and surrounding whitespace) against the same
// tenant, max-concepts budget, verbatim addendum setting, embedding
// provider, and cache schema version always collide. providerID and
// schemaVersion are included so that swapping embedding providers or
// changing RecallResult's cached shape never serves a stale hit from the
// old provider/schema under the same key.
func Fingerprint(tenantID, message string, maxConcepts int, includeVerbatim bool, providerID string, schemaVersion int) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForFingerprint(message)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxConcepts)))
	h.Write([]byte{0})
	if includeVerbatim {
		h.Write([]byte{1})
	}
	h.Write([]byte{0})
	h.Write([]byte(providerID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(schemaVersion)))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// normalizeForFingerprint folds whitespace and case differences that
// shouldn't produce distinct cache entries for what is, semantically, the
// same query.
func normalizeForFingerprint(message string) string {
	return strings.ToLower(strings.Join(strings.Fields(message), " "))
}

// providerID returns a stable identifier for an embedding provider, used
// to namespace Fingerprint so a provider swap can't serve a cached result
// computed against a different provider's semantics. Providers of any
// other type all map to "unknown"; a nil provider (verbatim-only recall)
// gets the fixed sentinel "none".
func providerID(e EmbeddingProvider) string {
	switch p := e.(type) {
	case nil:
		return "none"
	case *TruncatingProvider:
		return "truncating:" + providerID(p.inner) + ":" + strconv.Itoa(p.dim)
	case *OpenAIEmbedder:
		return "openai:" + p.model
	case *OllamaEmbedder:
		return "ollama:" + p.model
	case *GeminiEmbedder:
		return "gemini"
	default:
		return "unknown"
	}
}

// cacheKey namespaces every key by tenant so one tenant's cache churn can
// never evict or leak into another's.
func cacheKey(tenantID, kind, id string) string {
	return tenantID + ":" + kind + ":" + id
}

// --- In-process fallback (default Cache; no external dependency) ---

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// InProcessCache is a bounded LRU cache kept entirely in memory. NewEngine
// uses it when CacheEnabled is set; with CacheEnabled unset the engine runs
// without a cache, and NewEngine never selects RedisCache. It never blocks
// on a network call, so it degrades purely on capacity (LRU eviction) and
// TTL expiry rather than on connectivity.
type InProcessCache struct {
	mu      sync.Mutex
	cap     int
	ll      *list.List
	items   map[string]*list.Element
	tenants map[string]map[string]bool // tenantID -> set of keys, for bulk invalidation
}

// NewInProcessCache builds an LRU cache bounded to capacity entries.
func NewInProcessCache(capacity int) *InProcessCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &InProcessCache{
		cap:     capacity,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		tenants: make(map[string]map[string]bool),
	}
}

func (c *InProcessCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *InProcessCache) set(tenantID, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.ll.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	el := c.ll.PushFront(entry)
	c.items[key] = el

	if c.tenants[tenantID] == nil {
		c.tenants[tenantID] = make(map[string]bool)
	}
	c.tenants[tenantID][key] = true

	for c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

func (c *InProcessCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
}

func (c *InProcessCache) invalidateTenant(tenantID, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.tenants[tenantID] {
		if prefix == "" || hasPrefix(key, tenantID+":"+prefix) {
			if el, ok := c.items[key]; ok {
				c.removeLocked(el)
			}
			delete(c.tenants[tenantID], key)
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (c *InProcessCache) GetSearch(_ context.Context, tenantID, fingerprint string) (RecallResult, bool) {
	raw, ok := c.get(cacheKey(tenantID, "search", fingerprint))
	if !ok {
		return RecallResult{}, false
	}
	var result RecallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return RecallResult{}, false
	}
	result.CacheHit = true
	return result, true
}

func (c *InProcessCache) SetSearch(_ context.Context, tenantID, fingerprint string, result RecallResult, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	c.set(tenantID, cacheKey(tenantID, "search", fingerprint), raw, ttl)
}

func (c *InProcessCache) InvalidateSearch(_ context.Context, tenantID string) {
	c.invalidateTenant(tenantID, "search")
}

func (c *InProcessCache) GetStatsCache(_ context.Context, tenantID string) (EntityStats, bool) {
	raw, ok := c.get(cacheKey(tenantID, "stats", "all"))
	if !ok {
		return EntityStats{}, false
	}
	var stats EntityStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return EntityStats{}, false
	}
	return stats, true
}

func (c *InProcessCache) SetStatsCache(_ context.Context, tenantID string, stats EntityStats, ttl time.Duration) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	c.set(tenantID, cacheKey(tenantID, "stats", "all"), raw, ttl)
}

func (c *InProcessCache) InvalidateStats(_ context.Context, tenantID string) {
	c.invalidateTenant(tenantID, "stats")
}

func (c *InProcessCache) InvalidateGraph(_ context.Context, tenantID string) {
	// A graph mutation (new/pruned link) can shift expansion results for
	// any cached search, so the whole search namespace is dropped.
	c.invalidateTenant(tenantID, "search")
}

// --- Optional external cache, against a caller-supplied client ---

// RedisClient is the minimal shape NewRedisCache needs. No concrete Redis
// SDK is imported here — the retrieved corpus does not carry one — so a
// caller wires in whichever client library they already depend on.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisCache adapts a RedisClient to the Cache interface. Every method
// swallows client errors into a cache miss / no-op: a cache failure is
// never surfaced to the caller, it just degrades to a live lookup.
type RedisCache struct {
	client RedisClient
	logger interface {
		Warnw(string, ...any)
	}
}

// NewRedisCache wraps client. logger may be nil.
func NewRedisCache(client RedisClient, logger interface{ Warnw(string, ...any) }) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (r *RedisCache) warn(op string, err error) {
	if r.logger != nil {
		r.logger.Warnw("cache operation degraded to miss", "op", op, "err", err)
	}
}

func (r *RedisCache) GetSearch(ctx context.Context, tenantID, fingerprint string) (RecallResult, bool) {
	raw, err := r.client.Get(ctx, cacheKey(tenantID, "search", fingerprint))
	if err != nil || raw == "" {
		if err != nil {
			r.warn("GetSearch", err)
		}
		return RecallResult{}, false
	}
	var result RecallResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		r.warn("GetSearch.unmarshal", err)
		return RecallResult{}, false
	}
	result.CacheHit = true
	return result, true
}

func (r *RedisCache) SetSearch(ctx context.Context, tenantID, fingerprint string, result RecallResult, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, cacheKey(tenantID, "search", fingerprint), string(raw), ttl); err != nil {
		r.warn("SetSearch", err)
	}
}

func (r *RedisCache) InvalidateSearch(ctx context.Context, tenantID string) {
	r.invalidatePattern(ctx, tenantID+":search:*")
}

func (r *RedisCache) GetStatsCache(ctx context.Context, tenantID string) (EntityStats, bool) {
	raw, err := r.client.Get(ctx, cacheKey(tenantID, "stats", "all"))
	if err != nil || raw == "" {
		if err != nil {
			r.warn("GetStatsCache", err)
		}
		return EntityStats{}, false
	}
	var stats EntityStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		r.warn("GetStatsCache.unmarshal", err)
		return EntityStats{}, false
	}
	return stats, true
}

func (r *RedisCache) SetStatsCache(ctx context.Context, tenantID string, stats EntityStats, ttl time.Duration) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, cacheKey(tenantID, "stats", "all"), string(raw), ttl); err != nil {
		r.warn("SetStatsCache", err)
	}
}

func (r *RedisCache) InvalidateStats(ctx context.Context, tenantID string) {
	r.invalidatePattern(ctx, tenantID+":stats:*")
}

func (r *RedisCache) InvalidateGraph(ctx context.Context, tenantID string) {
	r.invalidatePattern(ctx, tenantID+":search:*")
}

func (r *RedisCache) invalidatePattern(ctx context.Context, pattern string) {
	keys, err := r.client.Keys(ctx, pattern)
	if err != nil {
		r.warn("invalidatePattern.keys", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...); err != nil {
		r.warn("invalidatePattern.del", err)
	}
}
