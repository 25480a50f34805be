package query

import (
	"context"
	"sync"
	"time"
)

// promptCache memoizes prompt lookups for a short TTL so repeated queries
// from the same tenant do not hit the database every time. Both hits and
// misses are cached; a stale prompt is served for at most the TTL after
// an update.
type promptCache struct {
	source PromptSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]promptEntry
}

type promptEntry struct {
	value   string
	ok      bool
	fetched time.Time
}

func newPromptCache(source PromptSource, ttl time.Duration) *promptCache {
	return &promptCache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]promptEntry),
	}
}

func (c *promptCache) get(ctx context.Context, tenantID, agentID string) (string, bool, error) {
	key := tenantID + "\x00" + agentID

	c.mu.Lock()
	entry, cached := c.entries[key]
	c.mu.Unlock()
	if cached && c.now().Sub(entry.fetched) < c.ttl {
		return entry.value, entry.ok, nil
	}

	value, ok, err := c.source.GetPrompt(ctx, tenantID, agentID)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	c.entries[key] = promptEntry{value: value, ok: ok, fetched: c.now()}
	c.mu.Unlock()
	return value, ok, nil
}
