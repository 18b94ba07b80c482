package fetch

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"marketdash/internal/fetch/cache"
)

// CachedClient composes the cache store with the resilient client: a fresh
// hit under the descriptor TTL is served without a network call, a miss
// goes upstream and fills the store on success. Failures are never cached,
// so the next call retries instead of serving a stale error.
//
// Concurrent misses for the same key are coalesced through singleflight so
// a cold key costs one upstream call no matter how many callers race on it.
type CachedClient struct {
	Client *Client
	Store  *cache.Store

	sf singleflight.Group
}

// Fetch resolves d from the cache or the network.
func (c *CachedClient) Fetch(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	key := cache.Key(d.URL, d.Headers)
	if e, ok := c.Store.Fresh(key, d.ttl()); ok {
		return e.Payload, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A flight that just completed may have filled the store.
		if e, ok := c.Store.Fresh(key, d.ttl()); ok {
			return e.Payload, nil
		}
		payload, err := c.Client.Fetch(ctx, d)
		if err != nil {
			return nil, err
		}
		c.Store.Put(key, payload)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}
