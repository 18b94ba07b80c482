package aggregate

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "marketdash/internal/fetch"
    "marketdash/internal/fetch/cache"
)

// Coordinator is the per-request entry point: it partitions the source
// catalog into a parallel partition and independently rate-limited
// sequential groups, drives them concurrently, and merges every outcome
// into one Result.
//
// The coordinator itself never fails. Upstream outages degrade to nil
// fields plus entries in Errors, so a consumer can render a partial
// dashboard instead of an error page.
type Coordinator struct {
    Client Fetcher
    Store  *cache.Store
    Log    zerolog.Logger
}

// Aggregate resolves the whole catalog and merges the outcomes.
// Within a sequential group outcomes keep catalog order; across the
// parallel partition and across groups no relative order is guaranteed,
// which is fine because the merge is keyed by source name.
func (c *Coordinator) Aggregate(ctx context.Context, catalog []fetch.Descriptor) Result {
    res := Result{Fields: make(map[string]json.RawMessage, len(catalog))}
    for _, d := range catalog { res.Fields[d.Name] = nil }

    // Partition by concurrency class, keeping catalog order inside groups.
    var parallel []fetch.Descriptor
    var groupOrder []string
    groups := make(map[string][]fetch.Descriptor)
    delays := make(map[string]time.Duration)
    for _, d := range catalog {
        if !d.Class.Sequential() { parallel = append(parallel, d); continue }
        g := d.Class.Group
        if _, ok := groups[g]; !ok {
            groupOrder = append(groupOrder, g)
            delays[g] = d.Class.InterDelay
        }
        groups[g] = append(groups[g], d)
    }

    var mu sync.Mutex
    settled := make(map[string]Outcome, len(catalog))
    record := func(outs ...Outcome) {
        mu.Lock()
        for _, o := range outs { settled[o.Name] = o }
        mu.Unlock()
    }

    var wg sync.WaitGroup
    for _, d := range parallel {
        wg.Add(1)
        go func(d fetch.Descriptor) {
            defer wg.Done()
            record(settle(ctx, c.Client, d))
        }(d)
    }
    for _, g := range groupOrder {
        wg.Add(1)
        go func(descs []fetch.Descriptor, delay time.Duration) {
            defer wg.Done()
            record(Sequential(ctx, c.Client, descs, delay)...)
        }(groups[g], delays[g])
    }
    wg.Wait()

    // Merge; rejections are reported in catalog order.
    for _, d := range catalog {
        o := settled[d.Name]
        if o.Err != nil {
            c.Log.Warn().Str("source", d.Name).Err(o.Err).Msg("source failed")
            res.Errors = append(res.Errors, SourceError{Source: d.Name, Error: o.Err.Error()})
            continue
        }
        res.Fields[d.Name] = o.Payload
    }

    res.Meta = Meta{GeneratedAt: time.Now().UTC(), SourceCount: len(catalog)}
    if c.Store != nil { res.Meta.CacheStats = c.Store.Stats() }
    return res
}

// MergePages concatenates paged array fields into one logical field and
// drops the page entries. It is a pure post-merge adapter, not part of the
// aggregation contract: pages that failed or are not arrays are skipped, and
// the logical field goes nil only when no page produced data. Errors already
// recorded for failed pages stand.
func MergePages(res *Result, logical string, pages ...string) {
    var merged []json.RawMessage
    got := false
    for _, p := range pages {
        payload := res.Fields[p]
        delete(res.Fields, p)
        if payload == nil { continue }
        var arr []json.RawMessage
        if err := json.Unmarshal(payload, &arr); err != nil { continue }
        got = true
        merged = append(merged, arr...)
    }
    if !got {
        res.Fields[logical] = nil
        return
    }
    if merged == nil { merged = []json.RawMessage{} }
    b, err := json.Marshal(merged)
    if err != nil {
        res.Fields[logical] = nil
        return
    }
    res.Fields[logical] = b
}
