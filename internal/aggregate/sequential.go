package aggregate

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "marketdash/internal/fetch"
)

// Fetcher is the single dependency of the orchestration layer, satisfied
// by *fetch.CachedClient.
type Fetcher interface {
    Fetch(ctx context.Context, d fetch.Descriptor) (json.RawMessage, error)
}

// Outcome is the settled result of one source: either a payload or an error.
type Outcome struct {
    Name    string
    Payload json.RawMessage
    Err     error
}

// settle resolves one descriptor, converting a panic in the fetch path into
// a rejection so one faulty source cannot take down the aggregation.
func settle(ctx context.Context, client Fetcher, d fetch.Descriptor) (o Outcome) {
    o.Name = d.Name
    defer func() {
        if r := recover(); r != nil {
            o.Payload, o.Err = nil, fmt.Errorf("panic: %v", r)
        }
    }()
    o.Payload, o.Err = client.Fetch(ctx, d)
    return o
}

// Sequential drives descriptors through the client one at a time, sleeping
// interDelay between calls so a quota-limited provider never sees a burst.
// The returned slice has the same length and order as descs; item i is fully
// settled before item i+1 starts, and no failure aborts the batch.
//
// The delay is paid even when an item was served from cache. Skipping it
// would be cheaper but changes measured quota compliance, so the
// conservative behavior stays.
func Sequential(ctx context.Context, client Fetcher, descs []fetch.Descriptor, interDelay time.Duration) []Outcome {
    out := make([]Outcome, len(descs))
    for i, d := range descs {
        out[i] = settle(ctx, client, d)
        if i == len(descs)-1 || interDelay <= 0 { continue }
        if err := sleep(ctx, interDelay); err != nil {
            // Context gone: the remaining sources settle as rejected.
            for j := i + 1; j < len(descs); j++ {
                out[j] = Outcome{Name: descs[j].Name, Err: err}
            }
            return out
        }
    }
    return out
}

func sleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
