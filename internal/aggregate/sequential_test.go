package aggregate

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "sync"
    "testing"
    "time"

    "marketdash/internal/fetch"
)

// stubFetcher records call order and times and answers from a table.
type stubFetcher struct {
    mu      sync.Mutex
    calls   []string
    started []time.Time
    respond func(d fetch.Descriptor) (json.RawMessage, error)
}

func (s *stubFetcher) Fetch(_ context.Context, d fetch.Descriptor) (json.RawMessage, error) {
    s.mu.Lock()
    s.calls = append(s.calls, d.Name)
    s.started = append(s.started, time.Now())
    s.mu.Unlock()
    if s.respond == nil { return json.RawMessage(`{}`), nil }
    return s.respond(d)
}

func descs(names ...string) []fetch.Descriptor {
    out := make([]fetch.Descriptor, 0, len(names))
    for _, n := range names { out = append(out, fetch.Descriptor{Name: n}) }
    return out
}

func TestSequential_OrderAndSpacing(t *testing.T) {
    s := &stubFetcher{}
    out := Sequential(context.Background(), s, descs("a", "b", "c"), 50*time.Millisecond)

    if len(out) != 3 || out[0].Name != "a" || out[1].Name != "b" || out[2].Name != "c" {
        t.Fatalf("outcomes out of order: %+v", out)
    }
    if got := s.calls; got[0] != "a" || got[1] != "b" || got[2] != "c" {
        t.Fatalf("calls out of order: %v", got)
    }
    if spread := s.started[2].Sub(s.started[0]); spread < 100*time.Millisecond {
        t.Fatalf("c started %v after a; want >= 100ms", spread)
    }
}

func TestSequential_NoDelayAfterLastItem(t *testing.T) {
    s := &stubFetcher{}
    start := time.Now()
    Sequential(context.Background(), s, descs("only"), 500*time.Millisecond)
    if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
        t.Fatalf("single-item batch paid an inter-delay: %v", elapsed)
    }
}

func TestSequential_FailureDoesNotAbortBatch(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        if d.Name == "b" { return nil, errors.New("boom") }
        return json.RawMessage(`{"ok":true}`), nil
    }}
    out := Sequential(context.Background(), s, descs("a", "b", "c"), 0)
    if out[0].Err != nil || out[2].Err != nil {
        t.Fatalf("a and c should succeed: %+v", out)
    }
    if out[1].Err == nil || out[1].Name != "b" {
        t.Fatalf("b should fail: %+v", out[1])
    }
    if len(s.calls) != 3 {
        t.Fatalf("all three sources must be attempted, got %v", s.calls)
    }
}

func TestSequential_ContextCancelSettlesRemainder(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()
    s := &stubFetcher{}
    out := Sequential(ctx, s, descs("a", "b", "c"), 200*time.Millisecond)

    if len(out) != 3 {
        t.Fatalf("every descriptor settles exactly once, got %d", len(out))
    }
    if out[0].Err != nil {
        t.Fatalf("a should complete before the deadline: %v", out[0].Err)
    }
    if out[1].Err == nil || out[2].Err == nil {
        t.Fatalf("b and c should be rejected after cancellation: %+v", out)
    }
    if len(s.calls) != 1 {
        t.Fatalf("no fetch should start after cancellation, got %v", s.calls)
    }
}

func TestSequential_PanicBecomesRejection(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        if d.Name == "b" { panic("schema exploded") }
        return json.RawMessage(`{}`), nil
    }}
    out := Sequential(context.Background(), s, descs("a", "b", "c"), 0)
    if out[1].Err == nil || !strings.Contains(out[1].Err.Error(), "panic") {
        t.Fatalf("panic should settle as a rejection: %+v", out[1])
    }
    if out[0].Err != nil || out[2].Err != nil {
        t.Fatalf("neighbors must be unaffected: %+v", out)
    }
}
