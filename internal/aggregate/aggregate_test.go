package aggregate

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/rs/zerolog"

    "marketdash/internal/fetch"
    "marketdash/internal/fetch/cache"
    "marketdash/internal/httpx"
)

func newCoordinator(f Fetcher) *Coordinator {
    return &Coordinator{Client: f, Store: cache.NewStore(0), Log: zerolog.Nop()}
}

func TestAggregate_FieldEntryForEverySource(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        if d.Name == "down" { return nil, errors.New("unreachable") }
        return json.RawMessage(`{"v":1}`), nil
    }}
    cat := []fetch.Descriptor{
        {Name: "up"},
        {Name: "down"},
        {Name: "grouped", Class: fetch.Class{Group: "g1", InterDelay: time.Millisecond}},
    }
    res := newCoordinator(s).Aggregate(context.Background(), cat)

    if len(res.Fields) != 3 {
        t.Fatalf("want a field per configured source, got %v", res.Fields)
    }
    if res.Fields["up"] == nil || res.Fields["grouped"] == nil {
        t.Fatalf("successful sources must carry payloads: %v", res.Fields)
    }
    if res.Fields["down"] != nil {
        t.Fatalf("failed source must be present and nil")
    }
    if len(res.Errors) != 1 || res.Errors[0].Source != "down" {
        t.Fatalf("want exactly one error naming down, got %+v", res.Errors)
    }
    if res.Meta.SourceCount != 3 || res.Meta.GeneratedAt.IsZero() {
        t.Fatalf("meta not attached: %+v", res.Meta)
    }
}

func TestAggregate_ErrorsInCatalogOrder(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        return nil, errors.New(d.Name + " failed")
    }}
    cat := descs("z", "a", "m")
    res := newCoordinator(s).Aggregate(context.Background(), cat)
    if len(res.Errors) != 3 {
        t.Fatalf("want 3 errors, got %+v", res.Errors)
    }
    for i, want := range []string{"z", "a", "m"} {
        if res.Errors[i].Source != want {
            t.Fatalf("errors must follow catalog order, got %+v", res.Errors)
        }
    }
}

func TestAggregate_GroupsRunConcurrently(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        time.Sleep(40 * time.Millisecond)
        return json.RawMessage(`{}`), nil
    }}
    g1 := fetch.Class{Group: "g1", InterDelay: 40 * time.Millisecond}
    g2 := fetch.Class{Group: "g2", InterDelay: 40 * time.Millisecond}
    cat := []fetch.Descriptor{
        {Name: "p1"}, {Name: "p2"},
        {Name: "a1", Class: g1}, {Name: "a2", Class: g1},
        {Name: "b1", Class: g2}, {Name: "b2", Class: g2},
    }

    start := time.Now()
    res := newCoordinator(s).Aggregate(context.Background(), cat)
    elapsed := time.Since(start)

    if len(res.Errors) != 0 {
        t.Fatalf("unexpected errors: %+v", res.Errors)
    }
    // Each group needs ~120ms (two 40ms fetches + one 40ms delay); run
    // sequentially everything would need ~320ms.
    if elapsed > 250*time.Millisecond {
        t.Fatalf("groups and parallel partition should overlap, took %v", elapsed)
    }
}

func TestAggregate_NeverFails(t *testing.T) {
    s := &stubFetcher{respond: func(d fetch.Descriptor) (json.RawMessage, error) {
        panic("every source is broken")
    }}
    res := newCoordinator(s).Aggregate(context.Background(), descs("a", "b"))
    if len(res.Errors) != 2 {
        t.Fatalf("want rejections, not a crash: %+v", res.Errors)
    }
    for _, name := range []string{"a", "b"} {
        if res.Fields[name] != nil {
            t.Fatalf("field %s should be nil", name)
        }
    }
}

func TestResult_MarshalShape(t *testing.T) {
    res := Result{
        Fields: map[string]json.RawMessage{
            "protocols": json.RawMessage(`[{"name":"x"}]`),
            "feeA":      nil,
        },
        Errors: []SourceError{{Source: "feeA", Error: "retries exhausted"}},
        Meta:   Meta{GeneratedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), SourceCount: 2},
    }
    b, err := json.Marshal(res)
    if err != nil { t.Fatal(err) }

    var m map[string]any
    if err := json.Unmarshal(b, &m); err != nil { t.Fatal(err) }
    if m["protocols"] == nil { t.Fatalf("fields must be flattened to top level: %s", b) }
    if v, ok := m["feeA"]; !ok || v != nil {
        t.Fatalf("nil field must serialize as explicit null: %s", b)
    }
    if _, ok := m["_errors"]; !ok { t.Fatalf("_errors missing: %s", b) }
    if _, ok := m["_meta"]; !ok { t.Fatalf("_meta missing: %s", b) }

    // _errors is omitted entirely when empty.
    res.Errors = nil
    b, _ = json.Marshal(res)
    m = map[string]any{}
    _ = json.Unmarshal(b, &m)
    if _, ok := m["_errors"]; ok { t.Fatalf("_errors should be absent when empty: %s", b) }
}

func TestMergePages(t *testing.T) {
    res := Result{Fields: map[string]json.RawMessage{
        "markets_p1": json.RawMessage(`[1,2]`),
        "markets_p2": json.RawMessage(`[3]`),
    }}
    MergePages(&res, "markets", "markets_p1", "markets_p2")
    if string(res.Fields["markets"]) != `[1,2,3]` {
        t.Fatalf("merge failed: %s", res.Fields["markets"])
    }
    if _, ok := res.Fields["markets_p1"]; ok { t.Fatalf("page fields must be dropped") }
}

func TestMergePages_PartialAndTotalFailure(t *testing.T) {
    res := Result{Fields: map[string]json.RawMessage{
        "markets_p1": json.RawMessage(`[1]`),
        "markets_p2": nil,
    }}
    MergePages(&res, "markets", "markets_p1", "markets_p2")
    if string(res.Fields["markets"]) != `[1]` {
        t.Fatalf("partial data should survive: %s", res.Fields["markets"])
    }

    res = Result{Fields: map[string]json.RawMessage{"markets_p1": nil, "markets_p2": nil}}
    MergePages(&res, "markets", "markets_p1", "markets_p2")
    if v, ok := res.Fields["markets"]; !ok || v != nil {
        t.Fatalf("all pages down should leave an explicit nil field")
    }
}

// End-to-end over the real fetch stack: one parallel source, one sequential
// group whose first member is rate-limited once.
func TestAggregate_EndToEnd(t *testing.T) {
    protocols := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Write([]byte(`[{"name":"llama"}]`))
    }))
    defer protocols.Close()

    var feeACalls atomic.Int32
    feeA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if feeACalls.Add(1) == 1 {
            w.Header().Set("Retry-After", "1")
            w.WriteHeader(http.StatusTooManyRequests)
            return
        }
        w.Write([]byte(`{"fee":1}`))
    }))
    defer feeA.Close()

    feeB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Write([]byte(`{"fee":2}`))
    }))
    defer feeB.Close()

    store := cache.NewStore(0)
    cc := &fetch.CachedClient{Client: fetch.NewClient(httpx.New(), zerolog.Nop()), Store: store}
    coord := &Coordinator{Client: cc, Store: store, Log: zerolog.Nop()}

    g1 := fetch.Class{Group: "g1", InterDelay: 100 * time.Millisecond}
    cat := []fetch.Descriptor{
        {Name: "protocols", URL: protocols.URL, TTL: time.Minute},
        {Name: "feeA", URL: feeA.URL, TTL: time.Minute, Class: g1},
        {Name: "feeB", URL: feeB.URL, TTL: time.Minute, Class: g1},
    }

    start := time.Now()
    res := coord.Aggregate(context.Background(), cat)
    elapsed := time.Since(start)

    if len(res.Errors) != 0 {
        t.Fatalf("unexpected errors: %+v", res.Errors)
    }
    for _, name := range []string{"protocols", "feeA", "feeB"} {
        if res.Fields[name] == nil {
            t.Fatalf("field %s missing: %v", name, res.Fields)
        }
    }
    if elapsed < 1100*time.Millisecond {
        t.Fatalf("want >= retry delay (1s) + inter-delay (100ms), got %v", elapsed)
    }
    if got := res.Meta.CacheStats.Total; got != 3 {
        t.Fatalf("all successes should be cached, got %d", got)
    }

    // Warm cache: idempotent fields, no new upstream calls for feeA.
    before := feeACalls.Load()
    res2 := coord.Aggregate(context.Background(), cat)
    if feeACalls.Load() != before {
        t.Fatalf("warm aggregation must not refetch within TTL")
    }
    for name, payload := range res.Fields {
        if string(res2.Fields[name]) != string(payload) {
            t.Fatalf("warm aggregation changed field %s", name)
        }
    }
}
