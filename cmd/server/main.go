package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "marketdash/internal/aggregate"
    "marketdash/internal/catalog"
    "marketdash/internal/config"
    "marketdash/internal/fetch"
    "marketdash/internal/fetch/cache"
    "marketdash/internal/httpx"
)

func main() {
    log := newLogger()

    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatal().Err(err).Msg("config") }
    port := cfg.Server.Port

    if cfg.Coingecko.Enabled && cfg.Coingecko.APIKey == "" {
        log.Warn().Msg("coingecko.enabled=true but COINGECKO_API_KEY not set; free-tier limits apply")
    }

    httpClient := httpx.New()
    store := cache.NewStore(time.Duration(cfg.Fetch.CacheTTLSec) * time.Second)
    client := fetch.NewClient(httpClient, log)
    client.MaxRetries = cfg.Fetch.MaxRetries
    cached := &fetch.CachedClient{Client: client, Store: store}
    coord := &aggregate.Coordinator{Client: cached, Store: store, Log: log}
    sources := catalog.Build(cfg)
    pages := catalog.MarketPages(cfg)
    log.Info().Int("sources", len(sources)).Msg("catalog built")

    cacheControl := fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
        cfg.HTTPCache.MaxAgeSec, cfg.HTTPCache.StaleWhileRevalidateSec)
    requestTimeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        cat, merge, err := selectSources(sources, pages, r.URL.Query().Get("sources"))
        if err != nil {
            http.Error(w, err.Error(), http.StatusBadRequest)
            return
        }
        ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
        defer cancel()
        w.Header().Set("Cache-Control", cacheControl)
        writeDashboard(w, ctx, coord, cat, merge)
    })
    mux.HandleFunc("/api/cache/stats", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        enc := json.NewEncoder(w)
        _ = enc.Encode(store.Stats())
    })
    mux.HandleFunc("/api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        store.Clear()
        log.Info().Msg("cache cleared")
        w.WriteHeader(http.StatusNoContent)
    })

    srv := &http.Server{
        Addr:              ":" + port,
        Handler:           withRequestID(log, withJSONHeaders(withGzip(recoverPanic(limitBody(mux))))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      requestTimeout + 5*time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Info().Str("port", port).Msg("server listening")
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("server")
        }
    }()

    // graceful shutdown
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
}

func newLogger() zerolog.Logger {
    level := zerolog.InfoLevel
    if v := os.Getenv("LOG_LEVEL"); v != "" {
        if l, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil { level = l }
    }
    return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// selectSources narrows the catalog to an optional CSV of source names.
// The page-merge is applied only when at least one page source is selected.
func selectSources(all []fetch.Descriptor, pages []string, csv string) ([]fetch.Descriptor, []string, error) {
    if strings.TrimSpace(csv) == "" { return all, pages, nil }
    names := splitCSV(csv)
    if len(names) > 100 {
        return nil, nil, fmt.Errorf("too many sources (max 100)")
    }
    want := make(map[string]struct{}, len(names))
    for _, n := range names { want[n] = struct{}{} }
    var cat []fetch.Descriptor
    for _, d := range all {
        if _, ok := want[d.Name]; ok { cat = append(cat, d) }
    }
    if len(cat) == 0 {
        return nil, nil, fmt.Errorf("no matching sources")
    }
    var merge []string
    for _, p := range pages {
        if _, ok := want[p]; ok { merge = append(merge, p) }
    }
    return cat, merge, nil
}

func writeDashboard(w http.ResponseWriter, ctx context.Context, coord *aggregate.Coordinator, cat []fetch.Descriptor, pages []string) {
    res := coord.Aggregate(ctx, cat)
    if len(pages) > 0 {
        aggregate.MergePages(&res, catalog.MarketsField, pages...)
    }
    w.WriteHeader(http.StatusOK)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(res)
}

// withRequestID tags each request with an id and logs its outcome.
func withRequestID(log zerolog.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id := r.Header.Get("X-Request-Id")
        if id == "" { id = uuid.NewString() }
        w.Header().Set("X-Request-Id", id)
        start := time.Now()
        next.ServeHTTP(w, r)
        log.Debug().
            Str("request_id", id).
            Str("method", r.Method).
            Str("path", r.URL.Path).
            Dur("elapsed", time.Since(start)).
            Msg("request")
    })
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
