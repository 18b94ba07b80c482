package main

import (
    "context"
    "encoding/json"
    "flag"
    "os"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "marketdash/internal/aggregate"
    "marketdash/internal/catalog"
    "marketdash/internal/config"
    "marketdash/internal/fetch"
    "marketdash/internal/fetch/cache"
    "marketdash/internal/httpx"
)

// One-shot aggregation: fetch the whole catalog (or a subset) once and
// print the merged dashboard JSON to stdout.
func main() {
    var sourcesCSV string
    var configPath string
    var timeout int
    var pretty bool
    var verbose bool

    flag.StringVar(&sourcesCSV, "sources", os.Getenv("SOURCES"), "comma-separated source names (default: all)")
    flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
    flag.IntVar(&timeout, "timeout", 120, "overall timeout seconds")
    flag.BoolVar(&pretty, "pretty", false, "indent output")
    flag.BoolVar(&verbose, "v", false, "debug logging")
    flag.Parse()

    level := zerolog.WarnLevel
    if verbose { level = zerolog.DebugLevel }
    log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatal().Err(err).Msg("config") }

    store := cache.NewStore(time.Duration(cfg.Fetch.CacheTTLSec) * time.Second)
    client := fetch.NewClient(httpx.New(), log)
    client.MaxRetries = cfg.Fetch.MaxRetries
    coord := &aggregate.Coordinator{
        Client: &fetch.CachedClient{Client: client, Store: store},
        Store:  store,
        Log:    log,
    }

    sources := catalog.Build(cfg)
    pages := catalog.MarketPages(cfg)
    if strings.TrimSpace(sourcesCSV) != "" {
        want := make(map[string]struct{})
        for _, s := range strings.Split(sourcesCSV, ",") {
            if s = strings.TrimSpace(s); s != "" { want[s] = struct{}{} }
        }
        var filtered []fetch.Descriptor
        for _, d := range sources {
            if _, ok := want[d.Name]; ok { filtered = append(filtered, d) }
        }
        sources = filtered
        var mergeable []string
        for _, p := range pages {
            if _, ok := want[p]; ok { mergeable = append(mergeable, p) }
        }
        pages = mergeable
    }
    if len(sources) == 0 { log.Fatal().Msg("no sources selected") }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
    defer cancel()

    res := coord.Aggregate(ctx, sources)
    if len(pages) > 0 {
        aggregate.MergePages(&res, catalog.MarketsField, pages...)
    }
    for _, e := range res.Errors {
        log.Warn().Str("source", e.Source).Str("error", e.Error).Msg("source failed")
    }

    enc := json.NewEncoder(os.Stdout)
    enc.SetEscapeHTML(false)
    if pretty { enc.SetIndent("", "  ") }
    if err := enc.Encode(res); err != nil { log.Fatal().Err(err).Msg("encode") }
}
