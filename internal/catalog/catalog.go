package catalog

import (
    "fmt"
    "time"

    "marketdash/internal/config"
    "marketdash/internal/fetch"
)

// Group names for the sequential partitions. Each group maps to one
// provider quota and is sequenced independently of the others.
const (
    GroupCoingecko  = "coingecko"
    GroupBlockchain = "blockchain"
)

// MarketsField is the logical field the paged CoinGecko listings merge
// into after aggregation.
const MarketsField = "markets"

// Build assembles the typed source table once at startup. The catalog
// knows provider URLs, auth headers and quotas; payload shapes are the
// consumers' business.
func Build(cfg config.Config) []fetch.Descriptor {
    timeout := time.Duration(cfg.Fetch.TimeoutSec) * time.Second
    defTTL := time.Duration(cfg.Fetch.CacheTTLSec) * time.Second

    var out []fetch.Descriptor

    if cfg.Llama.Enabled {
        ttl := ttlOr(cfg.Llama.TTLSec, defTTL)
        out = append(out,
            fetch.Descriptor{Name: "protocols", URL: cfg.Llama.BaseURL + "/protocols", TTL: ttl, Timeout: timeout},
            fetch.Descriptor{Name: "stablecoins", URL: cfg.Llama.StablecoinsURL, TTL: ttl, Timeout: timeout},
        )
    }

    if cfg.FearGreed.Enabled {
        out = append(out, fetch.Descriptor{
            Name:    "fearGreed",
            URL:     cfg.FearGreed.Endpoint,
            TTL:     ttlOr(cfg.FearGreed.TTLSec, defTTL),
            Timeout: timeout,
        })
    }

    if cfg.Coingecko.Enabled {
        ttl := ttlOr(cfg.Coingecko.TTLSec, defTTL)
        class := fetch.Class{Group: GroupCoingecko, InterDelay: time.Duration(cfg.Coingecko.InterDelayMs) * time.Millisecond}
        var headers map[string]string
        if cfg.Coingecko.APIKey != "" {
            headers = map[string]string{"x-cg-demo-api-key": cfg.Coingecko.APIKey}
        }
        out = append(out, fetch.Descriptor{
            Name:    "global",
            URL:     cfg.Coingecko.BaseURL + "/global",
            Headers: headers,
            TTL:     ttl,
            Timeout: timeout,
            Class:   class,
        })
        perPage := cfg.Coingecko.PerPage
        if perPage <= 0 { perPage = 250 }
        for i, name := range MarketPages(cfg) {
            out = append(out, fetch.Descriptor{
                Name: name,
                URL: fmt.Sprintf("%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=%d",
                    cfg.Coingecko.BaseURL, perPage, i+1),
                Headers: headers,
                TTL:     ttl,
                Timeout: timeout,
                Class:   class,
            })
        }
    }

    if cfg.Blockchain.Enabled {
        ttl := ttlOr(cfg.Blockchain.TTLSec, defTTL)
        class := fetch.Class{Group: GroupBlockchain, InterDelay: time.Duration(cfg.Blockchain.InterDelayMs) * time.Millisecond}
        charts := []struct{ name, chart string }{
            {"hashrate", "hash-rate"},
            {"difficulty", "difficulty"},
            {"txCount", "n-transactions"},
        }
        for _, c := range charts {
            out = append(out, fetch.Descriptor{
                Name:    c.name,
                URL:     fmt.Sprintf("%s/charts/%s?timespan=%s&format=json", cfg.Blockchain.BaseURL, c.chart, cfg.Blockchain.Timespan),
                TTL:     ttl,
                Timeout: timeout,
                Class:   class,
            })
        }
    }

    return out
}

// MarketPages lists the page field names that merge into MarketsField.
func MarketPages(cfg config.Config) []string {
    if !cfg.Coingecko.Enabled { return nil }
    pages := cfg.Coingecko.Pages
    if pages <= 0 { pages = 1 }
    out := make([]string, 0, pages)
    for p := 1; p <= pages; p++ {
        out = append(out, fmt.Sprintf("markets_p%d", p))
    }
    return out
}

func ttlOr(sec int, def time.Duration) time.Duration {
    if sec <= 0 { return def }
    return time.Duration(sec) * time.Second
}
