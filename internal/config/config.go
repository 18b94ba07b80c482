package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"
)

type Server struct {
    Port              string `json:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec"`
}

// Fetch tunes the resilient fetch layer shared by every source.
type Fetch struct {
    TimeoutSec  int `json:"timeout_sec"`
    MaxRetries  int `json:"max_retries"`
    CacheTTLSec int `json:"cache_ttl_sec"`
}

// HTTPCache is the caching directive the server attaches to dashboard
// responses for downstream consumers and CDNs.
type HTTPCache struct {
    MaxAgeSec               int `json:"max_age_sec"`
    StaleWhileRevalidateSec int `json:"stale_while_revalidate_sec"`
}

type Llama struct {
    Enabled        bool   `json:"enabled"`
    BaseURL        string `json:"base_url"`
    StablecoinsURL string `json:"stablecoins_url"`
    TTLSec         int    `json:"ttl_sec"`
}

type FearGreed struct {
    Enabled  bool   `json:"enabled"`
    Endpoint string `json:"endpoint"`
    TTLSec   int    `json:"ttl_sec"`
}

type Coingecko struct {
    Enabled       bool   `json:"enabled"`
    BaseURL       string `json:"base_url"`
    APIKey        string `json:"api_key"`
    Pages         int    `json:"pages"`
    PerPage       int    `json:"per_page"`
    InterDelayMs  int    `json:"inter_delay_ms"`
    TTLSec        int    `json:"ttl_sec"`
}

type Blockchain struct {
    Enabled      bool   `json:"enabled"`
    BaseURL      string `json:"base_url"`
    Timespan     string `json:"timespan"`
    InterDelayMs int    `json:"inter_delay_ms"`
    TTLSec       int    `json:"ttl_sec"`
}

type Config struct {
    Server     Server     `json:"server"`
    Fetch      Fetch      `json:"fetch"`
    HTTPCache  HTTPCache  `json:"http_cache"`
    Llama      Llama      `json:"llama"`
    FearGreed  FearGreed  `json:"fear_greed"`
    Coingecko  Coingecko  `json:"coingecko"`
    Blockchain Blockchain `json:"blockchain"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 45},
        Fetch:  Fetch{TimeoutSec: 30, MaxRetries: 3, CacheTTLSec: 900},
        HTTPCache: HTTPCache{MaxAgeSec: 900, StaleWhileRevalidateSec: 300},
        Llama: Llama{
            Enabled:        true,
            BaseURL:        "https://api.llama.fi",
            StablecoinsURL: "https://stablecoins.llama.fi/stablecoins?includePrices=true",
            TTLSec:         900,
        },
        FearGreed: FearGreed{
            Enabled:  true,
            Endpoint: "https://api.alternative.me/fng/?limit=30&format=json",
            TTLSec:   900,
        },
        Coingecko: Coingecko{
            Enabled: true,
            BaseURL: "https://api.coingecko.com/api/v3",
            // Free tier allows ~30 req/min; 1.5s spacing keeps a margin.
            Pages:        4,
            PerPage:      250,
            InterDelayMs: 1500,
            TTLSec:       900,
        },
        Blockchain: Blockchain{
            Enabled:      true,
            BaseURL:      "https://api.blockchain.info",
            Timespan:     "1year",
            InterDelayMs: 1000,
            TTLSec:       900,
        },
    }
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := json.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    return cfg, nil
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }
    if v := os.Getenv("FETCH_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Fetch.TimeoutSec = x }
    }
    if v := os.Getenv("FETCH_MAX_RETRIES"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Fetch.MaxRetries = x }
    }
    if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Fetch.CacheTTLSec = x }
    }
    if v := os.Getenv("HTTP_CACHE_MAX_AGE_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.HTTPCache.MaxAgeSec = x }
    }
    if v := os.Getenv("HTTP_CACHE_SWR_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.HTTPCache.StaleWhileRevalidateSec = x }
    }

    if v := os.Getenv("LLAMA_ENABLED"); v != "" { cfg.Llama.Enabled = parseBool(v, cfg.Llama.Enabled) }
    if v := os.Getenv("LLAMA_BASE_URL"); v != "" { cfg.Llama.BaseURL = v }
    if v := os.Getenv("LLAMA_STABLECOINS_URL"); v != "" { cfg.Llama.StablecoinsURL = v }

    if v := os.Getenv("FEARGREED_ENABLED"); v != "" { cfg.FearGreed.Enabled = parseBool(v, cfg.FearGreed.Enabled) }
    if v := os.Getenv("FEARGREED_ENDPOINT"); v != "" { cfg.FearGreed.Endpoint = v }

    if v := os.Getenv("COINGECKO_ENABLED"); v != "" { cfg.Coingecko.Enabled = parseBool(v, cfg.Coingecko.Enabled) }
    if v := os.Getenv("COINGECKO_BASE_URL"); v != "" { cfg.Coingecko.BaseURL = v }
    if v := os.Getenv("COINGECKO_API_KEY"); v != "" { cfg.Coingecko.APIKey = v }
    if v := os.Getenv("COINGECKO_PAGES"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Coingecko.Pages = x }
    }
    if v := os.Getenv("COINGECKO_INTER_DELAY_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Coingecko.InterDelayMs = x }
    }
    if v := os.Getenv("COINGECKO_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Coingecko.TTLSec = x }
    }

    if v := os.Getenv("BLOCKCHAIN_ENABLED"); v != "" { cfg.Blockchain.Enabled = parseBool(v, cfg.Blockchain.Enabled) }
    if v := os.Getenv("BLOCKCHAIN_BASE_URL"); v != "" { cfg.Blockchain.BaseURL = v }
    if v := os.Getenv("BLOCKCHAIN_TIMESPAN"); v != "" { cfg.Blockchain.Timespan = v }
    if v := os.Getenv("BLOCKCHAIN_INTER_DELAY_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Blockchain.InterDelayMs = x }
    }
}

func parseBool(v string, def bool) bool {
    switch strings.ToLower(v) {
    case "1", "true", "yes", "y":
        return true
    case "0", "false", "no", "n":
        return false
    }
    return def
}
