package aggregate

import (
    "encoding/json"
    "time"

    "marketdash/internal/fetch/cache"
)

// SourceError reports one rejected source by name.
type SourceError struct {
    Source string `json:"source"`
    Error  string `json:"error"`
}

// Meta carries diagnostics attached to every aggregated response.
type Meta struct {
    GeneratedAt time.Time   `json:"generatedAt"`
    CacheStats  cache.Stats `json:"cacheStats"`
    SourceCount int         `json:"sourceCount"`
}

// Result is the merged dashboard payload. Fields holds one entry, possibly
// nil, for every source the coordinator was configured to query, so
// consumers never need to distinguish "not attempted" from "failed".
type Result struct {
    Fields map[string]json.RawMessage
    Errors []SourceError
    Meta   Meta
}

// MarshalJSON flattens Fields into top-level keys, adds "_errors" only
// when non-empty, and always adds "_meta".
func (r Result) MarshalJSON() ([]byte, error) {
    m := make(map[string]any, len(r.Fields)+2)
    for name, payload := range r.Fields {
        if payload == nil {
            m[name] = nil
            continue
        }
        m[name] = payload
    }
    if len(r.Errors) > 0 { m["_errors"] = r.Errors }
    m["_meta"] = r.Meta
    return json.Marshal(m)
}
