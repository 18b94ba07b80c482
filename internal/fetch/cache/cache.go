package cache

import (
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "sort"
    "strings"
    "sync"
    "time"
)

// Entry is one cached response body with its fetch time.
// Freshness is judged at read time against a caller-supplied TTL, so the
// same entry can serve callers with different freshness tolerances.
type Entry struct {
    Payload   json.RawMessage
    FetchedAt time.Time
}

// Stats is a point-in-time snapshot of the store, classified at the
// store's default TTL.
type Stats struct {
    Total int `json:"total"`
    Fresh int `json:"fresh"`
    Stale int `json:"stale"`
}

// Store is a process-wide request cache keyed by fingerprint.
// Entries are overwritten on every successful fetch and never evicted;
// the key space is the fixed source catalog, so size stays bounded.
// Construct one per process and pass it down.
type Store struct {
    defaultTTL time.Duration

    mu      sync.RWMutex
    entries map[string]Entry

    now func() time.Time // test hook
}

func NewStore(defaultTTL time.Duration) *Store {
    if defaultTTL <= 0 { defaultTTL = 15 * time.Minute }
    return &Store{
        defaultTTL: defaultTTL,
        entries:    make(map[string]Entry),
        now:        time.Now,
    }
}

// Get returns the entry for key regardless of age.
func (s *Store) Get(key string) (Entry, bool) {
    s.mu.RLock()
    e, ok := s.entries[key]
    s.mu.RUnlock()
    return e, ok
}

// Fresh returns the entry for key only if it is younger than ttl.
func (s *Store) Fresh(key string, ttl time.Duration) (Entry, bool) {
    e, ok := s.Get(key)
    if !ok { return Entry{}, false }
    if s.now().Sub(e.FetchedAt) >= ttl { return Entry{}, false }
    return e, true
}

// Put stores payload under key with FetchedAt set to now, overwriting
// any previous entry.
func (s *Store) Put(key string, payload json.RawMessage) {
    now := s.now()
    s.mu.Lock()
    s.entries[key] = Entry{Payload: payload, FetchedAt: now}
    s.mu.Unlock()
}

// Stats classifies entries as fresh or stale at the default TTL.
func (s *Store) Stats() Stats {
    now := s.now()
    s.mu.RLock()
    defer s.mu.RUnlock()
    st := Stats{Total: len(s.entries)}
    for _, e := range s.entries {
        if now.Sub(e.FetchedAt) < s.defaultTTL {
            st.Fresh++
        } else {
            st.Stale++
        }
    }
    return st
}

// Clear drops every entry. Administrative use only.
func (s *Store) Clear() {
    s.mu.Lock()
    s.entries = make(map[string]Entry)
    s.mu.Unlock()
}

// Key builds a deterministic fingerprint for a request from its URL and
// headers. Headers are sorted so map iteration order cannot change the key.
func Key(url string, headers map[string]string) string {
    h := sha256.New()
    h.Write([]byte(url))
    if len(headers) > 0 {
        names := make([]string, 0, len(headers))
        for k := range headers { names = append(names, k) }
        sort.Strings(names)
        for _, k := range names {
            h.Write([]byte("\n"))
            h.Write([]byte(strings.ToLower(k)))
            h.Write([]byte(":"))
            h.Write([]byte(headers[k]))
        }
    }
    sum := h.Sum(nil)
    return "src:" + hex.EncodeToString(sum[:8])
}
