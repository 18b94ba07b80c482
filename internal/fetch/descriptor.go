package fetch

import "time"

// Defaults applied when a Descriptor leaves the field zero.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultTTL        = 15 * time.Minute
	DefaultMaxRetries = 3
)

// Class selects how a source is scheduled relative to the rest of the
// catalog. The zero value fans out in parallel; a named group is fetched
// one source at a time with InterDelay between calls, so a burst against
// a quota-limited provider cannot happen.
type Class struct {
	Group      string
	InterDelay time.Duration
}

// Sequential reports whether the class belongs to a rate-limited group.
func (c Class) Sequential() bool { return c.Group != "" }

// Descriptor describes one upstream source: the request to issue and the
// policy to apply. Descriptors are built once at startup and only read at
// orchestration time; the fetch layer never inspects payload contents.
type Descriptor struct {
	// Name is the logical source name used as the field key in the
	// aggregated result.
	Name string
	// URL is the full request URL including query parameters.
	URL string
	// Method defaults to GET.
	Method string
	// Headers carries auth and content headers for the request. Headers
	// participate in the cache fingerprint.
	Headers map[string]string
	// Body is an optional request body for POST sources.
	Body []byte
	// TTL is the cache freshness window. Defaults to DefaultTTL.
	TTL time.Duration
	// Timeout bounds a single HTTP attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Class selects parallel fan-out or a sequential rate-limit group.
	Class Class
}

func (d Descriptor) method() string {
	if d.Method == "" {
		return "GET"
	}
	return d.Method
}

func (d Descriptor) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d Descriptor) ttl() time.Duration {
	if d.TTL <= 0 {
		return DefaultTTL
	}
	return d.TTL
}
