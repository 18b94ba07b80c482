package fetch

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a fetch failure. Timeout, RateLimited, ServerError and
// Network are recovered locally by the retry loop; ClientError and
// Exhausted are the only kinds callers observe.
type Kind int

const (
	KindTimeout Kind = iota
	KindRateLimited
	KindServerError
	KindClientError
	KindNetwork
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate limited"
	case KindServerError:
		return "server error"
	case KindClientError:
		return "client error"
	case KindNetwork:
		return "network error"
	case KindExhausted:
		return "retries exhausted"
	}
	return "unknown"
}

// retryable reports whether the retry loop may attempt the call again.
func (k Kind) retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError, KindNetwork:
		return true
	}
	return false
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int   // HTTP status when a response was observed
	Err    error // underlying cause, may be nil

	// retryAfter is a server-supplied delay hint from a Retry-After
	// header, honored by the retry loop over the computed backoff.
	retryAfter time.Duration
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
