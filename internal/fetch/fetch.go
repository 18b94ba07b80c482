package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPDoer describes the transport boundary.
//
//go:generate mockgen -package=fetch -destination=mock_http_doer_test.go -source=fetch.go HTTPDoer
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client performs one logical fetch against an upstream source, retrying
// transient failures with capped exponential backoff. Retries are entirely
// local: callers only ever see final success, a terminal *Error of kind
// KindClientError, or KindExhausted carrying the last transient error.
type Client struct {
	HTTP HTTPDoer
	// MaxRetries is the number of additional attempts after the first.
	// Defaults to DefaultMaxRetries when negative.
	MaxRetries int
	Log        zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// NewClient creates a fetch client over the given transport.
func NewClient(doer HTTPDoer, log zerolog.Logger) *Client {
	return &Client{HTTP: doer, MaxRetries: DefaultMaxRetries, Log: log, sleep: sleepCtx}
}

const maxBackoff = 10 * time.Second

// backoff returns the delay after a failed attempt, 0-indexed:
// 1s, 2s, 4s, ... capped at maxBackoff.
func backoff(attempt int) time.Duration {
	d := time.Second << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Fetch issues the request described by d, retrying rate-limit, server,
// network and timeout failures until the budget runs out. A Retry-After
// hint from the server takes precedence over the computed backoff.
func (c *Client) Fetch(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	retries := c.MaxRetries
	if retries < 0 {
		retries = DefaultMaxRetries
	}

	var last *Error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			if last.retryAfter > 0 {
				delay = last.retryAfter
			}
			c.Log.Debug().
				Str("source", d.Name).
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("cause", last.Error()).
				Msg("retrying fetch")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, last
			}
		}

		payload, ferr := c.attempt(ctx, d)
		if ferr == nil {
			return payload, nil
		}
		if !ferr.Kind.retryable() {
			return nil, ferr
		}
		// Parent cancellation must not burn the remaining budget.
		if ctx.Err() != nil {
			return nil, ferr
		}
		last = ferr
	}
	return nil, &Error{Kind: KindExhausted, Status: last.Status, Err: last}
}

// attempt performs a single HTTP call bounded by the descriptor timeout
// and classifies the outcome.
func (c *Client) attempt(ctx context.Context, d Descriptor) (json.RawMessage, *Error) {
	actx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(actx, d.method(), d.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindClientError, Err: err}
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(actx, req)
	if err != nil {
		// Our own per-attempt deadline, not a caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("read body: %w", err)}
		}
		var payload json.RawMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, &Error{Kind: KindClientError, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
		return payload, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
		return nil, &Error{Kind: KindRateLimited, Status: resp.StatusCode, retryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
		return nil, &Error{Kind: KindServerError, Status: resp.StatusCode, retryAfter: retryAfter(resp)}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, &Error{
			Kind:   KindClientError,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s %s -> %d: %s", d.method(), d.URL, resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}
}

// retryAfter parses an integer-seconds Retry-After header, 0 when absent
// or malformed.
func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
