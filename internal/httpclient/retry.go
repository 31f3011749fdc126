package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls when DoWithRetry tries a request a second time.
// Lineup and guide fetches run on a cycle, so one retry is all a fetch
// gets; a host that stays unhappy is picked up again next refresh.
type RetryPolicy struct {
	// Retry429 honours Retry-After (capped at Max429Wait) before the
	// one retry. The shared guide API is the endpoint that sends these.
	Retry429   bool
	Max429Wait time.Duration
	// Retry5xx waits Backoff5xx before the one retry. Devices answer
	// 5xx briefly while rescanning their own lineups.
	Retry5xx   bool
	Backoff5xx time.Duration
}

// DefaultRetryPolicy covers every fetch in this process: retry 429
// (waiting at most 60s) and 5xx (after 1s).
var DefaultRetryPolicy = RetryPolicy{
	Retry429:   true,
	Max429Wait: 60 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 1 * time.Second,
}

// DoWithRetry performs req, retrying once on 429/5xx per policy. Other
// 4xx answers are returned as-is; the caller decides whether a missing
// lineup is an error. Caller closes resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	code := resp.StatusCode
	if code == http.StatusOK {
		return resp, nil
	}
	if code >= 400 && code < 500 && code != 429 {
		return resp, nil
	}
	if code == 429 && policy.Retry429 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		return redo(ctx, client, req)
	}
	if code >= 500 && policy.Retry5xx {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Backoff5xx):
		}
		return redo(ctx, client, req)
	}
	return resp, nil
}

// redo rebuilds and resends the request. Every fetch here is a GET with
// no body, so a fresh request from the method and URL is equivalent.
func redo(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req2, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		req2.Header[k] = v
	}
	return client.Do(req2)
}

// parseRetryAfter reads Retry-After as either delay-seconds or an
// HTTP-date, capped at max; a missing or unreadable header waits 1s.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 * time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	// RFC 1123 date
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return 1 * time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
