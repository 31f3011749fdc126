package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// MaxBodyBytes caps lineup/guide response bodies. A device lineup is a
	// few KiB; a full SD guide feed for a large lineup stays well under this.
	MaxBodyBytes = 64 << 20
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client for lineup, guide and
// directory-service fetches.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and the same transport as Default (or a copy).
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// ForStreaming returns a client for long-lived stream reads: no overall
// timeout (a recording runs for hours), but a bounded wait for the device
// to start answering.
func ForStreaming() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       DefaultIdleConnTimeout,
		},
	}
}

// GuideLimiter throttles calls against the shared guide API host. Every
// device's guide fetch lands on the same upstream, so a fleet-wide refresh
// must not burst; 2/s with a small burst keeps even a 16-device rescan civil.
var GuideLimiter = rate.NewLimiter(rate.Limit(2), 4)

// FetchBytes GETs url and returns the body. Responses advertising
// Content-Encoding: br are decoded (the guide API serves brotli when asked);
// gzip is handled by net/http itself. Retries once on 429/5xx. The
// per-host semaphore is held for the whole fetch, body read included.
func FetchBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "br, gzip")
	release := GlobalHostSem.Acquire(url)
	defer release()
	resp, err := DoWithRetry(ctx, client, req, DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	var body io.Reader = io.LimitReader(resp.Body, MaxBodyBytes)
	if resp.Header.Get("Content-Encoding") == "br" {
		body = brotli.NewReader(body)
	}
	return io.ReadAll(body)
}

// FetchJSON GETs url and decodes the body into v. Non-JSON bodies and
// shape mismatches come back as errors for the caller to log and skip.
func FetchJSON(ctx context.Context, client *http.Client, url string, v any) error {
	b, err := FetchBytes(ctx, client, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	return nil
}
