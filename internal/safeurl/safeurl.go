// Package safeurl validates and redacts URLs that arrive from outside:
// device-reported stream URLs and authenticated guide API URLs.
package safeurl

import "net/url"

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Device lineup feeds are parsed defensively; a file:// or ftp:// stream
// URL must never reach a client or a recording goroutine.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Redact masks the DeviceAuth query parameter so guide URLs can be logged
// without leaking a device's session token. Unparseable URLs pass through
// unchanged.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if q.Get("DeviceAuth") == "" {
		return u
	}
	q.Set("DeviceAuth", "REDACTED")
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
