// Package gateway relays a tuner device's stream through this process,
// for clients that cannot follow redirects onto the device network.
package gateway

import (
	"io"
	"net/http"

	"github.com/snapetech/hdhrbridge/internal/httpclient"
)

// Proxy streams the device URL to the client. The device's busy answer
// (503, all tuners in use) passes through unchanged so the client can
// retry and land on another device via the round-robin. A per-host
// semaphore slot is held for the relay's lifetime; the device decides
// tuner exhaustion, this just keeps request floods off its tiny server.
func Proxy(w http.ResponseWriter, r *http.Request, streamURL string, client *http.Client) {
	if client == nil {
		client = httpclient.ForStreaming()
	}
	release := httpclient.GlobalHostSem.Acquire(streamURL)
	defer release()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, streamURL, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, "device unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for _, k := range []string{"Content-Type", "Content-Length", "Accept-Ranges"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client hung up or device dropped the stream; nothing to answer.
		return
	}
}
