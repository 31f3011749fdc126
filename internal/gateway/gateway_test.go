package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProxy_relaysStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "bytes=0-99" {
			t.Errorf("Range = %q", rng)
		}
		w.Header().Set("Content-Type", "video/mp2t")
		fmt.Fprint(w, "tsdata")
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream/20001", nil)
	req.Header.Set("Range", "bytes=0-99")
	rr := httptest.NewRecorder()
	Proxy(rr, req, upstream.URL, upstream.Client())

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "tsdata" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestProxy_passesBusyThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "all tuners in use", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream/20001", nil)
	rr := httptest.NewRecorder()
	Proxy(rr, req, upstream.URL, upstream.Client())

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want the device busy answer passed through", rr.Code)
	}
}

func TestProxy_unreachableDevice(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream/20001", nil)
	rr := httptest.NewRecorder()
	Proxy(rr, req, "http://127.0.0.1:1/stream", nil)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}
