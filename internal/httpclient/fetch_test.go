package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func TestFetchJSON_ok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"GuideNumber":"2.1"}]`))
	}))
	defer srv.Close()

	var got []map[string]string
	if err := FetchJSON(context.Background(), srv.Client(), srv.URL, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["GuideNumber"] != "2.1" {
		t.Errorf("got %v", got)
	}
}

func TestFetchJSON_brotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			t.Error("request should advertise br")
		}
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		bw.Write([]byte(`{"ok":true}`))
		bw.Close()
	}))
	defer srv.Close()

	var got map[string]bool
	if err := FetchJSON(context.Background(), srv.Client(), srv.URL, &got); err != nil {
		t.Fatal(err)
	}
	if !got["ok"] {
		t.Errorf("got %v", got)
	}
}

func TestFetchJSON_badJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	var got any
	if err := FetchJSON(context.Background(), srv.Client(), srv.URL, &got); err == nil {
		t.Fatal("want parse error")
	}
}

func TestFetchBytes_boundsPerHostConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := FetchBytes(context.Background(), srv.Client(), srv.URL); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if peak > 4 {
		t.Fatalf("peak in-flight = %d, want at most 4 per host", peak)
	}
}

func TestFetchBytes_httpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchBytes(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("want error on 404")
	}
}
