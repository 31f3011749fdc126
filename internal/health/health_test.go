package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckEndpoints_ok(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels.json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/guide.json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ctx := context.Background()
	if err := CheckEndpoints(ctx, srv.URL); err != nil {
		t.Fatalf("CheckEndpoints: %v", err)
	}
}

func TestCheckEndpoints_missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	ctx := context.Background()
	err := CheckEndpoints(ctx, srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestCheckEndpoints_unreachable(t *testing.T) {
	ctx := context.Background()
	err := CheckEndpoints(ctx, "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error for unreachable service")
	}
}
