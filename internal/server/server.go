// Package server exposes the aggregated tuner state over HTTP: channel
// and guide listings, timer and recording management, stream resolution,
// health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/gateway"
	"github.com/snapetech/hdhrbridge/internal/guide"
	"github.com/snapetech/hdhrbridge/internal/lineup"
	"github.com/snapetech/hdhrbridge/internal/recorder"
)

// Server wires the repositories to the HTTP surface. RefreshFn triggers
// an on-demand rescan+refresh cycle; it runs outside the request.
type Server struct {
	Addr         string
	BaseURL      string
	ProxyStreams bool // relay device streams instead of redirecting
	Directory    *device.Directory
	Lineup       *lineup.Index
	Guide        *guide.Store
	Store        *recorder.Store
	Scheduler    *recorder.Scheduler
	RefreshFn    func()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":5004"
	}

	mux := http.NewServeMux()
	mux.Handle("/channels.json", s.serveChannels())
	mux.Handle("/channel_groups.json", s.serveChannelGroups())
	mux.Handle("/guide.json", s.serveGuide())
	mux.Handle("/timers", s.serveTimers())
	mux.Handle("/recordings", s.serveRecordings())
	mux.Handle("/stream/", s.serveStream())
	mux.Handle("/refresh", s.serveRefresh())
	mux.Handle("/healthz", s.serveHealth())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: logRequests(mux)}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("server: shutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

type channelJSON struct {
	ID          uint32 `json:"ID"`
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	DRM         bool   `json:"DRM"`
	HD          bool   `json:"HD"`
	Favorite    bool   `json:"Favorite"`
	URL         string `json:"URL"`
	Devices     int    `json:"Devices"`
}

func (s *Server) serveChannels() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snaps := s.Lineup.Channels()
		out := make([]channelJSON, 0, len(snaps))
		for _, c := range snaps {
			out = append(out, channelJSON{
				ID:          c.ID,
				GuideNumber: c.Number.String(),
				GuideName:   c.Name,
				DRM:         c.DRM,
				HD:          c.HD,
				Favorite:    c.Favorite,
				URL:         fmt.Sprintf("%s/stream/%d", strings.TrimRight(s.BaseURL, "/"), c.ID),
				Devices:     len(c.Devices),
			})
		}
		writeJSON(w, out)
	})
}

func (s *Server) serveChannelGroups() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		groups := map[string][]uint32{
			"Favorites": {},
			"HD":        {},
			"SD":        {},
		}
		for _, c := range s.Lineup.Channels() {
			if c.Favorite {
				groups["Favorites"] = append(groups["Favorites"], c.ID)
			}
			if c.HD {
				groups["HD"] = append(groups["HD"], c.ID)
			} else {
				groups["SD"] = append(groups["SD"], c.ID)
			}
		}
		writeJSON(w, groups)
	})
}

type guideChannelJSON struct {
	ID          uint32      `json:"ID"`
	GuideNumber string      `json:"GuideNumber"`
	GuideName   string      `json:"GuideName"`
	Affiliate   string      `json:"Affiliate,omitempty"`
	ImageURL    string      `json:"ImageURL,omitempty"`
	Entries     []entryJSON `json:"Guide"`
}

type entryJSON struct {
	Seq           uint64 `json:"Seq"`
	StartTime     int64  `json:"StartTime"`
	EndTime       int64  `json:"EndTime"`
	Title         string `json:"Title"`
	EpisodeNumber string `json:"EpisodeNumber,omitempty"`
	EpisodeTitle  string `json:"EpisodeTitle,omitempty"`
	Synopsis      string `json:"Synopsis,omitempty"`
	ImageURL      string `json:"ImageURL,omitempty"`
	SeriesID      string `json:"SeriesID,omitempty"`
	GenreMask     uint32 `json:"GenreMask,omitempty"`
	Season        int    `json:"Season,omitempty"`
	Episode       int    `json:"Episode,omitempty"`
}

var guideWindowEnd = time.Unix(1<<40, 0)

func (s *Server) serveGuide() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var only uint32
		if q := r.URL.Query().Get("channel"); q != "" {
			id, err := strconv.ParseUint(q, 10, 32)
			if err != nil {
				http.Error(w, "bad channel id", http.StatusBadRequest)
				return
			}
			only = uint32(id)
		}
		out := []guideChannelJSON{}
		for _, meta := range s.Guide.Channels() {
			id := meta.Number.ID()
			if only != 0 && id != only {
				continue
			}
			gc := guideChannelJSON{
				ID:          id,
				GuideNumber: meta.Number.String(),
				GuideName:   meta.Name,
				Affiliate:   meta.Affiliate,
				ImageURL:    meta.IconURL,
				Entries:     []entryJSON{},
			}
			for _, e := range s.Guide.EntriesBetween(id, time.Time{}, guideWindowEnd) {
				gc.Entries = append(gc.Entries, entryJSON{
					Seq:           e.Seq,
					StartTime:     e.Start.Unix(),
					EndTime:       e.End.Unix(),
					Title:         e.Title,
					EpisodeNumber: e.EpisodeNumber,
					EpisodeTitle:  e.EpisodeTitle,
					Synopsis:      e.Synopsis,
					ImageURL:      e.ImageURL,
					SeriesID:      e.SeriesID,
					GenreMask:     e.GenreMask,
					Season:        e.Season,
					Episode:       e.Episode,
				})
			}
			out = append(out, gc)
		}
		writeJSON(w, out)
	})
}

type timerRequest struct {
	ChannelID uint32    `json:"channel_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

func (s *Server) serveTimers() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, s.Store.Timers())
		case http.MethodPost:
			var req timerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request body", http.StatusBadRequest)
				return
			}
			job, err := s.Store.AddTimer(req.ChannelID, req.Title, req.Start, req.End, time.Now())
			if errors.Is(err, recorder.ErrTimerExists) {
				http.Error(w, "timer already exists", http.StatusConflict)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			if err := json.NewEncoder(w).Encode(job); err != nil {
				log.Printf("server: encode response: %v", err)
			}
		case http.MethodDelete:
			index, ok := indexParam(w, r)
			if !ok {
				return
			}
			if err := s.Store.CancelTimer(index); err != nil {
				http.Error(w, "timer not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) serveRecordings() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, s.Store.Recordings())
		case http.MethodDelete:
			index, ok := indexParam(w, r)
			if !ok {
				return
			}
			rec, err := s.Store.DeleteRecording(index)
			if err != nil {
				http.Error(w, "recording not found", http.StatusNotFound)
				return
			}
			if rec.FilePath != "" {
				if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
					log.Printf("server: remove %s: %v", rec.FilePath, err)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) serveStream() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.URL.Path, "/stream/")
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			http.Error(w, "bad channel id", http.StatusBadRequest)
			return
		}
		url, err := s.Lineup.ResolveStreamURL(uint32(id))
		if err != nil {
			http.Error(w, "no stream available", http.StatusNotFound)
			return
		}
		if s.ProxyStreams {
			gateway.Proxy(w, r, url, nil)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	})
}

func (s *Server) serveRefresh() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.RefreshFn == nil {
			http.Error(w, "refresh not wired", http.StatusServiceUnavailable)
			return
		}
		go s.RefreshFn()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"refresh started"}`))
	})
}

// serveHealth reports table sizes and consumes the change flags; it is
// the host's poll point for timer/recording list changes.
func (s *Server) serveHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":             "ok",
			"devices":            len(s.Directory.Devices()),
			"channels":           s.Lineup.Len(),
			"timers_changed":     s.Store.TimersChanged(),
			"recordings_changed": s.Store.RecordingsChanged(),
		}
		if s.Scheduler != nil {
			body["active_recordings"] = s.Scheduler.ActiveRecordings()
		}
		writeJSON(w, body)
	})
}

// indexParam parses the required ?index= query parameter.
func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("index")
	index, err := strconv.Atoi(raw)
	if err != nil || index <= 0 {
		http.Error(w, "bad or missing index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr)
	})
}
