package recorder

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapetech/hdhrbridge/internal/guide"
	"github.com/snapetech/hdhrbridge/internal/metrics"
)

// StreamResolver picks a stream URL for a channel. Satisfied by the
// lineup index.
type StreamResolver interface {
	ResolveStreamURL(id uint32) (string, error)
}

const (
	// DefaultInterval is the poll loop period.
	DefaultInterval = 10 * time.Second
	// DefaultLead is how far before a job's start time recording begins.
	DefaultLead = 10 * time.Second
)

// Scheduler advances the persisted job state machine on a fixed poll
// interval and owns the recording goroutines it spawns.
type Scheduler struct {
	Store    *Store
	Resolver StreamResolver
	Guide    *guide.Store // metadata snapshots; may be nil
	Dir      string
	Interval time.Duration
	Lead     time.Duration
	Client   *http.Client // stream client; no overall timeout

	now func() time.Time

	mu    sync.Mutex
	tasks map[int]*task
	wg    sync.WaitGroup
}

// task is one live recording goroutine's control block. The stop flag is
// checked between copy chunks; cancel additionally unblocks an in-flight
// read.
type task struct {
	stop   atomic.Bool
	cancel context.CancelFunc
	path   string
}

func (t *task) requestStop() {
	t.stop.Store(true)
	if t.cancel != nil {
		t.cancel()
	}
}

func NewScheduler(store *Store, resolver StreamResolver, gd *guide.Store, dir string) *Scheduler {
	return &Scheduler{
		Store:    store,
		Resolver: resolver,
		Guide:    gd,
		Dir:      dir,
		Interval: DefaultInterval,
		Lead:     DefaultLead,
		now:      time.Now,
		tasks:    make(map[int]*task),
	}
}

// Run polls until ctx is cancelled, then stops every live recorder and
// waits for them within a bounded grace period.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown(30 * time.Second)
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll runs one pass over every persisted job, applying due transitions.
func (s *Scheduler) Poll() {
	now := s.now()
	for _, j := range s.Store.Timers() {
		switch j.State {
		case StateNew:
			if !j.End.After(now) {
				s.abort(j, "window already passed")
			} else if s.due(j, now) {
				s.start(j, now)
			} else {
				s.Store.update(j.Index, func(j *Job) { j.State = StateScheduled })
			}
		case StateScheduled:
			if !j.End.After(now) {
				s.abort(j, "start missed")
			} else if s.due(j, now) {
				s.start(j, now)
			}
		case StateRecording:
			if !j.End.After(now) {
				final, won := s.Store.FinishJob(j.Index, StateCompleted)
				if won {
					s.writeEntry(final, s.taskPath(j.Index), RecordingCompleted)
					metrics.JobsFinished.WithLabelValues(StateCompleted.String()).Inc()
				}
				s.stopTask(j.Index)
			}
		case StateCancelled:
			switch j.Status {
			case StreamStartRequested, StreamRecording:
				s.writeEntry(j, s.taskPath(j.Index), RecordingIncomplete)
				metrics.JobsFinished.WithLabelValues(StateCancelled.String()).Inc()
				s.Store.MarkStatus(j.Index, StreamStopping)
				s.stopTask(j.Index)
			case StreamNone, StreamStopped:
				s.Store.remove(j.Index)
			}
		case StateCompleted:
			if j.Status == StreamStopped {
				s.Store.remove(j.Index)
			}
		}
	}
}

func (s *Scheduler) due(j Job, now time.Time) bool {
	lead := s.Lead
	if lead <= 0 {
		lead = DefaultLead
	}
	return !now.Before(j.Start.Add(-lead))
}

func (s *Scheduler) abort(j Job, reason string) {
	if _, won := s.Store.FinishJob(j.Index, StateAborted); won {
		log.Printf("recorder: job %d (%s): aborted: %s", j.Index, j.Title, reason)
		metrics.JobsFinished.WithLabelValues(StateAborted.String()).Inc()
	}
}

// start resolves a stream and hands the job to a recording goroutine.
func (s *Scheduler) start(j Job, now time.Time) {
	url, err := s.Resolver.ResolveStreamURL(j.ChannelID)
	if err != nil {
		s.abort(j, fmt.Sprintf("no stream: %v", err))
		return
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url = fmt.Sprintf("%s%sduration=%d", url, sep, int(j.End.Sub(now).Seconds()))

	s.Store.update(j.Index, func(j *Job) {
		j.State = StateRecording
		j.Status = StreamStartRequested
	})

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel}
	s.mu.Lock()
	s.tasks[j.Index] = t
	s.mu.Unlock()
	s.wg.Add(1)
	go s.record(ctx, t, j, url)
	log.Printf("recorder: job %d (%s): recording from %s", j.Index, j.Title, url)
}

func (s *Scheduler) taskPath(index int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[index]; t != nil {
		return t.path
	}
	return ""
}

func (s *Scheduler) stopTask(index int) {
	s.mu.Lock()
	t := s.tasks[index]
	s.mu.Unlock()
	if t != nil {
		t.requestStop()
	}
}

// ActiveRecordings reports how many recording goroutines are live.
func (s *Scheduler) ActiveRecordings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown stops every live recorder and waits up to grace for them.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.requestStop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("recorder: shutdown grace period elapsed with recorders still running")
	}
}

// writeEntry persists the recording artifact for a finished job, with
// guide metadata snapshotted now so it survives the guide aging out.
func (s *Scheduler) writeEntry(j Job, path string, status RecordingStatus) {
	rec := Recording{
		Index:     j.Index,
		ChannelID: j.ChannelID,
		Title:     j.Title,
		FilePath:  path,
		Start:     j.Start,
		End:       j.End,
		Status:    status,
	}
	if s.Guide != nil {
		if meta, ok := s.Guide.Meta(j.ChannelID); ok {
			rec.ChannelName = meta.Name
			rec.IconURL = meta.IconURL
		}
		if e, ok := s.Guide.EntryAt(j.ChannelID, j.Start); ok {
			rec.EpisodeName = e.EpisodeTitle
			rec.Plot = e.Synopsis
			rec.SeriesID = e.SeriesID
			rec.Season = e.Season
			rec.Episode = e.Episode
			if e.ImageURL != "" {
				rec.IconURL = e.ImageURL
			}
			if rec.Title == "" {
				rec.Title = e.Title
			}
		}
	}
	s.Store.AddRecording(rec)
}
