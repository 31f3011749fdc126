package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrTimerExists reports an add colliding with an active or scheduled
// timer on the same channel and an overlapping time window.
var ErrTimerExists = errors.New("recorder: timer already exists")

// ErrJobNotFound reports an index no persisted job carries.
var ErrJobNotFound = errors.New("recorder: job not found")

// Store persists timers and recordings as JSON array files, rewritten in
// full on every mutation. Corrupt or missing files start empty.
type Store struct {
	TimersPath     string
	RecordingsPath string

	mu         sync.Mutex
	timers     []*Job
	recordings []*Recording
	nextIndex  int

	timersChanged     bool
	recordingsChanged bool
}

func NewStore(dir string) *Store {
	return &Store{
		TimersPath:     filepath.Join(dir, "timers.json"),
		RecordingsPath: filepath.Join(dir, "recordings.json"),
		nextIndex:      1,
	}
}

// Load reads both cache files. Unreadable or corrupt files are logged and
// treated as empty; the next mutation rewrites them.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = loadCache[Job](s.TimersPath)
	s.recordings = loadCache[Recording](s.RecordingsPath)
	for _, j := range s.timers {
		if j.Index >= s.nextIndex {
			s.nextIndex = j.Index + 1
		}
		// A recording interrupted by a crash can never resume.
		if j.State == StateRecording {
			j.State = StateAborted
			j.Status = StreamStopped
		}
	}
	for _, r := range s.recordings {
		if r.Index >= s.nextIndex {
			s.nextIndex = r.Index + 1
		}
	}
}

func loadCache[T any](path string) []*T {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("recorder: read %s: %v (starting empty)", path, err)
		}
		return nil
	}
	var out []*T
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("recorder: parse %s: %v (starting empty)", path, err)
		return nil
	}
	return out
}

// saveCache rewrites path atomically with the full table contents.
func saveCache(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("recorder: encode %s: %v", path, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("recorder: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("recorder: write %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("recorder: rename %s: %v", tmp, err)
	}
}

// callers hold s.mu
func (s *Store) saveTimers() {
	if s.timers == nil {
		saveCache(s.TimersPath, []*Job{})
		return
	}
	saveCache(s.TimersPath, s.timers)
}

func (s *Store) saveRecordings() {
	if s.recordings == nil {
		saveCache(s.RecordingsPath, []*Recording{})
		return
	}
	saveCache(s.RecordingsPath, s.recordings)
}

// AddTimer persists a new job. A window overlapping an active job on the
// same channel is rejected with ErrTimerExists. Future starts begin
// Scheduled, so the host sees a settled state immediately.
func (s *Store) AddTimer(channelID uint32, title string, start, end time.Time, now time.Time) (Job, error) {
	if !start.Before(end) {
		return Job{}, fmt.Errorf("recorder: timer window [%s, %s) is empty", start, end)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.timers {
		if j.ChannelID == channelID && j.active() && j.overlaps(start, end) {
			return Job{}, ErrTimerExists
		}
	}
	job := &Job{
		Index:     s.nextIndex,
		ChannelID: channelID,
		Title:     title,
		Start:     start,
		End:       end,
		State:     StateNew,
	}
	if start.After(now) {
		job.State = StateScheduled
	}
	s.nextIndex++
	s.timers = append(s.timers, job)
	s.timersChanged = true
	s.saveTimers()
	return *job, nil
}

// CancelTimer cancels the job at index. An active job is marked
// Cancelled; the scheduler stops its recorder on the next pass and
// writes the incomplete recording entry. A finished job whose recorder
// has settled (Aborted jobs stay listed until the host clears them this
// way) is deleted outright. A finished job whose recorder is still
// winding down is left for the scheduler to erase.
func (s *Store) CancelTimer(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.timers {
		if j.Index != index {
			continue
		}
		switch {
		case j.active():
			j.State = StateCancelled
		case j.Status == StreamNone || j.Status == StreamStopped:
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
		}
		s.timersChanged = true
		s.saveTimers()
		return nil
	}
	return ErrJobNotFound
}

// update applies fn to the job at index under the lock and persists.
func (s *Store) update(index int, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.timers {
		if j.Index == index {
			fn(j)
			s.timersChanged = true
			s.saveTimers()
			return true
		}
	}
	return false
}

// remove deletes the job at index from the timer table.
func (s *Store) remove(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.timers {
		if j.Index == index {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			s.timersChanged = true
			s.saveTimers()
			return
		}
	}
}

// FinishJob moves a still-active job to final and reports whether this
// call won the transition. Exactly one finisher (scheduler pass or
// recording goroutine) gets true, so exactly one recording entry is
// written per job.
func (s *Store) FinishJob(index int, final JobState) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.timers {
		if j.Index != index {
			continue
		}
		if !j.active() {
			return *j, false
		}
		j.State = final
		s.timersChanged = true
		s.saveTimers()
		return *j, true
	}
	return Job{}, false
}

// MarkStatus records the recording goroutine's progress.
func (s *Store) MarkStatus(index int, status StreamStatus) {
	s.update(index, func(j *Job) { j.Status = status })
}

// AddRecording persists a finished recording artifact.
func (s *Store) AddRecording(r Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := r
	s.recordings = append(s.recordings, &rec)
	s.recordingsChanged = true
	s.saveRecordings()
}

// DeleteRecording removes the entry and returns it so the caller can
// unlink the file.
func (s *Store) DeleteRecording(index int) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.recordings {
		if r.Index == index {
			out := *r
			s.recordings = append(s.recordings[:i], s.recordings[i+1:]...)
			s.recordingsChanged = true
			s.saveRecordings()
			return out, nil
		}
	}
	return Recording{}, ErrJobNotFound
}

// Timers returns copies of all persisted jobs.
func (s *Store) Timers() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.timers))
	for _, j := range s.timers {
		out = append(out, *j)
	}
	return out
}

// Recordings returns copies of all persisted recordings.
func (s *Store) Recordings() []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		out = append(out, *r)
	}
	return out
}

// TimersChanged reports and clears the timer-change flag. The host polls
// this to know when to re-fetch the timer list.
func (s *Store) TimersChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.timersChanged
	s.timersChanged = false
	return c
}

// RecordingsChanged reports and clears the recording-change flag.
func (s *Store) RecordingsChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.recordingsChanged
	s.recordingsChanged = false
	return c
}
