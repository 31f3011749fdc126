package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var recBase = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	s.Load()
	return s
}

func TestAddTimer_assignsStableIndexes(t *testing.T) {
	s := newTestStore(t)
	now := recBase.Add(-time.Hour)

	a, err := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("AddTimer: %v", err)
	}
	b, err := s.AddTimer(50001, "Quiz", recBase, recBase.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("AddTimer: %v", err)
	}
	if a.Index == b.Index {
		t.Fatalf("indexes collide: %d", a.Index)
	}
	if a.State != StateScheduled {
		t.Fatalf("future start gave state %v, want scheduled", a.State)
	}
}

func TestAddTimer_rejectsOverlapOnSameChannel(t *testing.T) {
	s := newTestStore(t)
	now := recBase.Add(-time.Hour)

	if _, err := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), now); err != nil {
		t.Fatalf("AddTimer: %v", err)
	}
	_, err := s.AddTimer(20001, "Overlap", recBase.Add(30*time.Minute), recBase.Add(90*time.Minute), now)
	if !errors.Is(err, ErrTimerExists) {
		t.Fatalf("err = %v, want ErrTimerExists", err)
	}
	// Back to back is not an overlap: [start, end) windows.
	if _, err := s.AddTimer(20001, "Next", recBase.Add(time.Hour), recBase.Add(2*time.Hour), now); err != nil {
		t.Fatalf("adjacent timer rejected: %v", err)
	}
	// Same window on another channel is fine.
	if _, err := s.AddTimer(50001, "Other", recBase, recBase.Add(time.Hour), now); err != nil {
		t.Fatalf("other-channel timer rejected: %v", err)
	}
}

func TestAddTimer_overlapWithFinishedJobAllowed(t *testing.T) {
	s := newTestStore(t)
	now := recBase.Add(-time.Hour)

	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), now)
	s.FinishJob(j.Index, StateCompleted)

	if _, err := s.AddTimer(20001, "Retry", recBase, recBase.Add(time.Hour), now); err != nil {
		t.Fatalf("overlap with completed job rejected: %v", err)
	}
}

func TestStore_persistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.Load()
	j, err := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AddTimer: %v", err)
	}
	s.AddRecording(Recording{Index: 99, ChannelID: 20001, Title: "Old Show", Status: RecordingCompleted})

	s2 := NewStore(dir)
	s2.Load()
	timers := s2.Timers()
	if len(timers) != 1 || timers[0].Index != j.Index || timers[0].Title != "News" {
		t.Fatalf("timers = %+v", timers)
	}
	recs := s2.Recordings()
	if len(recs) != 1 || recs[0].Title != "Old Show" {
		t.Fatalf("recordings = %+v", recs)
	}
	// Index allocation resumes past everything persisted.
	j2, _ := s2.AddTimer(50001, "Quiz", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	if j2.Index <= 99 {
		t.Fatalf("new index %d reuses persisted key space", j2.Index)
	}
}

func TestStoreLoad_interruptedRecordingBecomesAborted(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.Load()
	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	s.update(j.Index, func(j *Job) {
		j.State = StateRecording
		j.Status = StreamRecording
	})

	s2 := NewStore(dir)
	s2.Load()
	got := s2.Timers()
	if len(got) != 1 || got[0].State != StateAborted || got[0].Status != StreamStopped {
		t.Fatalf("timers = %+v, want the interrupted job aborted", got)
	}
}

func TestStoreLoad_corruptCachesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"timers.json", "recordings.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewStore(dir)
	s.Load()
	if len(s.Timers()) != 0 || len(s.Recordings()) != 0 {
		t.Fatal("corrupt caches should start empty")
	}
}

func TestStore_changeFlagsPollAndClear(t *testing.T) {
	s := newTestStore(t)
	if s.TimersChanged() {
		t.Fatal("flag set before any mutation")
	}
	s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	if !s.TimersChanged() {
		t.Fatal("AddTimer did not raise the flag")
	}
	if s.TimersChanged() {
		t.Fatal("flag not cleared by the poll")
	}

	s.AddRecording(Recording{Index: 1})
	if !s.RecordingsChanged() {
		t.Fatal("AddRecording did not raise the flag")
	}
	if s.RecordingsChanged() {
		t.Fatal("flag not cleared by the poll")
	}
}

func TestCancelTimer(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	if err := s.CancelTimer(j.Index); err != nil {
		t.Fatalf("CancelTimer: %v", err)
	}
	if got := s.Timers(); got[0].State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", got[0].State)
	}
	if err := s.CancelTimer(404); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestCancelTimer_clearsAbortedJob(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	s.FinishJob(j.Index, StateAborted)

	if err := s.CancelTimer(j.Index); err != nil {
		t.Fatalf("CancelTimer on aborted job: %v", err)
	}
	if got := s.Timers(); len(got) != 0 {
		t.Fatalf("timers = %+v, want the aborted job gone", got)
	}
}

func TestCancelTimer_leavesUnsettledRecorderToScheduler(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))
	s.CancelTimer(j.Index)
	s.MarkStatus(j.Index, StreamStopping)

	// Second delete while the recorder is still winding down must not
	// drop the row out from under the stop path.
	if err := s.CancelTimer(j.Index); err != nil {
		t.Fatalf("CancelTimer: %v", err)
	}
	if got := s.Timers(); len(got) != 1 || got[0].State != StateCancelled {
		t.Fatalf("timers = %+v, want the cancelled job kept", got)
	}
}

func TestFinishJob_singleWinner(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.AddTimer(20001, "News", recBase, recBase.Add(time.Hour), recBase.Add(-time.Hour))

	if _, won := s.FinishJob(j.Index, StateCompleted); !won {
		t.Fatal("first finisher lost")
	}
	if _, won := s.FinishJob(j.Index, StateAborted); won {
		t.Fatal("second finisher won")
	}
	if got := s.Timers(); got[0].State != StateCompleted {
		t.Fatalf("state = %v, want the first transition kept", got[0].State)
	}
}
