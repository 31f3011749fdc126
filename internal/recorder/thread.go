package recorder

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapetech/hdhrbridge/internal/httpclient"
	"github.com/snapetech/hdhrbridge/internal/metrics"
)

const copyChunk = 64 * 1024

// record copies the stream to a file until the job's end time passes, the
// stop flag is set, or the stream dries up. All outcomes are reported
// through the store; nothing reads state off the goroutine itself.
func (s *Scheduler) record(ctx context.Context, t *task, j Job, url string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, j.Index)
		s.mu.Unlock()
	}()
	metrics.RecordingsActive.Inc()
	defer metrics.RecordingsActive.Dec()

	client := s.Client
	if client == nil {
		client = httpclient.ForStreaming()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.finishAborted(j, fmt.Sprintf("bad stream url: %v", err))
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		s.finishAborted(j, fmt.Sprintf("open stream: %v", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// 503 is the device's tuners-exhausted answer.
		s.finishAborted(j, fmt.Sprintf("open stream: %s", resp.Status))
		return
	}

	path := filepath.Join(s.Dir, recordingFilename(j))
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		s.finishAborted(j, err.Error())
		return
	}
	f, err := os.Create(path)
	if err != nil {
		s.finishAborted(j, fmt.Sprintf("open output: %v", err))
		return
	}
	s.mu.Lock()
	t.path = path
	s.mu.Unlock()
	s.Store.MarkStatus(j.Index, StreamRecording)

	buf := make([]byte, copyChunk)
	for {
		if t.stop.Load() || !s.now().Before(j.End) {
			break
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				log.Printf("recorder: job %d: write %s: %v", j.Index, path, werr)
				break
			}
		}
		if rerr != nil {
			break
		}
	}
	f.Close()

	final, won := s.Store.FinishJob(j.Index, StateCompleted)
	if won {
		status := RecordingCompleted
		if s.now().Before(j.End) {
			status = RecordingIncomplete
		}
		s.writeEntry(final, path, status)
		metrics.JobsFinished.WithLabelValues(StateCompleted.String()).Inc()
	}
	s.Store.MarkStatus(j.Index, StreamStopped)
}

// finishAborted reports a job-level fatal failure through the store.
func (s *Scheduler) finishAborted(j Job, reason string) {
	s.abort(j, reason)
	s.Store.MarkStatus(j.Index, StreamStopped)
}

// recordingFilename builds a filesystem-safe name from the job's title
// and start time.
func recordingFilename(j Job) string {
	title := j.Title
	if title == "" {
		title = fmt.Sprintf("channel-%d", j.ChannelID)
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "recording"
	}
	return fmt.Sprintf("%s_%s.ts", name, j.Start.UTC().Format("20060102-150405"))
}
