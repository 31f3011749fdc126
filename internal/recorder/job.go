// Package recorder schedules and runs recordings: a persisted timer/job
// state machine advanced by a poll loop, plus the stream-copy goroutines
// it spawns.
package recorder

import "time"

// JobState is a timer's lifecycle position.
type JobState int

const (
	StateNew JobState = iota
	StateScheduled
	StateRecording
	StateCompleted
	StateAborted
	StateCancelled
)

func (s JobState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateScheduled:
		return "scheduled"
	case StateRecording:
		return "recording"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// StreamStatus tracks the recording goroutine independently of the job
// state, so the scheduler can tell "asked to stop" from "actually stopped".
type StreamStatus int

const (
	StreamNone StreamStatus = iota
	StreamStartRequested
	StreamRecording
	StreamStopping
	StreamStopped
)

func (s StreamStatus) String() string {
	switch s {
	case StreamNone:
		return "none"
	case StreamStartRequested:
		return "start-requested"
	case StreamRecording:
		return "recording"
	case StreamStopping:
		return "stopping"
	case StreamStopped:
		return "stopped"
	}
	return "unknown"
}

// Job is one persisted timer. Index is the stable client-facing key,
// assigned at creation and never reused within a store's lifetime.
type Job struct {
	Index     int          `json:"index"`
	ChannelID uint32       `json:"channel_id"`
	Title     string       `json:"title"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	State     JobState     `json:"state"`
	Status    StreamStatus `json:"status"`
}

func (j *Job) active() bool {
	switch j.State {
	case StateNew, StateScheduled, StateRecording:
		return true
	}
	return false
}

// overlaps reports whether two [start, end) windows intersect.
func (j *Job) overlaps(start, end time.Time) bool {
	return j.Start.Before(end) && start.Before(j.End)
}

// RecordingStatus is the outcome stamped on a finished recording.
type RecordingStatus int

const (
	RecordingCompleted RecordingStatus = iota
	RecordingIncomplete
	RecordingFailed
)

func (s RecordingStatus) String() string {
	switch s {
	case RecordingCompleted:
		return "completed"
	case RecordingIncomplete:
		return "incomplete"
	case RecordingFailed:
		return "failed"
	}
	return "unknown"
}

// Recording is the persisted artifact left behind by a finished job,
// with guide metadata denormalized at creation time so it survives the
// guide aging out.
type Recording struct {
	Index       int             `json:"index"`
	ChannelID   uint32          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	Title       string          `json:"title"`
	EpisodeName string          `json:"episode_name"`
	Plot        string          `json:"plot"`
	IconURL     string          `json:"icon_url"`
	SeriesID    string          `json:"series_id"`
	Season      int             `json:"season"`
	Episode     int             `json:"episode"`
	FilePath    string          `json:"file_path"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Status      RecordingStatus `json:"status"`
}
