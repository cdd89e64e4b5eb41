package task

import (
	"maps"
	"time"

	"github.com/smallnest/chatpipe/engine"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
)

// Node progress values.
const (
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressAborted   = "aborted"
)

// Status is the polling view of a task.
type Status struct {
	ID         string            `json:"id"`
	PipelineID string            `json:"pipeline_id"`
	SessionID  string            `json:"session_id,omitempty"`
	State      State             `json:"state"`
	Complete   bool              `json:"complete"`
	Success    *bool             `json:"success"`
	Progress   map[string]string `json:"progress"`
	Result     *engine.Result    `json:"result,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares only the immutable result.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}
	out := *s
	out.Progress = maps.Clone(s.Progress)
	if out.Progress == nil {
		out.Progress = map[string]string{}
	}
	if s.Success != nil {
		v := *s.Success
		out.Success = &v
	}
	return &out
}

func (s *Status) complete(res *engine.Result, now time.Time) {
	ok := res.Status != engine.StatusError
	s.State = StateDone
	s.Complete = true
	s.Success = &ok
	s.Result = res
	s.UpdatedAt = now
}
