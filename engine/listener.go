package engine

import (
	"context"
	"time"

	"github.com/smallnest/chatpipe/pipeline"
)

// EventType identifies a run or node event.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunEnd       EventType = "run_end"
	EventNodeStart    EventType = "node_start"
	EventNodeComplete EventType = "node_complete"
	EventNodeError    EventType = "node_error"
	EventRoute        EventType = "route"
	EventAbort        EventType = "abort"
)

// Phase is the state of the run state machine.
type Phase string

const (
	PhaseReady     Phase = "ready"
	PhaseRunning   Phase = "running"
	PhaseBranched  Phase = "branched"
	PhaseAborted   Phase = "aborted"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Event is delivered to listeners synchronously on the run goroutine.
type Event struct {
	Type     EventType
	RunID    string
	Phase    Phase
	NodeID   string
	NodeName string
	NodeType pipeline.NodeType
	// Handle is the selected handle for EventRoute.
	Handle string
	Err    error
	// Result is set for EventRunEnd.
	Result *Result
	Time   time.Time
}

// Listener observes run progress. Implementations must be fast and must not
// block; they run inline with traversal.
type Listener interface {
	OnEvent(ctx context.Context, event Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }
