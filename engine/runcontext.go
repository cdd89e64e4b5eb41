package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/state"
	"github.com/smallnest/chatpipe/store"
)

// RunContext is the explicit per-run context threaded through every node
// execution and capability call. Nothing about a run lives outside it.
type RunContext struct {
	RunID   string
	Graph   *pipeline.Graph
	State   *state.State
	History *history.Manager
	Session Session
	Message string

	exec       *Executor
	logger     log.Logger
	phase      Phase
	executions int
	visits     map[string]int
	outputs    []Output
	nodeErrors map[string]string
	abortedBy  string
}

func (e *Executor) newRunContext(ctx context.Context, runID string, in Input) (*RunContext, error) {
	var participant map[string]any
	if in.Session.ParticipantID != "" {
		data, err := e.store.LoadParticipantData(ctx, in.Session.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load participant data: %w", err)
		}
		participant = data
	}
	session := in.Session.SessionState
	if session == nil && in.Session.SessionID != "" {
		data, err := e.store.LoadSessionState(ctx, in.Session.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session state: %w", err)
		}
		session = data
	}

	logger := log.Named(e.logger, "run "+runID[:8])
	opts := []history.Option{
		history.WithTokenCounter(e.tokenCounter),
		history.WithLogger(logger),
	}
	if e.summarizer != nil {
		opts = append(opts, history.WithSummarizer(e.summarizer))
	}
	if in.Session.PriorHistory != nil {
		opts = append(opts, history.WithPriorHistory(history.DefaultChannel, in.Session.PriorHistory))
	}
	var hstore store.HistoryStore
	if in.Session.SessionID != "" {
		hstore = e.store
	}

	rc := &RunContext{
		RunID:      runID,
		Graph:      in.Graph,
		State:      state.New(participant, session),
		Session:    in.Session,
		Message:    in.Message,
		exec:       e,
		logger:     logger,
		phase:      PhaseReady,
		visits:     make(map[string]int),
		nodeErrors: make(map[string]string),
	}
	rc.History = history.NewManager(in.Session.SessionID, hstore, opts...)
	return rc, nil
}

// Phase returns the current state of the run state machine.
func (rc *RunContext) Phase() Phase { return rc.phase }

func (rc *RunContext) emit(ctx context.Context, ev Event) {
	if len(rc.exec.listeners) == 0 {
		return
	}
	ev.RunID = rc.RunID
	ev.Phase = rc.phase
	ev.Time = time.Now()
	for _, l := range rc.exec.listeners {
		l.OnEvent(ctx, ev)
	}
}

func (rc *RunContext) routesByID() map[string]string {
	return rc.State.Routes()
}

func (rc *RunContext) tagsApplied() TagsApplied {
	return TagsApplied{
		MessageTags: nonNil(rc.State.MessageTags()),
		SessionTags: nonNil(rc.State.SessionTags()),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// resolve maps a node name or id to its node.
func (rc *RunContext) resolve(nameOrID string) (*pipeline.Node, bool) {
	return rc.Graph.Lookup(nameOrID)
}

func (rc *RunContext) checkRequires(names ...string) error {
	for _, name := range names {
		n, ok := rc.resolve(name)
		if !ok {
			return &MissingOutputError{NodeName: name}
		}
		if _, ok := rc.State.NodeOutput(n.ID); !ok {
			return &MissingOutputError{NodeName: name}
		}
	}
	return nil
}
