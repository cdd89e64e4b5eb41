package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/store/memory"
	"github.com/smallnest/chatpipe/telemetry"
)

// Executor runs pipeline graphs. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	models          map[string]llms.Model
	defaultModel    string
	tools           map[string]tools.Tool
	store           store.Store
	maxExecutions   int
	maxVisits       int
	providerTimeout time.Duration
	retry           RetryConfig
	tokenCounter    history.TokenCounter
	summarizer      history.Summarizer
	logger          log.Logger
	listeners       []Listener
	metrics         *telemetry.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		models:          make(map[string]llms.Model),
		tools:           make(map[string]tools.Tool),
		maxExecutions:   DefaultMaxNodeExecutions,
		maxVisits:       DefaultMaxNodeVisits,
		providerTimeout: DefaultProviderTimeout,
		retry:           DefaultRetryConfig(),
		tokenCounter:    history.ApproxCounter{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = memory.NewMemoryStore()
	}
	if e.logger == nil {
		e.logger = log.GetDefaultLogger()
	}
	if e.tracer == nil {
		e.tracer = telemetry.Tracer(nil)
	}
	if e.summarizer == nil {
		if m, ok := e.models[e.defaultModel]; ok {
			e.summarizer = history.NewModelSummarizer(m)
		}
	}
	return e
}

// Session identifies who the run is for.
type Session struct {
	ParticipantID string
	SessionID     string
	// PriorHistory seeds the default history channel instead of loading it
	// from the store.
	PriorHistory []store.Message
	// SessionState replaces the stored session state when non-nil.
	SessionState map[string]any
}

// Input is one run request.
type Input struct {
	Graph   *pipeline.Graph
	Message string
	Session Session
}

type step struct {
	nodeID string
	input  string
	handle string
	path   []string
	// trail holds the node IDs on path, used to tell a loop re-entry from a
	// join.
	trail []string
}

// Run executes the graph once for the trigger message. The returned error is
// non-nil exactly when the result status is StatusError; an abort is not an
// error. The result is never nil.
func (e *Executor) Run(ctx context.Context, in Input) (*Result, error) {
	runID := uuid.NewString()
	res := &Result{
		RunID:     runID,
		Routes:    map[string]string{},
		StartedAt: e.now(),
	}
	if in.Graph == nil {
		err := &ConfigError{Reason: "no graph"}
		return e.fail(res, err), err
	}
	res.PipelineID = in.Graph.ID

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.id", in.Graph.ID),
		attribute.String("run.id", runID),
		attribute.String("session.id", in.Session.SessionID),
	))
	defer span.End()

	rc, err := e.newRunContext(ctx, runID, in)
	if err != nil {
		return e.finish(ctx, span, res, nil, err)
	}
	rc.emit(ctx, Event{Type: EventRunStart})
	e.logger.Debug("run %s started for pipeline %s", runID, in.Graph.ID)

	err = rc.traverse(ctx, res)
	if err == nil {
		err = rc.commit(ctx)
	}
	return e.finish(ctx, span, res, rc, err)
}

func (e *Executor) fail(res *Result, err error) *Result {
	res.Status = StatusError
	res.Error = err.Error()
	res.Outputs = []Output{}
	res.Interrupt = nil
	res.FinishedAt = e.now()
	return res
}

func (e *Executor) finish(ctx context.Context, span trace.Span, res *Result, rc *RunContext, err error) (*Result, error) {
	if rc != nil {
		res.Routes = rc.routesByID()
		res.NodeOutputs = rc.State.NodeOutputs()
		res.Paths = rc.State.Paths()
		if len(rc.nodeErrors) > 0 {
			res.NodeErrors = rc.nodeErrors
		}
	}

	switch {
	case err != nil:
		e.fail(res, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("run %s failed: %v", res.RunID, err)
	case rc.State.Aborted():
		abort := rc.State.Abort()
		res.Status = StatusAborted
		res.Interrupt = &Interrupt{Message: abort.Message, TagName: abort.TagName}
		res.Outputs = []Output{{NodeID: rc.abortedBy, Text: abort.Message}}
		res.TagsApplied = rc.tagsApplied()
		e.logger.Info("run %s aborted: %s", res.RunID, abort.Message)
	default:
		res.Status = StatusSuccess
		res.Outputs = rc.outputs
		res.TagsApplied = rc.tagsApplied()
		e.logger.Debug("run %s completed with %d output(s)", res.RunID, len(res.Outputs))
	}
	if res.Outputs == nil {
		res.Outputs = []Output{}
	}
	res.FinishedAt = e.now()
	span.SetAttributes(attribute.String("run.status", string(res.Status)))
	e.metrics.ObserveRun(res.PipelineID, string(res.Status), res.FinishedAt.Sub(res.StartedAt))

	if rc != nil {
		switch res.Status {
		case StatusError:
			rc.phase = PhaseFailed
		case StatusAborted:
			rc.phase = PhaseAborted
		default:
			rc.phase = PhaseCompleted
		}
		rc.emit(ctx, Event{Type: EventRunEnd, Result: res, Err: err})
	}
	return res, err
}

func (rc *RunContext) traverse(ctx context.Context, res *Result) error {
	rc.phase = PhaseRunning
	queue := []step{{nodeID: rc.Graph.Input().ID, input: rc.Message, handle: ""}}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		st := queue[0]
		queue = queue[1:]
		node, _ := rc.Graph.Node(st.nodeID)

		// A node reached again through a second incoming edge runs once; only
		// re-entry along its own path (a static router loop) runs it again.
		if rc.visits[node.ID] > 0 && !slices.Contains(st.trail, node.ID) {
			rc.logger.Debug("node %s already executed, skipping join from %v", node.Name, st.path)
			continue
		}

		rc.executions++
		if rc.executions > rc.exec.maxExecutions {
			return fmt.Errorf("%w: more than %d node executions", ErrLoopGuard, rc.exec.maxExecutions)
		}
		rc.visits[node.ID]++
		if rc.visits[node.ID] > rc.exec.maxVisits {
			return fmt.Errorf("%w: node %q executed more than %d times", ErrLoopGuard, node.Name, rc.exec.maxVisits)
		}

		path := append(append([]string(nil), st.path...), node.Name)
		trail := append(append([]string(nil), st.trail...), node.ID)
		rc.State.SetPath(node.ID, path)

		out, err := rc.runNode(ctx, node, st.input, st.handle)
		if err != nil {
			return err
		}
		rc.State.SetNodeOutput(node.ID, out.text)
		if rc.State.Aborted() {
			rc.abortedBy = node.ID
			rc.emit(ctx, Event{Type: EventAbort, NodeID: node.ID, NodeName: node.Name, NodeType: node.Type})
			return nil
		}

		var edges []pipeline.Edge
		if node.Routing() {
			rc.State.SetRoute(node.ID, out.handle)
			rc.phase = PhaseBranched
			rc.emit(ctx, Event{Type: EventRoute, NodeID: node.ID, NodeName: node.Name, NodeType: node.Type, Handle: out.handle})
			edges = rc.Graph.EdgesFrom(node.ID, out.handle)
		} else {
			edges = rc.Graph.Outgoing(node.ID)
		}
		for _, edge := range edges {
			queue = append(queue, step{nodeID: edge.Target, input: out.text, handle: edge.SourceHandle, path: path, trail: trail})
		}
		rc.phase = PhaseRunning
	}
	return nil
}

// runNode wraps a single node execution with requirements, tracing, metrics,
// events and panic recovery.
func (rc *RunContext) runNode(ctx context.Context, node *pipeline.Node, input, handle string) (out nodeResult, err error) {
	ctx, span := rc.exec.tracer.Start(ctx, "pipeline.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", string(node.Type)),
	))
	start := time.Now()
	rc.emit(ctx, Event{Type: EventNodeStart, NodeID: node.ID, NodeName: node.Name, NodeType: node.Type})
	rc.logger.Debug("executing node %s (%s)", node.Name, node.Type)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
			err = rc.nodeFailed(ctx, node, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case rc.State.Aborted():
			outcome = "aborted"
		default:
			if node.Routing() {
				span.SetAttributes(attribute.String("node.route", out.handle))
			}
			rc.emit(ctx, Event{Type: EventNodeComplete, NodeID: node.ID, NodeName: node.Name, NodeType: node.Type})
		}
		span.SetAttributes(attribute.String("node.outcome", outcome))
		span.End()
		rc.exec.metrics.ObserveNode(string(node.Type), outcome, time.Since(start))
	}()

	if err := rc.checkRequires(node.Requires...); err != nil {
		return nodeResult{}, err
	}
	return rc.execute(ctx, node, input, handle)
}

func (rc *RunContext) nodeFailed(ctx context.Context, node *pipeline.Node, err error) error {
	if errors.Is(err, ErrCancelled) {
		return err
	}
	nerr := &NodeError{NodeID: node.ID, NodeName: node.Name, NodeType: node.Type, Err: err}
	rc.nodeErrors[node.ID] = err.Error()
	rc.logger.Error("node %s failed: %v", node.Name, err)
	rc.emit(ctx, Event{Type: EventNodeError, NodeID: node.ID, NodeName: node.Name, NodeType: node.Type, Err: nerr})
	return nerr
}

// commit persists the run's state changes. It runs only for successful and
// aborted runs.
func (rc *RunContext) commit(ctx context.Context) error {
	st := rc.exec.store
	sess := rc.Session
	if abort := rc.State.Abort(); abort != nil && abort.TagName != "" {
		rc.State.AddSessionTag(abort.TagName)
	}
	if sess.ParticipantID != "" && rc.State.ParticipantDirty() {
		if err := st.SaveParticipantData(ctx, sess.ParticipantID, rc.State.ParticipantData()); err != nil {
			return fmt.Errorf("failed to save participant data: %w", err)
		}
	}
	if sess.SessionID == "" {
		return nil
	}
	if rc.State.SessionDirty() {
		if err := st.SaveSessionState(ctx, sess.SessionID, rc.State.SessionState()); err != nil {
			return fmt.Errorf("failed to save session state: %w", err)
		}
	}
	if tags := rc.State.SessionTags(); len(tags) > 0 {
		if err := st.AddSessionTags(ctx, sess.SessionID, tags); err != nil {
			return fmt.Errorf("failed to save session tags: %w", err)
		}
	}
	return rc.History.Flush(ctx)
}
