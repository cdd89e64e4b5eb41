package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/telemetry"
)

// DefaultWorkers is the default size of the worker pool.
const DefaultWorkers = 8

var (
	// ErrShutdown is returned by Submit after Shutdown was called.
	ErrShutdown = errors.New("task manager is shut down")
	// ErrTaskComplete is returned when cancelling a finished task.
	ErrTaskComplete = errors.New("task already complete")
)

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers bounds the number of concurrently running tasks.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithStore sets where task statuses are kept. The default is an in-memory
// store with a one hour retention.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithEngineOptions configures the Executor the manager runs tasks on.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records task metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

type taskKey struct{}

// record is the live side of a task that has not finished yet.
type record struct {
	mu     sync.Mutex
	status *Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs pipeline inputs on a bounded worker pool and answers polls.
type Manager struct {
	exec       *engine.Executor
	engineOpts []engine.Option
	store      Store
	workers    int
	sem        chan struct{}
	logger     log.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	mu     sync.Mutex
	live   map[string]*record
	closed bool
	wg     sync.WaitGroup
	base   context.Context
	stop   context.CancelFunc
}

// NewManager creates a manager and its Executor.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		workers: DefaultWorkers,
		live:    make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore(time.Hour)
	}
	if m.logger == nil {
		m.logger = log.GetDefaultLogger()
	}
	m.sem = make(chan struct{}, m.workers)
	m.base, m.stop = context.WithCancel(context.Background())
	m.exec = engine.New(append(m.engineOpts, engine.WithListener(engine.ListenerFunc(m.onEvent)))...)
	return m
}

// Executor returns the executor tasks run on.
func (m *Manager) Executor() *engine.Executor { return m.exec }

// Submit schedules a run and returns its task id without waiting for it.
func (m *Manager) Submit(ctx context.Context, in engine.Input) (string, error) {
	if in.Graph == nil {
		return "", errors.New("no graph to run")
	}
	now := m.now()
	rec := &record{
		status: &Status{
			ID:          uuid.NewString(),
			PipelineID:  in.Graph.ID,
			SessionID:   in.Session.SessionID,
			State:       StatePending,
			Progress:    map[string]string{},
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	id := rec.status.ID

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShutdown
	}
	if err := m.store.SaveTask(ctx, rec.status); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("failed to save task: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.WithValue(m.base, taskKey{}, id))
	rec.cancel = cancel
	m.live[id] = rec
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx, rec, in)
	m.logger.Debug("task %s submitted for pipeline %s", id, in.Graph.ID)
	return id, nil
}

func (m *Manager) run(ctx context.Context, rec *record, in engine.Input) {
	defer m.wg.Done()
	defer rec.cancel()

	var res *engine.Result
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
		res = m.execute(ctx, rec, in)
	case <-ctx.Done():
		now := m.now()
		res = &engine.Result{
			PipelineID: in.Graph.ID,
			Status:     engine.StatusError,
			Outputs:    []engine.Output{},
			Routes:     map[string]string{},
			Error:      engine.ErrCancelled.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
	}

	rec.mu.Lock()
	rec.status.complete(res, m.now())
	snapshot := rec.status.Clone()
	rec.mu.Unlock()

	m.persist(snapshot)
	m.mu.Lock()
	delete(m.live, snapshot.ID)
	m.mu.Unlock()
	close(rec.done)
	m.logger.Info("task %s finished: %s", snapshot.ID, res.Status)
}

func (m *Manager) execute(ctx context.Context, rec *record, in engine.Input) *engine.Result {
	if ctx.Err() != nil {
		return &engine.Result{
			PipelineID: in.Graph.ID,
			Status:     engine.StatusError,
			Outputs:    []engine.Output{},
			Routes:     map[string]string{},
			Error:      engine.ErrCancelled.Error(),
		}
	}
	rec.mu.Lock()
	rec.status.State = StateRunning
	rec.status.UpdatedAt = m.now()
	snapshot := rec.status.Clone()
	rec.mu.Unlock()
	m.persist(snapshot)

	m.metrics.TaskStarted()
	res, err := m.exec.Run(ctx, in)
	if err != nil {
		m.logger.Warn("task %s run failed: %v", snapshot.ID, err)
	}
	m.metrics.TaskFinished(string(res.Status))
	return res
}

// onEvent turns node events into task progress.
func (m *Manager) onEvent(ctx context.Context, ev engine.Event) {
	id, _ := ctx.Value(taskKey{}).(string)
	m.mu.Lock()
	rec, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	var progress string
	switch ev.Type {
	case engine.EventNodeStart:
		progress = ProgressRunning
	case engine.EventNodeComplete:
		progress = ProgressCompleted
	case engine.EventNodeError:
		progress = ProgressFailed
	case engine.EventAbort:
		progress = ProgressAborted
	case engine.EventRoute:
		progress = ProgressCompleted + ": " + ev.Handle
	default:
		return
	}

	rec.mu.Lock()
	rec.status.Progress[ev.NodeID] = progress
	rec.status.UpdatedAt = m.now()
	rec.mu.Unlock()
}

// persist saves on a context that outlives task cancellation.
func (m *Manager) persist(st *Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveTask(ctx, st); err != nil {
		m.logger.Error("failed to save task %s: %v", st.ID, err)
	}
}

// Poll returns the current status of a task.
func (m *Manager) Poll(ctx context.Context, id string) (*Status, error) {
	m.mu.Lock()
	rec, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.status.Clone(), nil
	}
	return m.store.LoadTask(ctx, id)
}

// Wait blocks until the task completes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Status, error) {
	m.mu.Lock()
	rec, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-rec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Poll(ctx, id)
}

// Cancel stops a pending or running task. A running task stops before its
// next node; an in-flight provider call is allowed to finish.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		rec.cancel()
		m.logger.Info("task %s cancelled", id)
		return nil
	}
	if _, err := m.store.LoadTask(ctx, id); err != nil {
		return err
	}
	return ErrTaskComplete
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first the remaining tasks are cancelled and ctx.Err is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stop()
		return nil
	case <-ctx.Done():
		m.stop()
		<-done
		return ctx.Err()
	}
}
