package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/pipeline"
)

// gateModel blocks every call until release is closed.
type gateModel struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func newGateModel() *gateModel {
	return &gateModel{release: make(chan struct{}), started: make(chan struct{})}
}

func (m *gateModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.once.Do(func() { close(m.started) })
	select {
	case <-m.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "released"}}}, nil
}

func (m *gateModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func compile(t *testing.T, src string) *pipeline.Graph {
	t.Helper()
	def, err := pipeline.Parse([]byte(src))
	require.NoError(t, err)
	g, err := pipeline.Compile(def)
	require.NoError(t, err)
	return g
}

const triage = `
id: triage
nodes:
  - {id: start, type: input}
  - id: router
    type: keyword_router
    params: {keywords: [sales]}
  - id: confused
    type: code
    params:
      code: |
        function main(input)
          abort_with_message("Not sure how to help", "confused")
        end
  - {id: sales_out, type: output}
edges:
  - {source: start, target: router}
  - {source: router, handle: sales, target: sales_out}
  - {source: router, handle: default, target: confused}
`

const chat = `
id: chat
nodes:
  - {id: start, type: input}
  - {id: reply, type: llm_response}
  - {id: out, type: output}
edges:
  - {source: start, target: reply}
  - {source: reply, target: out}
`

func quietManager(opts ...Option) *Manager {
	return NewManager(append([]Option{
		WithLogger(&log.NoOpLogger{}),
		WithEngineOptions(engine.WithLogger(&log.NoOpLogger{})),
	}, opts...)...)
}

func TestSubmitAndWaitSuccess(t *testing.T) {
	ctx := context.Background()
	m := quietManager()
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, triage), Message: "sales please"})
	require.NoError(t, err)

	st, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.True(t, st.Complete)
	require.NotNil(t, st.Success)
	assert.True(t, *st.Success)
	require.NotNil(t, st.Result)
	assert.Equal(t, "sales please", st.Result.Text())
	assert.Equal(t, map[string]string{
		"start":     ProgressCompleted,
		"router":    ProgressCompleted + ": sales",
		"sales_out": ProgressCompleted,
	}, st.Progress)

	again, err := m.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st, again, "polling is idempotent")
}

func TestAbortedTaskIsSuccessful(t *testing.T) {
	ctx := context.Background()
	m := quietManager()
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, triage), Message: "???"})
	require.NoError(t, err)

	st, err := m.Wait(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.Success)
	assert.True(t, *st.Success)
	assert.Equal(t, engine.StatusAborted, st.Result.Status)
	assert.Equal(t, "Not sure how to help", st.Result.Interrupt.Message)
	assert.Equal(t, ProgressAborted, st.Progress["confused"])
}

func TestFailedTask(t *testing.T) {
	ctx := context.Background()
	m := quietManager()
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, chat), Message: "hi"})
	require.NoError(t, err)

	st, err := m.Wait(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.Success)
	assert.False(t, *st.Success)
	assert.Equal(t, engine.StatusError, st.Result.Status)
	assert.Contains(t, st.Result.Error, "no model configured")
	assert.Equal(t, ProgressFailed, st.Progress["reply"])
}

func TestPollWhileRunning(t *testing.T) {
	ctx := context.Background()
	model := newGateModel()
	m := quietManager(WithEngineOptions(engine.WithModel("gate", model)))
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, chat), Message: "hi"})
	require.NoError(t, err)

	<-model.started
	st, err := m.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.Complete)
	assert.Nil(t, st.Success)
	assert.Nil(t, st.Result)
	assert.Equal(t, ProgressRunning, st.Progress["reply"])

	close(model.release)
	st, err = m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "released", st.Result.Text())
}

func TestCancelPendingTask(t *testing.T) {
	ctx := context.Background()
	model := newGateModel()
	m := quietManager(WithWorkers(1), WithEngineOptions(engine.WithModel("gate", model)))
	g := compile(t, chat)

	first, err := m.Submit(ctx, engine.Input{Graph: g, Message: "one"})
	require.NoError(t, err)
	<-model.started
	second, err := m.Submit(ctx, engine.Input{Graph: g, Message: "two"})
	require.NoError(t, err)

	st, err := m.Poll(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	require.NoError(t, m.Cancel(ctx, second))
	st, err = m.Wait(ctx, second)
	require.NoError(t, err)
	assert.False(t, *st.Success)
	assert.Equal(t, engine.ErrCancelled.Error(), st.Result.Error)

	close(model.release)
	st, err = m.Wait(ctx, first)
	require.NoError(t, err)
	assert.True(t, *st.Success)

	assert.ErrorIs(t, m.Cancel(ctx, first), ErrTaskComplete)
	assert.ErrorIs(t, m.Cancel(ctx, "unknown"), ErrTaskNotFound)
}

func TestCancelRunningTaskFinishesInFlightCall(t *testing.T) {
	ctx := context.Background()
	model := newGateModel()
	m := quietManager(WithEngineOptions(engine.WithModel("gate", model)))
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, chat), Message: "hi"})
	require.NoError(t, err)

	<-model.started
	require.NoError(t, m.Cancel(ctx, id))
	close(model.release)

	st, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.False(t, *st.Success)
	assert.Contains(t, st.Result.Error, "cancelled")
}

func TestPollUnknownTask(t *testing.T) {
	_, err := quietManager().Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	m := quietManager()
	id, err := m.Submit(ctx, engine.Input{Graph: compile(t, triage), Message: "sales"})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	st, err := m.Poll(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Complete)

	_, err = m.Submit(ctx, engine.Input{Graph: compile(t, triage), Message: "sales"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownTimeoutCancelsTasks(t *testing.T) {
	model := newGateModel()
	m := quietManager(WithEngineOptions(engine.WithModel("gate", model)))
	id, err := m.Submit(context.Background(), engine.Input{Graph: compile(t, chat), Message: "hi"})
	require.NoError(t, err)
	<-model.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(model.release)
	}()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	st, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, *st.Success)
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ok := true
	require.NoError(t, s.SaveTask(ctx, &Status{ID: "done", Complete: true, Success: &ok, UpdatedAt: now}))
	require.NoError(t, s.SaveTask(ctx, &Status{ID: "running", State: StateRunning, UpdatedAt: now}))

	_, err := s.LoadTask(ctx, "done")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.LoadTask(ctx, "done")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.LoadTask(ctx, "running")
	assert.NoError(t, err, "unfinished tasks never expire")

	require.NoError(t, s.DeleteTask(ctx, "running"))
	_, err = s.LoadTask(ctx, "running")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStatusCloneIsIndependent(t *testing.T) {
	ok := true
	st := &Status{ID: "a", Success: &ok, Progress: map[string]string{"n": ProgressRunning}}
	c := st.Clone()
	c.Progress["n"] = ProgressFailed
	*c.Success = false
	assert.Equal(t, ProgressRunning, st.Progress["n"])
	assert.True(t, *st.Success)
}
