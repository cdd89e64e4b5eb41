package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/task"
	"github.com/smallnest/chatpipe/telemetry"
)

const triage = `
id: triage
name: Triage
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

func newTestServer(t *testing.T) (*httptest.Server, *task.Manager) {
	t.Helper()
	def, err := pipeline.Parse([]byte(triage))
	require.NoError(t, err)
	g, err := pipeline.Compile(def)
	require.NoError(t, err)

	reg := pipeline.NewRegistry(t.TempDir(), &log.NoOpLogger{})
	reg.Register(g)

	metrics := telemetry.NewMetrics()
	mgr := task.NewManager(
		task.WithLogger(&log.NoOpLogger{}),
		task.WithMetrics(metrics),
		task.WithEngineOptions(engine.WithLogger(&log.NoOpLogger{}), engine.WithMetrics(metrics)),
	)
	srv := httptest.NewServer(NewServer(reg, mgr, WithMetrics(metrics), WithLogger(&log.NoOpLogger{})).Handler())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func submit(t *testing.T, srv *httptest.Server, pipelineID, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/pipelines/"+pipelineID+"/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func pollUntilComplete(t *testing.T, srv *httptest.Server, id string) task.Status {
	t.Helper()
	var status task.Status
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/v1/tasks/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		status = task.Status{}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Complete
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestSubmitAndPoll(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submit(t, srv, "triage", `{"message": "sales please", "participant_id": "p1", "session_id": "s1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var run RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	require.NotEmpty(t, run.TaskID)

	status := pollUntilComplete(t, srv, run.TaskID)
	require.NotNil(t, status.Success)
	assert.True(t, *status.Success)
	require.NotNil(t, status.Result)
	assert.Equal(t, engine.StatusSuccess, status.Result.Status)
	assert.Equal(t, "sales please", status.Result.Text())
	assert.Equal(t, "completed: sales", status.Progress["router"])
}

func TestSubmitAbortIsSuccessful(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submit(t, srv, "triage", `{"message": "hello", "participant_id": "p1", "session_id": "s1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var run RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))

	status := pollUntilComplete(t, srv, run.TaskID)
	require.NotNil(t, status.Success)
	assert.True(t, *status.Success)
	require.NotNil(t, status.Result.Interrupt)
	assert.Equal(t, "Not sure how to help", status.Result.Interrupt.Message)
	assert.Equal(t, "confused", status.Result.Interrupt.TagName)
}

func TestSubmitErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submit(t, srv, "missing", `{"message": "hi", "participant_id": "p", "session_id": "s"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = submit(t, srv, "triage", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = submit(t, srv, "triage", `{"message": "hi"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "session_id")
}

func TestSubmitAfterShutdown(t *testing.T) {
	srv, mgr := newTestServer(t)
	require.NoError(t, mgr.Shutdown(t.Context()))

	resp := submit(t, srv, "triage", `{"message": "hi", "participant_id": "p", "session_id": "s"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPollAndCancelUnknownTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/tasks/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/tasks/nope", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelCompletedTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submit(t, srv, "triage", `{"message": "sales", "participant_id": "p", "session_id": "s"}`)
	var run RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	pollUntilComplete(t, srv, run.TaskID)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/tasks/"+run.TaskID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListPipelines(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/pipelines")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []pipelineInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, pipelineInfo{ID: "triage", Name: "Triage", Nodes: 4}, list[0])
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	submit(t, srv, "triage", `{"message": "sales", "participant_id": "p", "session_id": "s"}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "chatpipe_")
}

func TestWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/pipelines/triage/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
