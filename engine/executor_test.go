package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/store/memory"
)

func quiet() Option { return WithLogger(&log.NoOpLogger{}) }

func TestBooleanRefundScenario(t *testing.T) {
	g := compile(t, `
id: refunds
nodes:
  - {id: start, type: input}
  - id: is_refund
    type: boolean
    params: {operator: contains, value: refund}
  - {id: refund_out, type: output}
  - {id: other_out, type: output}
edges:
  - {source: start, target: is_refund}
  - {source: is_refund, handle: "true", target: refund_out}
  - {source: is_refund, handle: "false", target: other_out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "I want a refund"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "refunds", res.PipelineID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, map[string]string{"is_refund": "true"}, res.Routes)
	assert.Equal(t, []Output{{NodeID: "refund_out", Text: "I want a refund", OutputHandle: "true"}}, res.Outputs)
	assert.NotContains(t, res.NodeOutputs, "other_out")
	assert.Equal(t, []string{"start", "is_refund", "refund_out"}, res.Paths["refund_out"])
	assert.Nil(t, res.Interrupt)
}

const keywordAbortPipeline = `
id: triage
nodes:
  - {id: start, type: input}
  - id: router
    type: keyword_router
    params: {keywords: [sales, support]}
  - id: confused
    type: code
    params:
      code: |
        function main(input)
          abort_with_message("Not sure how to help")
        end
  - {id: sales_out, type: output}
  - {id: support_out, type: output}
edges:
  - {source: start, target: router}
  - {source: router, handle: sales, target: sales_out}
  - {source: router, handle: support, target: support_out}
  - {source: router, handle: default, target: confused}
`

func TestKeywordDefaultAbortScenario(t *testing.T) {
	g := compile(t, keywordAbortPipeline)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "asdkjasd"})
	require.NoError(t, err)

	assert.Equal(t, StatusAborted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "Not sure how to help", res.Interrupt.Message)
	assert.Empty(t, res.Interrupt.TagName)
	assert.Equal(t, "default", res.Routes["router"])
	assert.Equal(t, []Output{{NodeID: "confused", Text: "Not sure how to help"}}, res.Outputs)
	assert.Empty(t, res.Error)
}

func TestKeywordRouting(t *testing.T) {
	g := compile(t, keywordAbortPipeline)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "I need SUPPORT with my order"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "support", res.Routes["router"])
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "support_out", res.Outputs[0].NodeID)
}

func TestDefaultRoutingNeverDropsMessage(t *testing.T) {
	g := compile(t, `
id: billing
nodes:
  - {id: start, type: input}
  - id: router
    type: keyword_router
    params: {keywords: [billing, support]}
  - {id: billing_out, type: output}
  - {id: fallback_out, type: output}
edges:
  - {source: start, target: router}
  - {source: router, handle: billing, target: billing_out}
  - {source: router, handle: default, target: fallback_out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "what's my invoice total"})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Routes["router"])
	assert.Equal(t, []Output{{NodeID: "fallback_out", Text: "what's my invoice total", OutputHandle: "default"}}, res.Outputs)
}

func TestUnconnectedHandleEndsBranch(t *testing.T) {
	g := compile(t, `
id: p
nodes:
  - {id: start, type: input}
  - id: router
    type: keyword_router
    params: {keywords: [billing]}
  - {id: billing_out, type: output}
edges:
  - {source: start, target: router}
  - {source: router, handle: billing, target: billing_out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "default", res.Routes["router"])
	assert.Empty(t, res.Outputs)
}

func TestRequireNodeOutputsScenario(t *testing.T) {
	g := compile(t, `
id: misordered
nodes:
  - {id: start, type: input}
  - id: guard
    type: code
    params:
      code: |
        function main(input)
          require_node_outputs("router_1")
          return input
        end
  - id: router_1
    type: keyword_router
    params: {keywords: [a]}
  - {id: out, type: output}
edges:
  - {source: start, target: guard}
  - {source: guard, target: router_1}
  - {source: router_1, handle: default, target: out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "hi"})
	require.Error(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "router_1")
	var missing *MissingOutputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "router_1", missing.NodeName)
	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "guard", nodeErr.NodeID)

	assert.Contains(t, res.NodeErrors, "guard")
	assert.Equal(t, "hi", res.NodeOutputs["start"], "partial trace is kept")
	assert.Empty(t, res.Outputs)
	assert.Empty(t, res.TagsApplied.MessageTags)
}

func TestDeclaredRequirementsAreChecked(t *testing.T) {
	g := compile(t, `
id: p
nodes:
  - {id: start, type: input}
  - {id: out, type: output, requires: [later]}
  - {id: later, type: output}
edges:
  - {source: start, target: out}
  - {source: start, target: later}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "hi"})
	var missing *MissingOutputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "later", missing.NodeName)
	assert.Equal(t, StatusError, res.Status)
}

func TestAbortShortCircuitsQueuedBranches(t *testing.T) {
	st := memory.NewMemoryStore()
	g := compile(t, `
id: fanout
nodes:
  - {id: start, type: input}
  - id: stopper
    type: code
    params:
      code: |
        function main(input)
          add_message_tag("flagged")
          set_session_state_key("stopped", true)
          abort_with_message("Stopped", "stopped")
        end
  - {id: other, type: output}
edges:
  - {source: start, target: stopper}
  - {source: start, target: other}
`)
	res, err := New(quiet(), WithStore(st)).Run(context.Background(), Input{
		Graph:   g,
		Message: "hi",
		Session: Session{SessionID: "s1"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAborted, res.Status)
	assert.NotContains(t, res.NodeOutputs, "other")
	assert.Equal(t, "Stopped", res.NodeOutputs["stopper"], "aborting node keeps its output")
	assert.Equal(t, &Interrupt{Message: "Stopped", TagName: "stopped"}, res.Interrupt)
	assert.Equal(t, []string{"flagged"}, res.TagsApplied.MessageTags)
	assert.Equal(t, []string{"stopped"}, res.TagsApplied.SessionTags)

	tags, err := st.SessionTags(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stopped"}, tags)
	sess, err := st.LoadSessionState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, true, sess["stopped"])
}

func TestStateIsolationAcrossRuns(t *testing.T) {
	st := memory.NewMemoryStore()
	g := compile(t, `
id: counter
nodes:
  - {id: start, type: input}
  - id: count
    type: code
    params:
      code: |
        function main(input)
          local seen = get_temp_state_key("seen")
          set_temp_state_key("seen", "yes")
          local runs = (get_session_state_key("runs") or 0) + 1
          set_session_state_key("runs", runs)
          return tostring(seen) .. " " .. tostring(runs)
        end
  - {id: out, type: output}
edges:
  - {source: start, target: count}
  - {source: count, target: out}
`)
	exec := New(quiet(), WithStore(st))
	in := Input{Graph: g, Message: "hi", Session: Session{SessionID: "s1", ParticipantID: "p1"}}

	first, err := exec.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "nil 1", first.Text())

	second, err := exec.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "nil 2", second.Text())

	other, err := exec.Run(context.Background(), Input{Graph: g, Message: "hi", Session: Session{SessionID: "s2"}})
	require.NoError(t, err)
	assert.Equal(t, "nil 1", other.Text())
}

func TestFailedRunCommitsNothing(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveParticipantData(ctx, "p1", map[string]any{"plan": "free"}))
	g := compile(t, `
id: failing
nodes:
  - {id: start, type: input}
  - id: writer
    type: code
    params:
      code: |
        function main(input)
          set_participant_data({plan = "pro"})
          set_session_state_key("touched", true)
          add_session_tag("writer")
          return input
        end
  - {id: search, type: tool, params: {tool: ghost}}
edges:
  - {source: start, target: writer}
  - {source: writer, target: search}
`)
	res, err := New(quiet(), WithStore(st)).Run(ctx, Input{
		Graph:   g,
		Message: "hi",
		Session: Session{SessionID: "s1", ParticipantID: "p1"},
	})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "ghost")

	data, _ := st.LoadParticipantData(ctx, "p1")
	assert.Equal(t, map[string]any{"plan": "free"}, data)
	sess, _ := st.LoadSessionState(ctx, "s1")
	assert.Empty(t, sess)
	tags, _ := st.SessionTags(ctx, "s1")
	assert.Empty(t, tags)
	hist, _ := st.LoadHistory(ctx, "s1", "default")
	assert.Empty(t, hist)
}

const loopPipeline = `
id: loop
nodes:
  - {id: start, type: input}
  - id: count
    type: code
    params:
      code: |
        function main(input)
          set_temp_state_key("n", (get_temp_state_key("n") or 0) + 1)
          return input .. "+"
        end
  - id: again
    type: static_router
    params:
      keywords: [loop, done]
      default_keyword_index: 1
      rules:
        - {keyword: loop, when: "temp_state.n < 3"}
  - {id: out, type: output}
edges:
  - {source: start, target: count}
  - {source: count, target: again}
  - {source: again, handle: loop, target: count}
  - {source: again, handle: done, target: out}
`

func TestStaticRouterLoop(t *testing.T) {
	g := compile(t, loopPipeline)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x+++", res.Text())
	assert.Equal(t, "done", res.Routes["again"])
	assert.Equal(t,
		[]string{"start", "count", "again", "count", "again", "count", "again", "out"},
		res.Paths["out"])
}

func TestLoopGuard(t *testing.T) {
	g := compile(t, loopPipeline)

	_, err := New(quiet(), WithMaxNodeVisits(2)).Run(context.Background(), Input{Graph: g, Message: "x"})
	assert.ErrorIs(t, err, ErrLoopGuard)

	res, err := New(quiet(), WithMaxNodeExecutions(5)).Run(context.Background(), Input{Graph: g, Message: "x"})
	assert.ErrorIs(t, err, ErrLoopGuard)
	assert.Equal(t, StatusError, res.Status)
}

func TestUnboundedLoopFails(t *testing.T) {
	g := compile(t, `
id: spin
nodes:
  - {id: start, type: input}
  - id: spin
    type: static_router
    params:
      keywords: [again]
      rules: [{keyword: again, when: "true"}]
edges:
  - {source: start, target: spin}
  - {source: spin, handle: again, target: spin}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "x"})
	assert.ErrorIs(t, err, ErrLoopGuard)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "again", res.Routes["spin"])
}

func TestJoinNodeRunsOnce(t *testing.T) {
	g := compile(t, `
id: diamond
nodes:
  - {id: start, type: input}
  - id: a
    type: code
    params:
      code: |
        function main(input) return input .. "A" end
  - id: b
    type: code
    params:
      code: |
        function main(input) return input .. "B" end
  - {id: out, type: output}
edges:
  - {source: start, target: a}
  - {source: start, target: b}
  - {source: a, target: out}
  - {source: b, target: out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "x"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "xA", res.Outputs[0].Text)
	assert.Equal(t, "xB", res.NodeOutputs["b"])
	assert.Equal(t, []string{"start", "a", "out"}, res.Paths["out"])
}

func TestStaticRouterRouteKey(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveParticipantData(ctx, "p1", map[string]any{
		"account": map[string]any{"tier": "Gold"},
	}))
	g := compile(t, `
id: tiers
nodes:
  - {id: start, type: input}
  - id: tier
    type: static_router
    params:
      data_source: participant_data
      route_key: account.tier
      keywords: [bronze, gold]
      tag_output: true
  - {id: bronze_out, type: output}
  - {id: gold_out, type: output}
edges:
  - {source: start, target: tier}
  - {source: tier, handle: bronze, target: bronze_out}
  - {source: tier, handle: gold, target: gold_out}
`)
	exec := New(quiet(), WithStore(st))
	res, err := exec.Run(ctx, Input{Graph: g, Message: "hi", Session: Session{ParticipantID: "p1"}})
	require.NoError(t, err)
	assert.Equal(t, "gold", res.Routes["tier"])
	assert.Equal(t, []string{"gold"}, res.TagsApplied.MessageTags)

	res, err = exec.Run(ctx, Input{Graph: g, Message: "hi", Session: Session{ParticipantID: "nobody"}})
	require.NoError(t, err)
	assert.Equal(t, "bronze", res.Routes["tier"], "missing key selects the default keyword")
}

func TestBooleanExpression(t *testing.T) {
	g := compile(t, `
id: vip
nodes:
  - {id: start, type: input}
  - id: is_vip
    type: boolean
    params:
      operator: expression
      value: 'participant_data.plan == "pro" && strcontains(lower(input), "urgent")'
  - {id: yes, type: output}
edges:
  - {source: start, target: is_vip}
  - {source: is_vip, handle: "true", target: yes}
`)
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveParticipantData(context.Background(), "p1", map[string]any{"plan": "pro"}))
	res, err := New(quiet(), WithStore(st)).Run(context.Background(), Input{
		Graph: g, Message: "URGENT: site down", Session: Session{ParticipantID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "true", res.Routes["is_vip"])
}

func TestCancelledRun(t *testing.T) {
	g := compile(t, keywordAbortPipeline)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(quiet()).Run(ctx, Input{Graph: g, Message: "sales"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusError, res.Status)
}

func TestRunWithoutGraph(t *testing.T) {
	res, err := New(quiet()).Run(context.Background(), Input{Message: "hi"})
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, StatusError, res.Status)
	assert.NotNil(t, res.Outputs)
}

func TestCodeNodeCapabilitiesSeeRunState(t *testing.T) {
	g := compile(t, `
id: inspect
nodes:
  - {id: start, type: input, name: entry}
  - id: r1
    name: router_1
    type: keyword_router
    params: {keywords: [billing]}
  - id: inspect
    type: code
    params:
      code: |
        function main(input)
          local routes = get_all_routes()
          return get_selected_route("router_1") .. "|" .. routes["router_1"] .. "|" ..
            table.concat(get_node_path("inspect"), ">") .. "|" .. get_node_output("entry") .. "|" ..
            tostring(get_node_output("out"))
        end
  - {id: out, type: output}
edges:
  - {source: start, target: r1}
  - {source: r1, handle: billing, target: inspect}
  - {source: inspect, target: out}
`)
	res, err := New(quiet()).Run(context.Background(), Input{Graph: g, Message: "billing please"})
	require.NoError(t, err)
	assert.Equal(t, "billing|billing|entry>router_1>inspect|billing please|nil", res.Text())
}

func TestListenerEvents(t *testing.T) {
	g := compile(t, keywordAbortPipeline)
	var events []Event
	l := ListenerFunc(func(_ context.Context, ev Event) { events = append(events, ev) })

	_, err := New(quiet(), WithListener(l)).Run(context.Background(), Input{Graph: g, Message: "sales"})
	require.NoError(t, err)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventRunStart,
		EventNodeStart, EventNodeComplete,
		EventNodeStart, EventNodeComplete, EventRoute,
		EventNodeStart, EventNodeComplete,
		EventRunEnd,
	}, types)
	assert.Equal(t, "sales", events[5].Handle)
	assert.Equal(t, PhaseCompleted, events[len(events)-1].Phase)
	require.NotNil(t, events[len(events)-1].Result)
	assert.Equal(t, StatusSuccess, events[len(events)-1].Result.Status)
}

func TestResultTimestamps(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := compile(t, keywordAbortPipeline)
	res, err := New(quiet(), WithClock(func() time.Time { return fixed })).Run(context.Background(), Input{Graph: g, Message: "sales"})
	require.NoError(t, err)
	assert.Equal(t, fixed, res.StartedAt)
	assert.Equal(t, fixed, res.FinishedAt)
}
