// Chatpipe - Pipeline Execution Engine for LLM Chatbots
//
// Chatpipe runs chatbot pipelines: directed graphs of typed nodes that turn a
// single participant message into a reply. Nodes call language models, route
// the conversation by keyword, participant data or boolean checks, run
// sandboxed Lua code, call tools, and emit output. Each run reads and writes
// participant data, session state, session tags and conversation history.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/smallnest/chatpipe/cmd/chatpipe@latest
//
// Define a pipeline:
//
//	id: support
//	nodes:
//	  - {id: start, type: input}
//	  - id: router
//	    type: keyword_router
//	    params: {keywords: [billing, technical]}
//	  - id: answer
//	    type: llm_response
//	    params: {prompt: "You are a helpful billing assistant."}
//	  - {id: out, type: output}
//	edges:
//	  - {source: start, target: router}
//	  - {source: router, handle: billing, target: answer}
//	  - {source: router, handle: default, target: answer}
//	  - {source: answer, target: out}
//
// Run it from Go:
//
//	g, _ := pipeline.LoadFile("support.yaml")
//	model, _ := provider.NewOpenAI()
//	exec := engine.New(engine.WithModel("default", model))
//	res, err := exec.Run(ctx, engine.Input{
//		Graph:   g,
//		Message: "I was charged twice",
//		Session: engine.Session{ParticipantID: "p1", SessionID: "s1"},
//	})
//	fmt.Println(res.Text())
//
// # Key Features
//
//   - Node types: input, output, llm_response, keyword_router, static_router,
//     boolean, code, tool
//   - Explicit routing: every router selects exactly one handle, unconnected
//     handles end the branch
//   - Aborts: abort_with_message stops the run and still commits state
//   - History channels with summarize, truncate_tokens and max_history_length
//     compaction
//   - Retries and timeouts for model and tool calls
//   - Asynchronous task wrapper with progress polling and cancellation
//   - Memory, Redis, PostgreSQL and SQLite persistence
//   - Prometheus metrics and OpenTelemetry tracing
//
// # Package Structure
//
// pipeline/
// Graph definitions, node parameter decoding, validation and a hot-reloading
// registry.
//
// engine/
// The executor: traversal, node dispatch, capability surface, retries and
// the run result.
//
// state/, history/
// Per-run execution state and history channel management.
//
// expr/, sandbox/
// HCL predicates for boolean and static router nodes, and the Lua sandbox
// for code nodes.
//
// task/
// Asynchronous submission, polling, progress and cancellation.
//
// store/
// Persistence interfaces with memory, redis, postgres and sqlite backends.
//
// provider/, tool/, render/
// OpenAI-compatible models, built-in tools and HTML output rendering.
//
// api/, cmd/chatpipe/, config/
// HTTP surface, command line and configuration.
//
// # Configuration
//
// The CLI reads a YAML file (chatpipe -c chatpipe.yaml); ${VAR} references are
// expanded from the environment. Without a file the defaults apply and
// provider.NewOpenAI falls back to OPENAI_API_KEY and OPENAI_BASE_URL.
package chatpipe // import "github.com/smallnest/chatpipe"
