// Package tool provides the built-in tools available to Tool nodes.
//
// Every tool implements github.com/tmc/langchaingo/tools.Tool and is
// registered with the executor under its Name:
//
//	search, err := tool.NewBraveSearch("")
//	exec := engine.New(
//		engine.WithTool(search),
//		engine.WithTool(tool.NewWebFetch()),
//	)
//
// A Tool node then selects it by name:
//
//	- id: lookup
//	  type: tool
//	  params: {tool: brave_search, input: "{input}"}
package tool
