// Package provider implements llms.Model for OpenAI-compatible chat
// completion APIs using github.com/sashabaranov/go-openai.
//
// Any service exposing the /chat/completions endpoint works, including
// OpenAI, Ollama, vLLM and Baidu Qianfan's v2 API:
//
//	model, err := provider.NewOpenAI(
//		provider.WithToken(os.Getenv("OPENAI_API_KEY")),
//		provider.WithModel("gpt-4o-mini"),
//	)
//	exec := engine.New(engine.WithModel("default", model))
package provider
