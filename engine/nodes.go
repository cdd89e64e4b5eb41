package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/render"
	"github.com/smallnest/chatpipe/sandbox"
	"github.com/smallnest/chatpipe/store"
)

type nodeResult struct {
	text string
	// handle is the selected handle of routing nodes.
	handle string
}

// execute dispatches on the closed set of node variants.
func (rc *RunContext) execute(ctx context.Context, node *pipeline.Node, input, handle string) (nodeResult, error) {
	switch spec := node.Spec.(type) {
	case *pipeline.InputSpec:
		return rc.execInput(ctx, input)
	case *pipeline.LLMResponseSpec:
		return rc.execLLM(ctx, node, spec, input)
	case *pipeline.KeywordRouterSpec:
		return rc.execKeywordRouter(ctx, node, spec, input)
	case *pipeline.StaticRouterSpec:
		return rc.execStaticRouter(spec, input)
	case *pipeline.BooleanSpec:
		return rc.execBoolean(spec, input)
	case *pipeline.CodeSpec:
		return rc.execCode(ctx, node, spec, input)
	case *pipeline.ToolSpec:
		return rc.execTool(ctx, node, spec, input)
	case *pipeline.OutputSpec:
		return rc.execOutput(node, spec, input, handle)
	default:
		return nodeResult{}, &ConfigError{Reason: fmt.Sprintf("unsupported node type %q", node.Type)}
	}
}

func (rc *RunContext) execInput(ctx context.Context, input string) (nodeResult, error) {
	if err := rc.History.Append(ctx, history.DefaultChannel, store.NewMessage(store.RoleUser, input)); err != nil {
		return nodeResult{}, err
	}
	return nodeResult{text: input}, nil
}

func (rc *RunContext) model(name string) (llms.Model, error) {
	if name == "" {
		name = rc.exec.defaultModel
	}
	m, ok := rc.exec.models[name]
	if !ok {
		if name == "" {
			return nil, &ConfigError{Reason: "no model configured"}
		}
		return nil, &ConfigError{Reason: fmt.Sprintf("model %q is not configured", name)}
	}
	return m, nil
}

// conversation builds the model messages: the rendered system prompt, the
// compacted history channel and the node input as the latest user turn.
func (rc *RunContext) conversation(ctx context.Context, prompt string, cfg history.ChannelConfig, input string) ([]llms.MessageContent, error) {
	var msgs []llms.MessageContent
	if prompt = strings.TrimSpace(rc.renderTemplate(prompt, input)); prompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, prompt))
	}
	var past []history.Message
	if !cfg.Disabled {
		var err error
		past, err = rc.History.Compact(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	for _, m := range past {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}
	if n := len(past); n == 0 || past[n-1].Role != store.RoleUser || past[n-1].Content != input {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, input))
	}
	return msgs, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case store.RoleAssistant:
		return llms.ChatMessageTypeAI
	case store.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// recordExchange appends the node input and model reply to the channel,
// skipping the input when it is already the latest message.
func (rc *RunContext) recordExchange(ctx context.Context, cfg history.ChannelConfig, input, reply string) error {
	if cfg.Disabled {
		return nil
	}
	past, err := rc.History.Messages(ctx, cfg.Name())
	if err != nil {
		return err
	}
	var msgs []history.Message
	if n := len(past); n == 0 || past[n-1].Role != store.RoleUser || past[n-1].Content != input {
		msgs = append(msgs, store.NewMessage(store.RoleUser, input))
	}
	msgs = append(msgs, store.NewMessage(store.RoleAssistant, reply))
	return rc.History.Append(ctx, cfg.Name(), msgs...)
}

func (rc *RunContext) generate(ctx context.Context, node *pipeline.Node, model llms.Model, msgs []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	return rc.callProvider(ctx, node, "model", func(ctx context.Context) (string, error) {
		resp, err := model.GenerateContent(ctx, msgs, opts...)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		return resp.Choices[0].Content, nil
	})
}

func (rc *RunContext) execLLM(ctx context.Context, node *pipeline.Node, spec *pipeline.LLMResponseSpec, input string) (nodeResult, error) {
	model, err := rc.model(spec.Model)
	if err != nil {
		return nodeResult{}, err
	}
	msgs, err := rc.conversation(ctx, spec.Prompt, spec.History, input)
	if err != nil {
		return nodeResult{}, err
	}
	var opts []llms.CallOption
	if spec.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*spec.Temperature))
	}
	if spec.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(spec.MaxTokens))
	}
	reply, err := rc.generate(ctx, node, model, msgs, opts...)
	if err != nil {
		return nodeResult{}, err
	}
	if err := rc.recordExchange(ctx, spec.History, input, reply); err != nil {
		return nodeResult{}, err
	}
	return nodeResult{text: reply}, nil
}

func (rc *RunContext) execKeywordRouter(ctx context.Context, node *pipeline.Node, spec *pipeline.KeywordRouterSpec, input string) (nodeResult, error) {
	handle := pipeline.HandleDefault
	switch {
	case len(spec.Keywords) == 0:
	case spec.Mode == pipeline.ModeModel:
		model, err := rc.model(spec.Model)
		if err != nil {
			return nodeResult{}, err
		}
		prompt := spec.Prompt
		if prompt == "" {
			prompt = "Classify the user's message."
		}
		prompt += "\nAnswer with exactly one of the following words and nothing else: " +
			strings.Join(spec.Handles()[:len(spec.Keywords)], ", ")
		cfg := spec.History
		if cfg.Channel == "" && cfg.Policy == "" {
			cfg.Disabled = true
		}
		msgs, err := rc.conversation(ctx, prompt, cfg, input)
		if err != nil {
			return nodeResult{}, err
		}
		answer, err := rc.generate(ctx, node, model, msgs, llms.WithTemperature(0))
		if err != nil {
			return nodeResult{}, err
		}
		handle = classifyAnswer(answer, spec.Keywords)
	default:
		handle = matchKeyword(input, spec.Keywords)
	}
	if spec.TagOutput {
		rc.State.AddMessageTag(handle)
	}
	return nodeResult{text: input, handle: handle}, nil
}

func (rc *RunContext) variables(input string) map[string]any {
	vars := rc.State.Variables()
	vars["input"] = input
	return vars
}

func (rc *RunContext) execStaticRouter(spec *pipeline.StaticRouterSpec, input string) (nodeResult, error) {
	handle := ""
	for i := range spec.Rules {
		rule := &spec.Rules[i]
		ok, err := rule.Expression().EvalBool(rc.variables(input))
		if err != nil {
			return nodeResult{}, fmt.Errorf("rule %d: %w", i, err)
		}
		if ok {
			handle = rule.Keyword
			break
		}
	}
	if handle == "" && spec.RouteKey != "" {
		var source map[string]any
		switch spec.DataSource {
		case pipeline.SourceTempState:
			source = rc.State.TempState()
		case pipeline.SourceSessionState:
			source = rc.State.SessionState()
		default:
			source = rc.State.ParticipantData()
		}
		if v, ok := lookupPath(source, spec.RouteKey); ok {
			value := strings.ToLower(strings.TrimSpace(formatValue(v)))
			for _, h := range spec.Handles() {
				if h == value {
					handle = h
					break
				}
			}
		}
	}
	if handle == "" {
		handle = spec.DefaultHandle()
	}
	if spec.TagOutput {
		rc.State.AddMessageTag(handle)
	}
	return nodeResult{text: input, handle: handle}, nil
}

func (rc *RunContext) execBoolean(spec *pipeline.BooleanSpec, input string) (nodeResult, error) {
	var (
		ok  bool
		err error
	)
	text, value := input, spec.Value
	if !spec.CaseSensitive {
		text, value = strings.ToLower(text), strings.ToLower(value)
	}
	switch spec.Operator {
	case pipeline.OpEquals:
		ok = strings.TrimSpace(text) == strings.TrimSpace(value)
	case pipeline.OpContains:
		ok = strings.Contains(text, value)
	case pipeline.OpStartsWith:
		ok = strings.HasPrefix(strings.TrimSpace(text), value)
	case pipeline.OpEndsWith:
		ok = strings.HasSuffix(strings.TrimSpace(text), value)
	case pipeline.OpRegex:
		ok = spec.Regexp().MatchString(input)
	case pipeline.OpExpression:
		ok, err = spec.Expression().EvalBool(rc.variables(input))
	default:
		err = &ConfigError{Reason: fmt.Sprintf("unknown operator %q", spec.Operator)}
	}
	if err != nil {
		return nodeResult{}, err
	}
	handle := pipeline.HandleFalse
	if ok {
		handle = pipeline.HandleTrue
	}
	return nodeResult{text: input, handle: handle}, nil
}

func (rc *RunContext) execCode(ctx context.Context, node *pipeline.Node, spec *pipeline.CodeSpec, input string) (nodeResult, error) {
	prog := spec.Program()
	if prog == nil {
		return nodeResult{}, &ConfigError{Reason: "code is not compiled"}
	}
	out, err := prog.Run(ctx, input, capabilities{rc: rc}, sandbox.Options{
		Timeout: spec.Timeout,
		Logger:  rc.logger,
	})
	switch {
	case errors.Is(err, sandbox.ErrAborted):
		return nodeResult{text: rc.State.Abort().Message}, nil
	case err != nil:
		return nodeResult{}, err
	}
	return nodeResult{text: out}, nil
}

func (rc *RunContext) execTool(ctx context.Context, node *pipeline.Node, spec *pipeline.ToolSpec, input string) (nodeResult, error) {
	tool, ok := rc.exec.tools[spec.Tool]
	if !ok {
		return nodeResult{}, &ConfigError{Reason: fmt.Sprintf("tool %q is not registered", spec.Tool)}
	}
	query := rc.renderTemplate(spec.Input, input)
	result, err := rc.callProvider(ctx, node, "tool "+spec.Tool, func(ctx context.Context) (string, error) {
		return tool.Call(ctx, query)
	})
	if err != nil {
		return nodeResult{}, err
	}
	if spec.Merge == pipeline.MergeReplace || strings.TrimSpace(input) == "" {
		return nodeResult{text: result}, nil
	}
	return nodeResult{text: input + "\n\n" + result}, nil
}

func (rc *RunContext) execOutput(node *pipeline.Node, spec *pipeline.OutputSpec, input, handle string) (nodeResult, error) {
	text := input
	if spec.Format == pipeline.FormatHTML {
		text = render.HTML(input)
	}
	rc.outputs = append(rc.outputs, Output{NodeID: node.ID, Text: text, OutputHandle: handle})
	return nodeResult{text: text}, nil
}
