package pipeline

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/smallnest/chatpipe/expr"
	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/sandbox"
)

// NodeType identifies one of the fixed node variants.
type NodeType string

const (
	TypeInput         NodeType = "input"
	TypeLLMResponse   NodeType = "llm_response"
	TypeKeywordRouter NodeType = "keyword_router"
	TypeStaticRouter  NodeType = "static_router"
	TypeBoolean       NodeType = "boolean"
	TypeCode          NodeType = "code"
	TypeTool          NodeType = "tool"
	TypeOutput        NodeType = "output"
)

// Well-known handle names.
const (
	HandleOutput  = "output"
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
)

// Node is a compiled node. Spec holds the typed params of its variant.
type Node struct {
	ID       string
	Name     string
	Type     NodeType
	Params   map[string]any
	Requires []string
	// Timeout and MaxAttempts override the executor defaults for provider calls.
	Timeout     time.Duration
	MaxAttempts int
	Spec        Spec
}

// Handles returns the ordered output handles of the node.
func (n *Node) Handles() []string { return n.Spec.Handles() }

// Routing reports whether the node selects exactly one of its handles.
func (n *Node) Routing() bool {
	switch n.Type {
	case TypeKeywordRouter, TypeStaticRouter, TypeBoolean:
		return true
	}
	return false
}

// Spec is implemented by the typed params of every node variant.
type Spec interface {
	Type() NodeType
	Handles() []string
	validate() error
}

var single = []string{HandleOutput}

// InputSpec is the graph entry point.
type InputSpec struct{}

func (*InputSpec) Type() NodeType    { return TypeInput }
func (*InputSpec) Handles() []string { return single }
func (*InputSpec) validate() error   { return nil }

// LLMResponseSpec calls a model with a prompt and history.
type LLMResponseSpec struct {
	Prompt      string                `yaml:"prompt"`
	Model       string                `yaml:"model"`
	Temperature *float64              `yaml:"temperature"`
	MaxTokens   int                   `yaml:"max_tokens"`
	History     history.ChannelConfig `yaml:"history"`
}

func (*LLMResponseSpec) Type() NodeType    { return TypeLLMResponse }
func (*LLMResponseSpec) Handles() []string { return single }
func (s *LLMResponseSpec) validate() error {
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	return s.History.Validate()
}

// Keyword router modes.
const (
	ModeMatch = "match"
	ModeModel = "model"
)

// KeywordRouterSpec selects a handle by matching the input against keywords.
type KeywordRouterSpec struct {
	Keywords  []string              `yaml:"keywords"`
	Mode      string                `yaml:"mode"`
	Prompt    string                `yaml:"prompt"`
	Model     string                `yaml:"model"`
	TagOutput bool                  `yaml:"tag_output"`
	History   history.ChannelConfig `yaml:"history"`
}

func (*KeywordRouterSpec) Type() NodeType { return TypeKeywordRouter }

// Handles returns the lower-cased keywords followed by the default handle.
func (s *KeywordRouterSpec) Handles() []string {
	out := make([]string, 0, len(s.Keywords)+1)
	for _, k := range s.Keywords {
		out = append(out, strings.ToLower(strings.TrimSpace(k)))
	}
	return append(out, HandleDefault)
}

func (s *KeywordRouterSpec) validate() error {
	switch s.Mode {
	case "":
		s.Mode = ModeMatch
	case ModeMatch, ModeModel:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	seen := map[string]bool{}
	for _, k := range s.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		switch {
		case k == "":
			return fmt.Errorf("keywords must not be empty")
		case k == HandleDefault:
			return fmt.Errorf("keyword %q is reserved", HandleDefault)
		case seen[k]:
			return fmt.Errorf("duplicate keyword %q", k)
		}
		seen[k] = true
	}
	return s.History.Validate()
}

// Static router data sources.
const (
	SourceParticipantData = "participant_data"
	SourceTempState       = "temp_state"
	SourceSessionState    = "session_state"
)

// StaticRule selects Keyword when the HCL expression When is true.
type StaticRule struct {
	Keyword string `yaml:"keyword"`
	When    string `yaml:"when"`

	expr *expr.Expression
}

// Expression returns the compiled condition.
func (r *StaticRule) Expression() *expr.Expression { return r.expr }

// StaticRouterSpec selects a handle from existing state without a model call.
type StaticRouterSpec struct {
	DataSource          string       `yaml:"data_source"`
	RouteKey            string       `yaml:"route_key"`
	Keywords            []string     `yaml:"keywords"`
	DefaultKeywordIndex int          `yaml:"default_keyword_index"`
	Rules               []StaticRule `yaml:"rules"`
	TagOutput           bool         `yaml:"tag_output"`
}

func (*StaticRouterSpec) Type() NodeType { return TypeStaticRouter }

// Handles returns the lower-cased keywords.
func (s *StaticRouterSpec) Handles() []string {
	out := make([]string, 0, len(s.Keywords))
	for _, k := range s.Keywords {
		out = append(out, strings.ToLower(strings.TrimSpace(k)))
	}
	return out
}

// DefaultHandle returns the handle chosen when nothing else matches.
func (s *StaticRouterSpec) DefaultHandle() string {
	return s.Handles()[s.DefaultKeywordIndex]
}

func (s *StaticRouterSpec) validate() error {
	if len(s.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	handles := s.Handles()
	for i, h := range handles {
		if h == "" {
			return fmt.Errorf("keywords must not be empty")
		}
		if slices.Contains(handles[:i], h) {
			return fmt.Errorf("duplicate keyword %q", h)
		}
	}
	if s.DefaultKeywordIndex < 0 || s.DefaultKeywordIndex >= len(s.Keywords) {
		return fmt.Errorf("default_keyword_index %d out of range", s.DefaultKeywordIndex)
	}
	if s.RouteKey == "" && len(s.Rules) == 0 {
		return fmt.Errorf("route_key or rules is required")
	}
	if s.RouteKey != "" {
		switch s.DataSource {
		case "":
			s.DataSource = SourceParticipantData
		case SourceParticipantData, SourceTempState, SourceSessionState:
		default:
			return fmt.Errorf("unknown data_source %q", s.DataSource)
		}
	}
	for i := range s.Rules {
		r := &s.Rules[i]
		r.Keyword = strings.ToLower(strings.TrimSpace(r.Keyword))
		if !slices.Contains(handles, r.Keyword) {
			return fmt.Errorf("rule %d: keyword %q is not configured", i, r.Keyword)
		}
		e, err := expr.Parse(r.When)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		r.expr = e
	}
	return nil
}

// Boolean operators.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
	OpExpression = "expression"
)

// BooleanSpec evaluates a predicate over the node input.
type BooleanSpec struct {
	Operator      string `yaml:"operator"`
	Value         string `yaml:"value"`
	CaseSensitive bool   `yaml:"case_sensitive"`

	re   *regexp.Regexp
	expr *expr.Expression
}

func (*BooleanSpec) Type() NodeType    { return TypeBoolean }
func (*BooleanSpec) Handles() []string { return []string{HandleTrue, HandleFalse} }

// Regexp returns the compiled pattern for the regex operator.
func (s *BooleanSpec) Regexp() *regexp.Regexp { return s.re }

// Expression returns the compiled expression for the expression operator.
func (s *BooleanSpec) Expression() *expr.Expression { return s.expr }

func (s *BooleanSpec) validate() error {
	switch s.Operator {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith:
	case OpRegex:
		pattern := s.Value
		if !s.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		s.re = re
	case OpExpression:
		e, err := expr.Parse(s.Value)
		if err != nil {
			return err
		}
		s.expr = e
	case "":
		return fmt.Errorf("operator is required")
	default:
		return fmt.Errorf("unknown operator %q", s.Operator)
	}
	return nil
}

// CodeSpec runs sandboxed Lua code.
type CodeSpec struct {
	Code    string        `yaml:"code"`
	Timeout time.Duration `yaml:"timeout"`

	program *sandbox.Program
}

func (*CodeSpec) Type() NodeType    { return TypeCode }
func (*CodeSpec) Handles() []string { return single }

// Program returns the compiled code.
func (s *CodeSpec) Program() *sandbox.Program { return s.program }

func (s *CodeSpec) validate() error {
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("code is required")
	}
	p, err := sandbox.Compile("code", s.Code)
	if err != nil {
		return err
	}
	s.program = p
	return nil
}

// Tool merge modes.
const (
	MergeAppend  = "append"
	MergeReplace = "replace"
)

// ToolSpec invokes a registered tool.
type ToolSpec struct {
	Tool  string `yaml:"tool"`
	Input string `yaml:"input"`
	Merge string `yaml:"merge"`
}

func (*ToolSpec) Type() NodeType    { return TypeTool }
func (*ToolSpec) Handles() []string { return single }
func (s *ToolSpec) validate() error {
	if s.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if s.Input == "" {
		s.Input = "{input}"
	}
	switch s.Merge {
	case "":
		s.Merge = MergeAppend
	case MergeAppend, MergeReplace:
	default:
		return fmt.Errorf("unknown merge mode %q", s.Merge)
	}
	return nil
}

// Output formats.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// OutputSpec marks a terminal node whose text is part of the run output.
type OutputSpec struct {
	Format string `yaml:"format"`
}

func (*OutputSpec) Type() NodeType    { return TypeOutput }
func (*OutputSpec) Handles() []string { return nil }
func (s *OutputSpec) validate() error {
	switch s.Format {
	case "":
		s.Format = FormatText
	case FormatText, FormatHTML:
	default:
		return fmt.Errorf("unknown format %q", s.Format)
	}
	return nil
}

func newSpec(t NodeType) (Spec, error) {
	switch t {
	case TypeInput:
		return &InputSpec{}, nil
	case TypeLLMResponse:
		return &LLMResponseSpec{}, nil
	case TypeKeywordRouter:
		return &KeywordRouterSpec{}, nil
	case TypeStaticRouter:
		return &StaticRouterSpec{}, nil
	case TypeBoolean:
		return &BooleanSpec{}, nil
	case TypeCode:
		return &CodeSpec{}, nil
	case TypeTool:
		return &ToolSpec{}, nil
	case TypeOutput:
		return &OutputSpec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
}
