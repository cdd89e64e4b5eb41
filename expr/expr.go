// Package expr evaluates HCL expressions against the state of a pipeline run.
//
// Boolean nodes with the "expression" operator and Static Router rules use it:
//
//	strcontains(lower(input), "refund") && participant_data.plan == "pro"
//
// Variables are JSON-like Go values (maps, slices, strings, numbers, bools)
// converted to cty values. Only a fixed function table is available; there is
// no file, network or environment access.
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	// ErrSyntax indicates the expression could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrEvaluation indicates the expression failed while evaluating.
	ErrEvaluation = errors.New("expression evaluation error")
	// ErrNotBoolean indicates the expression did not produce a boolean.
	ErrNotBoolean = errors.New("expression does not evaluate to boolean")
)

// Expression is a parsed, reusable HCL expression.
type Expression struct {
	src  string
	expr hcl.Expression
}

// Parse parses src once so it can be evaluated many times.
func Parse(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrSyntax, diags.Error())
	}
	return &Expression{src: src, expr: e}, nil
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// EvalBool evaluates the expression with vars as top-level variables.
func (e *Expression) EvalBool(vars map[string]any) (bool, error) {
	val, err := e.Eval(vars)
	if err != nil {
		return false, err
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("%w: got %s", ErrNotBoolean, val.Type().FriendlyName())
	}
	return b.True(), nil
}

// Eval evaluates the expression and returns the raw cty value.
func (e *Expression) Eval(vars map[string]any) (cty.Value, error) {
	ctx := &hcl.EvalContext{
		Variables: make(map[string]cty.Value, len(vars)),
		Functions: functions,
	}
	for k, v := range vars {
		ctx.Variables[k] = ToCty(v)
	}
	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("%w: %s", ErrEvaluation, diags.Error())
	}
	if !val.IsWhollyKnown() || val.IsNull() {
		return cty.NilVal, fmt.Errorf("%w: expression produced no value", ErrEvaluation)
	}
	return val, nil
}

// EvalBool parses and evaluates src in one step.
func EvalBool(src string, vars map[string]any) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return e.EvalBool(vars)
}

// ToCty converts a JSON-like Go value into a cty value.
func ToCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case cty.Value:
		return t
	case string:
		return cty.StringVal(t)
	case bool:
		return cty.BoolVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case int32:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case float32:
		return cty.NumberFloatVal(float64(t))
	case float64:
		return cty.NumberFloatVal(t)
	case []string:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, s := range t {
			vals[i] = cty.StringVal(s)
		}
		return cty.TupleVal(vals)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, e := range t {
			vals[i] = ToCty(e)
		}
		return cty.TupleVal(vals)
	case map[string]string:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, s := range t {
			attrs[k] = cty.StringVal(s)
		}
		return cty.ObjectVal(attrs)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, e := range t {
			attrs[k] = ToCty(e)
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.StringVal(fmt.Sprint(t))
	}
}

var functions = map[string]function.Function{
	"lower":       stdlib.LowerFunc,
	"upper":       stdlib.UpperFunc,
	"trimspace":   stdlib.TrimSpaceFunc,
	"strlen":      stdlib.StrlenFunc,
	"length":      stdlib.LengthFunc,
	"coalesce":    stdlib.CoalesceFunc,
	"contains":    stdlib.ContainsFunc,
	"try":         tryfunc.TryFunc,
	"can":         tryfunc.CanFunc,
	"strcontains": stringPredicate(strings.Contains),
	"startswith":  stringPredicate(strings.HasPrefix),
	"endswith":    stringPredicate(strings.HasSuffix),
	"regexmatch":  regexMatchFunc,
}

func stringPredicate(fn func(s, substr string) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "str", Type: cty.String},
			{Name: "substr", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(fn(args[0].AsString(), args[1].AsString())), nil
		},
	})
}

var regexMatchFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "pattern", Type: cty.String},
		{Name: "str", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		re, err := regexp.Compile(args[0].AsString())
		if err != nil {
			return cty.False, function.NewArgError(0, err)
		}
		return cty.BoolVal(re.MatchString(args[1].AsString())), nil
	},
})
