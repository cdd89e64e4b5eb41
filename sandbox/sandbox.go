package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/smallnest/chatpipe/log"
)

var (
	// ErrCompile is returned for code that does not parse.
	ErrCompile = errors.New("code does not compile")
	// ErrNoMain is returned when the code does not define main.
	ErrNoMain = errors.New("code must define function main(input)")
	// ErrAborted is returned after the script called abort_with_message.
	// The abort itself has already been recorded through Capabilities.
	ErrAborted = errors.New("code aborted the run")
	// ErrTimeout is returned when the script exceeds its time budget.
	ErrTimeout = errors.New("code execution timed out")
	// ErrRuntime wraps errors raised by the script.
	ErrRuntime = errors.New("code raised an error")
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 5 * time.Second

// Capabilities is the run state visible to user code. Implementations are
// bound to one run.
type Capabilities interface {
	GetParticipantData() map[string]any
	SetParticipantData(data map[string]any)
	GetTempStateKey(name string) (any, bool)
	SetTempStateKey(name string, value any)
	GetSessionStateKey(name string) (any, bool)
	SetSessionStateKey(name string, value any)
	GetSelectedRoute(routerName string) (string, bool)
	GetNodePath(nodeName string) ([]string, bool)
	GetAllRoutes() map[string]string
	GetNodeOutput(nodeName string) (string, bool)
	AddMessageTag(tag string)
	AddSessionTag(tag string)
	AbortWithMessage(message, tagName string)
	RequireNodeOutputs(nodeNames ...string) error
}

// Program is compiled code that can be run any number of times.
type Program struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses code and checks that it defines main.
func Compile(name, code string) (*Program, error) {
	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	if !definesMain(chunk) {
		return nil, ErrNoMain
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &Program{name: name, proto: proto}, nil
}

func definesMain(chunk []ast.Stmt) bool {
	for _, stmt := range chunk {
		switch s := stmt.(type) {
		case *ast.FuncDefStmt:
			if id, ok := s.Name.Func.(*ast.IdentExpr); ok && id.Value == "main" && s.Name.Method == "" {
				return true
			}
		case *ast.AssignStmt:
			for _, lhs := range s.Lhs {
				if id, ok := lhs.(*ast.IdentExpr); ok && id.Value == "main" {
					return true
				}
			}
		}
	}
	return false
}

// Options tune a single execution.
type Options struct {
	Timeout time.Duration
	Logger  log.Logger
}

// Run executes main(input) and returns its result as text. Tables are
// returned as JSON and nil as the empty string.
func (p *Program) Run(ctx context.Context, input string, caps Capabilities, opts Options) (output string, err error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := &runner{caps: caps, logger: logger, name: p.name}
	L := newState(r)
	defer L.Close()
	L.SetContext(runCtx)

	defer func() {
		if rec := recover(); rec != nil {
			output, err = "", fmt.Errorf("%w: %v", ErrRuntime, rec)
		}
	}()

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return "", r.translate(runCtx, err)
	}
	mainFn, ok := L.GetGlobal("main").(*lua.LFunction)
	if !ok {
		return "", ErrNoMain
	}
	if err := L.CallByParam(lua.P{Fn: mainFn, NRet: 1, Protect: true}, lua.LString(input)); err != nil {
		return "", r.translate(runCtx, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	// pcall inside the script must not hide an abort or a failed requirement.
	if r.aborted || r.capErr != nil {
		return "", r.translate(runCtx, nil)
	}
	return stringify(ret)
}

type runner struct {
	caps    Capabilities
	logger  log.Logger
	name    string
	aborted bool
	capErr  error
}

func (r *runner) translate(ctx context.Context, err error) error {
	switch {
	case r.aborted:
		return ErrAborted
	case r.capErr != nil:
		return r.capErr
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", ErrRuntime, apiErr.Object.String())
	}
	return fmt.Errorf("%w: %v", ErrRuntime, err)
}

var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "newproxy",
}

func newState(r *runner) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: 200})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	if strlib, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strlib.RawSetString("rep", L.NewFunction(rep))
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	for name, fn := range r.functions() {
		L.SetGlobal(name, L.NewFunction(fn))
	}
	return L
}

func stringify(v lua.LValue) (string, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		if len(t) > MaxStringLen {
			return "", errTooLarge
		}
		return string(t), nil
	case lua.LNumber, lua.LBool:
		return t.String(), nil
	case *lua.LTable:
		data, err := fromLua(t)
		if err != nil {
			return "", err
		}
		out, err := toJSON(data)
		if err != nil {
			return "", err
		}
		if len(out) > MaxStringLen {
			return "", errTooLarge
		}
		return out, nil
	default:
		return "", fmt.Errorf("%w: main returned unsupported type %s", ErrRuntime, v.Type())
	}
}
