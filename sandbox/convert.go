package sandbox

import (
	"encoding/json"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a JSON-like Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case []string:
		tbl := L.CreateTable(len(t), 0)
		for _, s := range t {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(t), 0)
		for _, e := range t {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case map[string]string:
		tbl := L.CreateTable(0, len(t))
		for k, s := range t {
			tbl.RawSetString(k, lua.LString(s))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(t))
		for k, e := range t {
			tbl.RawSetString(k, toLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// Limits applied to values leaving the sandbox.
const (
	// MaxStringLen bounds string.rep results, main's return value and every
	// value stored through a capability.
	MaxStringLen = 1 << 20
	// MaxTableDepth bounds table nesting in converted values.
	MaxTableDepth = 64
)

var (
	errCyclicTable = fmt.Errorf("%w: cyclic table", ErrRuntime)
	errTooDeep     = fmt.Errorf("%w: table nested deeper than %d", ErrRuntime, MaxTableDepth)
	errTooLarge    = fmt.Errorf("%w: value larger than %d bytes", ErrRuntime, MaxStringLen)
)

// fromLua converts a Lua value into a JSON-like Go value. Integral numbers
// become int; tables with only consecutive integer keys from 1 become slices.
// Cyclic or overly deep tables and values whose strings add up to more than
// MaxStringLen bytes are rejected.
func fromLua(v lua.LValue) (any, error) {
	c := converter{seen: map[*lua.LTable]bool{}}
	return c.convert(v, 0)
}

type converter struct {
	seen map[*lua.LTable]bool
	size int
}

func (c *converter) grow(n int) error {
	c.size += n
	if c.size > MaxStringLen {
		return errTooLarge
	}
	return nil
}

func (c *converter) convert(v lua.LValue, depth int) (any, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LString:
		if err := c.grow(len(t)); err != nil {
			return nil, err
		}
		return string(t), nil
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int(f), nil
		}
		return f, nil
	case *lua.LTable:
		if depth >= MaxTableDepth {
			return nil, errTooDeep
		}
		if c.seen[t] {
			return nil, errCyclicTable
		}
		c.seen[t] = true
		defer delete(c.seen, t)
		return c.table(t, depth+1)
	default:
		s := v.String()
		if err := c.grow(len(s)); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (c *converter) table(t *lua.LTable, depth int) (any, error) {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			e, err := c.convert(t.RawGetInt(i), depth)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}
	out := make(map[string]any, count)
	var err error
	t.ForEach(func(k, val lua.LValue) {
		if err != nil {
			return
		}
		key := k.String()
		if err = c.grow(len(key)); err != nil {
			return
		}
		out[key], err = c.convert(val, depth)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return string(b), nil
}
