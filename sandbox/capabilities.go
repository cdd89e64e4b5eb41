package sandbox

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

func (r *runner) functions() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"print": r.print,

		"get_participant_data": func(L *lua.LState) int {
			L.Push(toLua(L, r.caps.GetParticipantData()))
			return 1
		},
		"set_participant_data": func(L *lua.LState) int {
			data, ok := r.value(L, L.CheckTable(1)).(map[string]any)
			if !ok {
				L.ArgError(1, "participant data must be a table with string keys")
			}
			r.caps.SetParticipantData(data)
			return 0
		},
		"get_temp_state_key": func(L *lua.LState) int {
			v, _ := r.caps.GetTempStateKey(L.CheckString(1))
			L.Push(toLua(L, v))
			return 1
		},
		"set_temp_state_key": func(L *lua.LState) int {
			r.caps.SetTempStateKey(L.CheckString(1), r.value(L, L.Get(2)))
			return 0
		},
		"get_session_state_key": func(L *lua.LState) int {
			v, _ := r.caps.GetSessionStateKey(L.CheckString(1))
			L.Push(toLua(L, v))
			return 1
		},
		"set_session_state_key": func(L *lua.LState) int {
			r.caps.SetSessionStateKey(L.CheckString(1), r.value(L, L.Get(2)))
			return 0
		},
		"get_selected_route": func(L *lua.LState) int {
			route, ok := r.caps.GetSelectedRoute(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(route))
			return 1
		},
		"get_node_path": func(L *lua.LState) int {
			path, ok := r.caps.GetNodePath(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, path))
			return 1
		},
		"get_all_routes": func(L *lua.LState) int {
			L.Push(toLua(L, r.caps.GetAllRoutes()))
			return 1
		},
		"get_node_output": func(L *lua.LState) int {
			out, ok := r.caps.GetNodeOutput(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(out))
			return 1
		},
		"add_message_tag": func(L *lua.LState) int {
			r.caps.AddMessageTag(L.CheckString(1))
			return 0
		},
		"add_session_tag": func(L *lua.LState) int {
			r.caps.AddSessionTag(L.CheckString(1))
			return 0
		},
		"abort_with_message": func(L *lua.LState) int {
			message := L.CheckString(1)
			tag := L.OptString(2, "")
			r.caps.AbortWithMessage(message, tag)
			r.aborted = true
			L.RaiseError("aborted: %s", message)
			return 0
		},
		"require_node_outputs": func(L *lua.LState) int {
			names := make([]string, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				names = append(names, L.CheckString(i))
			}
			if err := r.caps.RequireNodeOutputs(names...); err != nil {
				r.capErr = err
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
	}
}

// value converts a value handed to a capability, raising a Lua error when it
// cannot be stored.
func (r *runner) value(L *lua.LState, v lua.LValue) any {
	out, err := fromLua(v)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return out
}

// rep is string.rep with the result length capped at MaxStringLen.
func rep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	if len(s) > MaxStringLen/n {
		L.RaiseError("string.rep: result longer than %d bytes", MaxStringLen)
	}
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}

func (r *runner) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	r.logger.Debug("code node %s: %s", r.name, strings.Join(parts, "\t"))
	return 0
}
