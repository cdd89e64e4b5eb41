// Package sandbox runs the user code of Code nodes.
//
// Code is Lua 5.1 (github.com/yuin/gopher-lua) and must define a main function
// that receives the node input and returns the node output:
//
//	function main(input)
//	    local n = (get_temp_state_key("attempts") or 0) + 1
//	    set_temp_state_key("attempts", n)
//	    if n > 3 then
//	        abort_with_message("Too many attempts", "gave_up")
//	    end
//	    return string.upper(input)
//	end
//
// Only the base, table, string and math libraries are opened. Functions that
// load code from files or strings are removed, and there is no os, io or
// package library, so scripts cannot reach the filesystem, the network or
// other processes. The state of the run is reachable only through the
// capability functions backed by a Capabilities value:
//
//	get_participant_data()                set_participant_data(data)
//	get_temp_state_key(name)              set_temp_state_key(name, value)
//	get_session_state_key(name)           set_session_state_key(name, value)
//	get_selected_route(router_name)       get_node_path(node_name)
//	get_all_routes()                      get_node_output(node_name)
//	add_message_tag(tag)                  add_session_tag(tag)
//	abort_with_message(message, tag_name) require_node_outputs(name, ...)
//
// Lookups of things that have not happened yet return nil rather than raising.
package sandbox
