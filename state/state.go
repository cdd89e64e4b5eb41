// Package state holds the mutable execution state of a single pipeline run.
//
// A State is created at run start, owned by the executor for the lifetime of
// the run and is not safe for concurrent use. Maps handed in and out are deep
// copied so node code can never alias another run's data.
package state

import (
	"maps"
	"slices"

	"github.com/smallnest/chatpipe/store"
)

// Abort records an explicit abort_with_message call.
type Abort struct {
	Message string `json:"message"`
	TagName string `json:"tag_name,omitempty"`
}

// State is the per-run execution state.
type State struct {
	participantData  map[string]any
	participantDirty bool

	tempState    map[string]any
	sessionState map[string]any
	sessionDirty bool

	nodeOutputs map[string]string
	routes      map[string]string
	paths       map[string][]string

	messageTags []string
	sessionTags []string

	abort *Abort
}

// New creates the state for one run from persisted participant data and
// session state. Temporary state always starts empty.
func New(participantData, sessionState map[string]any) *State {
	return &State{
		participantData: store.CloneMap(participantData),
		tempState:       map[string]any{},
		sessionState:    store.CloneMap(sessionState),
		nodeOutputs:     map[string]string{},
		routes:          map[string]string{},
		paths:           map[string][]string{},
	}
}

// ParticipantData returns a copy of the participant data.
func (s *State) ParticipantData() map[string]any {
	return store.CloneMap(s.participantData)
}

// SetParticipantData replaces the participant data entirely.
func (s *State) SetParticipantData(data map[string]any) {
	s.participantData = store.CloneMap(data)
	s.participantDirty = true
}

// ParticipantDirty reports whether participant data was replaced during the run.
func (s *State) ParticipantDirty() bool { return s.participantDirty }

// TempValue returns a temporary state value.
func (s *State) TempValue(key string) (any, bool) {
	v, ok := s.tempState[key]
	return store.CloneValue(v), ok
}

// SetTempValue sets a temporary state value.
func (s *State) SetTempValue(key string, value any) {
	s.tempState[key] = store.CloneValue(value)
}

// TempState returns a copy of the temporary state.
func (s *State) TempState() map[string]any { return store.CloneMap(s.tempState) }

// SessionValue returns a session state value.
func (s *State) SessionValue(key string) (any, bool) {
	v, ok := s.sessionState[key]
	return store.CloneValue(v), ok
}

// SetSessionValue sets a session state value.
func (s *State) SetSessionValue(key string, value any) {
	s.sessionState[key] = store.CloneValue(value)
	s.sessionDirty = true
}

// SessionState returns a copy of the session state.
func (s *State) SessionState() map[string]any { return store.CloneMap(s.sessionState) }

// SessionDirty reports whether session state was written during the run.
func (s *State) SessionDirty() bool { return s.sessionDirty }

// SetNodeOutput caches the output of a node. It is only called by the executor.
func (s *State) SetNodeOutput(nodeID, output string) {
	s.nodeOutputs[nodeID] = output
}

// NodeOutput returns the cached output of a node.
func (s *State) NodeOutput(nodeID string) (string, bool) {
	out, ok := s.nodeOutputs[nodeID]
	return out, ok
}

// NodeOutputs returns a copy of every cached output keyed by node id.
func (s *State) NodeOutputs() map[string]string { return maps.Clone(s.nodeOutputs) }

// SetRoute records the handle a routing node selected.
func (s *State) SetRoute(nodeID, handle string) {
	s.routes[nodeID] = handle
}

// Route returns the handle selected by a routing node.
func (s *State) Route(nodeID string) (string, bool) {
	h, ok := s.routes[nodeID]
	return h, ok
}

// Routes returns a copy of all recorded routes keyed by node id.
func (s *State) Routes() map[string]string { return maps.Clone(s.routes) }

// SetPath records the traversed path, as node names, that reached nodeID.
func (s *State) SetPath(nodeID string, path []string) {
	s.paths[nodeID] = slices.Clone(path)
}

// Path returns the traversed path that reached nodeID.
func (s *State) Path(nodeID string) ([]string, bool) {
	p, ok := s.paths[nodeID]
	return slices.Clone(p), ok
}

// Paths returns a copy of all recorded paths keyed by node id.
func (s *State) Paths() map[string][]string {
	out := make(map[string][]string, len(s.paths))
	for k, v := range s.paths {
		out[k] = slices.Clone(v)
	}
	return out
}

// AddMessageTag queues a tag for the message that triggered the run.
func (s *State) AddMessageTag(tag string) {
	s.messageTags = store.MergeTags(s.messageTags, tag)
}

// AddSessionTag queues a tag for the session.
func (s *State) AddSessionTag(tag string) {
	s.sessionTags = store.MergeTags(s.sessionTags, tag)
}

// MessageTags returns the queued message tags in insertion order.
func (s *State) MessageTags() []string { return slices.Clone(s.messageTags) }

// SessionTags returns the queued session tags in insertion order.
func (s *State) SessionTags() []string { return slices.Clone(s.sessionTags) }

// SetAbort marks the run as aborted. The first abort wins.
func (s *State) SetAbort(message, tagName string) {
	if s.abort != nil {
		return
	}
	s.abort = &Abort{Message: message, TagName: tagName}
}

// Abort returns the recorded abort, or nil.
func (s *State) Abort() *Abort {
	if s.abort == nil {
		return nil
	}
	a := *s.abort
	return &a
}

// Aborted reports whether abort_with_message was called.
func (s *State) Aborted() bool { return s.abort != nil }

// Variables exposes the state as expression variables.
func (s *State) Variables() map[string]any {
	outputs := make(map[string]any, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		outputs[k] = v
	}
	routes := make(map[string]any, len(s.routes))
	for k, v := range s.routes {
		routes[k] = v
	}
	return map[string]any{
		"participant_data": s.ParticipantData(),
		"temp_state":       s.TempState(),
		"session_state":    s.SessionState(),
		"node_outputs":     outputs,
		"routes":           routes,
	}
}
