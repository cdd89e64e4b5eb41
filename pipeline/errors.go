package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputNode is returned when a graph has no Input node.
	ErrNoInputNode = errors.New("graph has no input node")

	// ErrMultipleInputNodes is returned when a graph has more than one Input node.
	ErrMultipleInputNodes = errors.New("graph has more than one input node")

	// ErrNodeNotFound is returned when an edge or requirement names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when two nodes share an id or a name.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownHandle is returned when an edge leaves a handle the node does not declare.
	ErrUnknownHandle = errors.New("unknown output handle")

	// ErrDuplicateRoute is returned when a routing handle has more than one edge.
	ErrDuplicateRoute = errors.New("routing handle connected more than once")

	// ErrUnknownNodeType is returned for node types outside the fixed set.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrInvalidParams is returned when node params fail to decode or validate.
	ErrInvalidParams = errors.New("invalid node params")

	// ErrIllegalCycle is returned for cycles that do not pass through a Static Router.
	ErrIllegalCycle = errors.New("cycle without a static router")
)

// ValidationError attributes a validation failure to a node.
type ValidationError struct {
	NodeID string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(nodeID string, err error) error {
	return &ValidationError{NodeID: nodeID, Err: err}
}
