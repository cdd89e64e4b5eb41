package engine

import (
	"errors"
	"fmt"

	"github.com/smallnest/chatpipe/pipeline"
)

var (
	// ErrLoopGuard is returned when a run exceeds its node execution or
	// per-node visit limit. It indicates a graph authoring defect.
	ErrLoopGuard = errors.New("loop guard exceeded")

	// ErrCancelled is returned when the run context is cancelled.
	ErrCancelled = errors.New("run cancelled")
)

// ConfigError reports a node configuration that cannot run, such as a model
// or tool that is not registered.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Reason }

// ProviderError reports a model or tool call that failed after all attempts.
type ProviderError struct {
	Provider string
	Attempts int
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MissingOutputError reports a required node that has not produced output.
type MissingOutputError struct {
	NodeName string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("required node %q has not produced output", e.NodeName)
}

// NodeError attributes a failure to the node that raised it.
type NodeError struct {
	NodeID   string
	NodeName string
	NodeType pipeline.NodeType
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (%s) failed: %v", e.NodeName, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
