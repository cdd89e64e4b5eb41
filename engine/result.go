package engine

import (
	"strings"
	"time"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAborted Status = "aborted"
	StatusError   Status = "error"
)

// Output is the text of one reached Output node.
type Output struct {
	NodeID string `json:"node_id"`
	Text   string `json:"text"`
	// OutputHandle is the handle of the edge that led to the node.
	OutputHandle string `json:"output_handle,omitempty"`
}

// Interrupt describes an abort_with_message call.
type Interrupt struct {
	Message string `json:"message"`
	TagName string `json:"tag_name,omitempty"`
}

// TagsApplied lists the tags committed at the end of the run.
type TagsApplied struct {
	MessageTags []string `json:"message_tags"`
	SessionTags []string `json:"session_tags"`
}

// Result is the summary of one run. Routes, node outputs and paths are kept
// for failed runs too, up to the point of failure.
type Result struct {
	RunID       string              `json:"run_id"`
	PipelineID  string              `json:"pipeline_id"`
	Status      Status              `json:"status"`
	Outputs     []Output            `json:"outputs"`
	Routes      map[string]string   `json:"routes"`
	NodeOutputs map[string]string   `json:"node_outputs,omitempty"`
	NodeErrors  map[string]string   `json:"node_errors,omitempty"`
	Paths       map[string][]string `json:"paths,omitempty"`
	Error       string              `json:"error,omitempty"`
	Interrupt   *Interrupt          `json:"interrupt,omitempty"`
	TagsApplied TagsApplied         `json:"tags_applied"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// Text joins the output texts with blank lines, in the order they were reached.
func (r *Result) Text() string {
	parts := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		parts[i] = o.Text
	}
	return strings.Join(parts, "\n\n")
}
