package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the serialized form of a pipeline. JSON documents are valid
// YAML and load the same way.
type Definition struct {
	ID    string           `yaml:"id" json:"id"`
	Name  string           `yaml:"name" json:"name"`
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`
	Edges []EdgeDefinition `yaml:"edges" json:"edges"`
}

// NodeDefinition is the serialized form of a node.
type NodeDefinition struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Type        NodeType       `yaml:"type" json:"type"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Requires    []string       `yaml:"requires,omitempty" json:"requires,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxAttempts int            `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// EdgeDefinition is the serialized form of an edge. Handle defaults to "output".
type EdgeDefinition struct {
	Source string `yaml:"source" json:"source"`
	Handle string `yaml:"handle,omitempty" json:"handle,omitempty"`
	Target string `yaml:"target" json:"target"`
}

// Parse decodes a YAML or JSON definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty pipeline definition")
		}
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	return &def, nil
}

// LoadFile parses and compiles the definition stored at path.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g, err := Compile(def)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// decodeParams decodes a params map into the typed spec of the node variant.
func decodeParams(params map[string]any, into Spec) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(into)
}
