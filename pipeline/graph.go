package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

// Edge connects a source handle to a target node.
type Edge struct {
	Source       string
	SourceHandle string
	Target       string
}

// Graph is a compiled, validated pipeline. It is immutable and safe to share
// between concurrent runs.
type Graph struct {
	ID   string
	Name string

	nodes    map[string]*Node
	byName   map[string]*Node
	order    []string
	edges    []Edge
	outgoing map[string][]Edge
	input    *Node
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Lookup resolves a node by name first and id second.
func (g *Graph) Lookup(nameOrID string) (*Node, bool) {
	if n, ok := g.byName[nameOrID]; ok {
		return n, true
	}
	return g.Node(nameOrID)
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the edges in declaration order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Input returns the entry node.
func (g *Graph) Input() *Node { return g.input }

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *Graph) Outgoing(nodeID string) []Edge { return g.outgoing[nodeID] }

// EdgesFrom returns the edges leaving a specific handle of nodeID.
func (g *Graph) EdgesFrom(nodeID, handle string) []Edge {
	var out []Edge
	for _, e := range g.outgoing[nodeID] {
		if e.SourceHandle == handle {
			out = append(out, e)
		}
	}
	return out
}

// Compile builds and validates a graph from its definition.
func Compile(def *Definition) (*Graph, error) {
	g := &Graph{
		ID:       def.ID,
		Name:     def.Name,
		nodes:    make(map[string]*Node, len(def.Nodes)),
		byName:   make(map[string]*Node, len(def.Nodes)),
		outgoing: make(map[string][]Edge),
	}
	if g.Name == "" {
		g.Name = g.ID
	}

	for _, nd := range def.Nodes {
		n, err := compileNode(nd)
		if err != nil {
			return nil, err
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, invalid(n.ID, fmt.Errorf("%w: id %q", ErrDuplicateNode, n.ID))
		}
		if other, dup := g.byName[n.Name]; dup {
			return nil, invalid(n.ID, fmt.Errorf("%w: name %q is also used by %q", ErrDuplicateNode, n.Name, other.ID))
		}
		g.nodes[n.ID] = n
		g.byName[n.Name] = n
		g.order = append(g.order, n.ID)
		if n.Type == TypeInput {
			if g.input != nil {
				return nil, fmt.Errorf("%w: %q and %q", ErrMultipleInputNodes, g.input.ID, n.ID)
			}
			g.input = n
		}
	}
	if g.input == nil {
		return nil, ErrNoInputNode
	}

	for _, n := range g.Nodes() {
		for _, req := range n.Requires {
			if _, ok := g.Lookup(req); !ok {
				return nil, invalid(n.ID, fmt.Errorf("%w: required node %q", ErrNodeNotFound, req))
			}
		}
	}

	for _, ed := range def.Edges {
		if err := g.addEdge(ed); err != nil {
			return nil, err
		}
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

func compileNode(nd NodeDefinition) (*Node, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("%w: node without id", ErrInvalidParams)
	}
	spec, err := newSpec(nd.Type)
	if err != nil {
		return nil, invalid(nd.ID, err)
	}
	if err := decodeParams(nd.Params, spec); err != nil {
		return nil, invalid(nd.ID, fmt.Errorf("%w: %v", ErrInvalidParams, err))
	}
	if err := spec.validate(); err != nil {
		return nil, invalid(nd.ID, fmt.Errorf("%w: %v", ErrInvalidParams, err))
	}
	if nd.Timeout < 0 || nd.MaxAttempts < 0 {
		return nil, invalid(nd.ID, fmt.Errorf("%w: timeout and retries must not be negative", ErrInvalidParams))
	}
	name := nd.Name
	if name == "" {
		name = nd.ID
	}
	return &Node{
		ID:          nd.ID,
		Name:        name,
		Type:        nd.Type,
		Params:      nd.Params,
		Requires:    slices.Clone(nd.Requires),
		Timeout:     nd.Timeout,
		MaxAttempts: nd.MaxAttempts,
		Spec:        spec,
	}, nil
}

func (g *Graph) addEdge(ed EdgeDefinition) error {
	src, ok := g.nodes[ed.Source]
	if !ok {
		return fmt.Errorf("%w: edge source %q", ErrNodeNotFound, ed.Source)
	}
	if _, ok := g.nodes[ed.Target]; !ok {
		return invalid(src.ID, fmt.Errorf("%w: edge target %q", ErrNodeNotFound, ed.Target))
	}
	if ed.Target == g.input.ID {
		return invalid(src.ID, fmt.Errorf("%w: the input node cannot be an edge target", ErrUnknownHandle))
	}
	handle := strings.ToLower(strings.TrimSpace(ed.Handle))
	if handle == "" {
		handle = HandleOutput
	}
	if !slices.Contains(src.Handles(), handle) {
		return invalid(src.ID, fmt.Errorf("%w: %q (declared: %s)", ErrUnknownHandle, handle, strings.Join(src.Handles(), ", ")))
	}
	if src.Routing() && len(g.EdgesFrom(src.ID, handle)) > 0 {
		return invalid(src.ID, fmt.Errorf("%w: %q", ErrDuplicateRoute, handle))
	}
	e := Edge{Source: src.ID, SourceHandle: handle, Target: ed.Target}
	g.edges = append(g.edges, e)
	g.outgoing[src.ID] = append(g.outgoing[src.ID], e)
	return nil
}

// checkCycles rejects any cycle that does not contain a Static Router. Such
// cycles are found by searching the graph with static routers removed.
func (g *Graph) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(g.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		marks[id] = visiting
		for _, e := range g.outgoing[id] {
			if g.nodes[e.Target].Type == TypeStaticRouter {
				continue
			}
			switch marks[e.Target] {
			case visiting:
				return invalid(e.Target, fmt.Errorf("%w: %s -> %s", ErrIllegalCycle, id, e.Target))
			case unvisited:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		marks[id] = done
		return nil
	}
	for _, id := range g.order {
		if g.nodes[id].Type == TypeStaticRouter || marks[id] != unvisited {
			continue
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
