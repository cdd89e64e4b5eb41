package engine

import (
	"github.com/smallnest/chatpipe/sandbox"
)

// capabilities binds the Code node capability functions to one run.
// Node names are resolved before ids.
type capabilities struct {
	rc *RunContext
}

var _ sandbox.Capabilities = capabilities{}

func (c capabilities) GetParticipantData() map[string]any {
	return c.rc.State.ParticipantData()
}

func (c capabilities) SetParticipantData(data map[string]any) {
	c.rc.State.SetParticipantData(data)
}

func (c capabilities) GetTempStateKey(name string) (any, bool) {
	return c.rc.State.TempValue(name)
}

func (c capabilities) SetTempStateKey(name string, value any) {
	c.rc.State.SetTempValue(name, value)
}

func (c capabilities) GetSessionStateKey(name string) (any, bool) {
	return c.rc.State.SessionValue(name)
}

func (c capabilities) SetSessionStateKey(name string, value any) {
	c.rc.State.SetSessionValue(name, value)
}

func (c capabilities) GetSelectedRoute(routerName string) (string, bool) {
	n, ok := c.rc.resolve(routerName)
	if !ok {
		return "", false
	}
	return c.rc.State.Route(n.ID)
}

func (c capabilities) GetNodePath(nodeName string) ([]string, bool) {
	n, ok := c.rc.resolve(nodeName)
	if !ok {
		return nil, false
	}
	return c.rc.State.Path(n.ID)
}

// GetAllRoutes returns the routes taken so far keyed by node name.
func (c capabilities) GetAllRoutes() map[string]string {
	routes := c.rc.State.Routes()
	out := make(map[string]string, len(routes))
	for id, handle := range routes {
		if n, ok := c.rc.Graph.Node(id); ok {
			out[n.Name] = handle
		}
	}
	return out
}

func (c capabilities) GetNodeOutput(nodeName string) (string, bool) {
	n, ok := c.rc.resolve(nodeName)
	if !ok {
		return "", false
	}
	return c.rc.State.NodeOutput(n.ID)
}

func (c capabilities) AddMessageTag(tag string) { c.rc.State.AddMessageTag(tag) }

func (c capabilities) AddSessionTag(tag string) { c.rc.State.AddSessionTag(tag) }

func (c capabilities) AbortWithMessage(message, tagName string) {
	c.rc.State.SetAbort(message, tagName)
}

func (c capabilities) RequireNodeOutputs(nodeNames ...string) error {
	return c.rc.checkRequires(nodeNames...)
}
