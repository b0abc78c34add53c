// Package graph implements the editing operations on a project's nodes and
// connections. Functions mutate the given *model.Project in place and report
// whether anything changed, so callers decide when a save is due.
package graph

import (
	"github.com/jamicool/PPD/internal/core/model"
)

// IDFunc mints element ids.
type IDFunc func() string

// AddNode appends node to the project with a fresh id. Caller supplied
// properties are merged over the element defaults. A nil project is a no-op.
func AddNode(p *model.Project, node model.Node, defaults model.Properties, newID IDFunc) (model.Node, bool) {
	if p == nil {
		return model.Node{}, false
	}
	added := node.Clone()
	added.ID = newID()
	added.Properties = defaults.Merge(node.Properties)
	p.Nodes = append(p.Nodes, added)
	return added.Clone(), true
}

// UpdateNodePosition replaces the node's position wholesale.
func UpdateNodePosition(p *model.Project, id string, pos model.Position) bool {
	n := FindNode(p, id)
	if n == nil {
		return false
	}
	n.Position = &pos
	return true
}

// UpdateNodeProperties shallow-merges patch into the node's properties.
func UpdateNodeProperties(p *model.Project, id string, patch model.Properties) bool {
	n := FindNode(p, id)
	if n == nil {
		return false
	}
	n.Properties = n.Properties.Merge(patch)
	return true
}

// AddConnection links sourceID to targetID unless that ordered pair is
// already connected. Endpoints are not checked against existing nodes.
func AddConnection(p *model.Project, sourceID, targetID string, newID IDFunc) (model.Connection, bool) {
	if p == nil {
		return model.Connection{}, false
	}
	if FindConnectionBetween(p, sourceID, targetID) != nil {
		return model.Connection{}, false
	}
	conn := model.Connection{
		ID:         newID(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Properties: model.Properties{},
	}
	p.Connections = append(p.Connections, conn)
	return conn.Clone(), true
}

// Removal describes what DeleteElement took out of the project.
type Removal struct {
	Node        bool
	Connections []string
}

func (r Removal) Changed() bool {
	return r.Node || len(r.Connections) > 0
}

// DeleteElement removes the node with the given id together with every
// connection touching it. A connection addressed by its own id is removed too.
func DeleteElement(p *model.Project, id string) Removal {
	var r Removal
	if p == nil || id == "" {
		return r
	}

	nodes := p.Nodes[:0]
	for _, n := range p.Nodes {
		if n.ID == id {
			r.Node = true
			continue
		}
		nodes = append(nodes, n)
	}
	p.Nodes = nodes

	conns := p.Connections[:0]
	for _, c := range p.Connections {
		if c.ID == id || c.SourceID == id || c.TargetID == id {
			r.Connections = append(r.Connections, c.ID)
			continue
		}
		conns = append(conns, c)
	}
	p.Connections = conns
	return r
}

// FindNode returns a pointer into p.Nodes, or nil.
func FindNode(p *model.Project, id string) *model.Node {
	if p == nil {
		return nil
	}
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

func FindConnection(p *model.Project, id string) *model.Connection {
	if p == nil {
		return nil
	}
	for i := range p.Connections {
		if p.Connections[i].ID == id {
			return &p.Connections[i]
		}
	}
	return nil
}

func FindConnectionBetween(p *model.Project, sourceID, targetID string) *model.Connection {
	if p == nil {
		return nil
	}
	for i := range p.Connections {
		c := &p.Connections[i]
		if c.SourceID == sourceID && c.TargetID == targetID {
			return c
		}
	}
	return nil
}

// ConnectionsOf lists connections that start or end at nodeID.
func ConnectionsOf(p *model.Project, nodeID string) []model.Connection {
	if p == nil {
		return nil
	}
	var out []model.Connection
	for _, c := range p.Connections {
		if c.SourceID == nodeID || c.TargetID == nodeID {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Contains reports whether id names a node or a connection of p.
func Contains(p *model.Project, id string) (model.ElementKind, bool) {
	if FindNode(p, id) != nil {
		return model.ElementNode, true
	}
	if FindConnection(p, id) != nil {
		return model.ElementConnection, true
	}
	return "", false
}
