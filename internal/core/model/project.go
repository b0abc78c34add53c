package model

import (
	"strings"
	"time"
)

type ProjectType string

const (
	ProjectTypeGas ProjectType = "gas"
	ProjectTypeOil ProjectType = "oil"
)

const DefaultProjectName = "New Project"

// ParseProjectType maps user input onto a known type, falling back to gas.
func ParseProjectType(s string) ProjectType {
	switch ProjectType(strings.ToLower(strings.TrimSpace(s))) {
	case ProjectTypeOil:
		return ProjectTypeOil
	default:
		return ProjectTypeGas
	}
}

func (t ProjectType) Valid() bool {
	return t == ProjectTypeGas || t == ProjectTypeOil
}

// Project is the persisted pipeline diagram: nodes, connections and the
// bookkeeping the server stamps on every save.
type Project struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        ProjectType  `json:"type"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	// Revision is bumped by the server on every write. A client echoing a
	// stale revision gets ErrConflict instead of overwriting newer data.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectSummary is the listing projection of a Project.
type ProjectSummary struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ProjectType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (p *Project) Summary() ProjectSummary {
	return ProjectSummary{
		ID:        p.ID,
		Name:      p.Name,
		Type:      p.Type,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Nodes = make([]Node, len(p.Nodes))
	for i, n := range p.Nodes {
		out.Nodes[i] = n.Clone()
	}
	out.Connections = make([]Connection, len(p.Connections))
	for i, c := range p.Connections {
		out.Connections[i] = c.Clone()
	}
	return &out
}

// IsMissingID reports whether an id sent by a client should be treated as absent.
// Browser clients serialise unset ids as the literal "undefined".
func IsMissingID(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || id == "undefined"
}
