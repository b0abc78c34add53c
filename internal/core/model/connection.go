package model

// Connection is a directed edge between two nodes of the same project.
type Connection struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"sourceId"`
	TargetID   string     `json:"targetId"`
	Properties Properties `json:"properties"`
}

func (c Connection) Clone() Connection {
	out := c
	out.Properties = c.Properties.Clone()
	return out
}
