package model

import "fmt"

// Position is a canvas coordinate. A nil *Position on a Node means the
// client did not send one.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Check rejects coordinates that are NaN or infinite.
func (p Position) Check() error {
	if !isFinite(p.X) || !isFinite(p.Y) {
		return fmt.Errorf("position (%v, %v) is not finite: %w", p.X, p.Y, ErrValidation)
	}
	return nil
}

// DefaultPosition is assigned by the server to nodes saved without a position.
var DefaultPosition = Position{X: 100, Y: 100}

type Node struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"` // element catalog key, e.g. "valve"
	Position   *Position  `json:"position,omitempty"`
	Properties Properties `json:"properties"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Position != nil {
		pos := *n.Position
		out.Position = &pos
	}
	out.Properties = n.Properties.Clone()
	return out
}
