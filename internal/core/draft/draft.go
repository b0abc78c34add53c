// Package draft tracks the transient "drawing a connection" gesture of the
// editor. It is never persisted.
package draft

import "sync"

type Kind string

const (
	KindStart   Kind = "start"
	KindEnd     Kind = "end"
	KindRegular Kind = "regular"
)

// State is a snapshot of the machine. Active is false while Idle.
type State struct {
	Active       bool   `json:"active"`
	SourceNodeID string `json:"sourceNodeId,omitempty"`
	Kind         Kind   `json:"kind,omitempty"`
}

// Pending is the edge a finished draft asks the graph to create.
type Pending struct {
	SourceID string
	TargetID string
	Kind     Kind
}

// Machine cycles between Idle and Drawing for the lifetime of an editor.
type Machine struct {
	mu    sync.Mutex
	state State
}

func New() *Machine {
	return &Machine{}
}

// Start enters Drawing. A draft already in progress is overwritten.
func (m *Machine) Start(nodeID string, kind Kind) {
	if kind == "" {
		kind = KindRegular
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{Active: true, SourceNodeID: nodeID, Kind: kind}
}

// Finish returns the pending edge and goes back to Idle. While Idle it
// returns false and changes nothing. Self-loops are not rejected here.
func (m *Machine) Finish(targetNodeID string) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active || m.state.SourceNodeID == "" {
		return Pending{}, false
	}
	p := Pending{SourceID: m.state.SourceNodeID, TargetID: targetNodeID, Kind: m.state.Kind}
	m.state = State{}
	return p, true
}

// Cancel returns to Idle without side effects.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
