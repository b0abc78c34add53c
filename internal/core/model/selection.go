package model

type ElementKind string

const (
	ElementNode       ElementKind = "node"
	ElementConnection ElementKind = "connection"
)

// Selection weakly references at most one element of the current project.
// The zero value selects nothing.
type Selection struct {
	Kind ElementKind `json:"kind,omitempty"`
	ID   string      `json:"id,omitempty"`
}

func (s Selection) Empty() bool {
	return s.ID == ""
}
