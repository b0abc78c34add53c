package model

import "errors"

// Failure taxonomy shared by the server, the HTTP gateway and the editor.
// Wrap with fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrTransport  = errors.New("transport failure")
	ErrConflict   = errors.New("revision conflict")
)
