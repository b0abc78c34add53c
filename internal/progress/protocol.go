// Package progress carries simulation lifecycle events between the
// simulation hub and the editor. protocol.go defines the frames both sides
// exchange; Channel is the editor's end of the connection.
package progress

import (
	"encoding/json"
	"fmt"

	"github.com/jamicool/PPD/internal/core/common"
	"github.com/jamicool/PPD/internal/core/model"
)

// HubPath is where the server mounts the simulation hub.
const HubPath = "/simulationHub"

const (
	FrameEvent  = "event"
	FrameInvoke = "invoke"
)

// EventName identifies a server to client event.
type EventName string

const (
	EventConnected EventName = "Connected"
	EventQueued    EventName = "SimulationQueued"
	EventProgress  EventName = "SimulationProgress"
	EventCompleted EventName = "SimulationCompleted"
	EventError     EventName = "SimulationError"
	EventStopped   EventName = "SimulationStopped"
)

// Client to server methods.
const (
	MethodStartSimulation = "StartSimulation"
	MethodStopSimulation  = "StopSimulation"
)

// Frame is one JSON text message. Events fill Event and Payload;
// invocations fill Method and Params.
type Frame struct {
	Type    string          `json:"type"`
	Event   EventName       `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type QueuedPayload struct {
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
}

type StartParams struct {
	ProjectID string         `json:"projectId"`
	Project   *model.Project `json:"project,omitempty"`
}

type StopParams struct {
	ProjectID string `json:"projectId"`
}

func NewEvent(name EventName, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Frame{Type: FrameEvent, Event: name, Payload: raw}, nil
}

func NewInvoke(method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s params: %w", method, err)
	}
	return Frame{Type: FrameInvoke, Method: method, Params: raw}, nil
}

// DecodeFrame parses a text message and checks that it is a well-formed
// event or invocation.
func DecodeFrame(data []byte) (Frame, error) {
	f, err := common.ParseJSON[Frame](data)
	if err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case FrameEvent:
		if f.Event == "" {
			return Frame{}, fmt.Errorf("event frame without event name")
		}
	case FrameInvoke:
		if f.Method == "" {
			return Frame{}, fmt.Errorf("invoke frame without method")
		}
	default:
		return Frame{}, fmt.Errorf("unsupported frame type %q", f.Type)
	}
	return f, nil
}

// DecodePayload unmarshals an event payload into T.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
