package model

import "time"

type SimulationResult struct {
	ProjectID         string         `json:"projectId"`
	TaskID            string         `json:"taskId,omitempty"`
	NodeResults       map[string]any `json:"nodeResults"`
	ConnectionResults map[string]any `json:"connectionResults"`
	IsSuccessful      bool           `json:"isSuccessful"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	SimulationTime    *time.Time     `json:"simulationTime,omitempty"`
}

type SimulationRequest struct {
	ProjectID  string         `json:"projectId"`
	Parameters map[string]any `json:"parameters"`
}

type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
