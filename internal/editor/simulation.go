package editor

import (
	"context"
	"fmt"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/progress"
)

// StartSimulation connects the progress channel if needed and asks the
// server to simulate the current project. Progress arrives through the
// channel subscriptions registered in New.
func (s *Store) StartSimulation(ctx context.Context) error {
	p := s.CurrentProject()
	if p == nil || s.channel == nil {
		return nil
	}

	s.mu.Lock()
	if s.sim.ProjectID != p.ID {
		s.acks = nil
	}
	s.sim = SimulationState{ProjectID: p.ID, Running: true}
	s.mu.Unlock()

	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Error("failed to start simulation", "project_id", p.ID, "error", err)
		s.setRunning(false)
		return err
	}

	s.expect(progress.EventQueued)
	if !s.channel.StartSimulation(p.ID, p) {
		s.unexpect()
		s.setRunning(false)
		return fmt.Errorf("start simulation for %s: channel not connected: %w", p.ID, model.ErrTransport)
	}
	s.logger.Debug("simulation requested", "project_id", p.ID)
	return nil
}

// StopSimulation asks the server to stop and marks the simulation as not
// running. A dropped stop request is only logged.
func (s *Store) StopSimulation(ctx context.Context) error {
	p := s.CurrentProject()
	if p == nil || s.channel == nil {
		return nil
	}

	s.mu.Lock()
	if s.sim.ProjectID != p.ID {
		s.sim = SimulationState{ProjectID: p.ID}
		s.acks = nil
	}
	s.sim.Running = false
	s.mu.Unlock()

	s.expect(progress.EventStopped)
	if !s.channel.StopSimulation(p.ID) {
		s.unexpect()
		s.logger.Warn("stop request dropped, channel not connected", "project_id", p.ID)
	}
	return nil
}

func (s *Store) setRunning(running bool) {
	s.mu.Lock()
	s.sim.Running = running
	s.mu.Unlock()
}

// expect records that the hub owes an acknowledgement for an invocation
// about to be sent. It is recorded first because the reply may arrive
// before the send returns.
func (s *Store) expect(event progress.EventName) {
	s.mu.Lock()
	s.acks = append(s.acks, event)
	s.mu.Unlock()
}

// unexpect withdraws the acknowledgement of an invocation that was dropped.
func (s *Store) unexpect() {
	s.mu.Lock()
	if n := len(s.acks); n > 0 {
		s.acks = s.acks[:n-1]
	}
	s.mu.Unlock()
}

// ack consumes the oldest owed acknowledgement when it is event. Must be
// called with mu held.
func (s *Store) ack(event progress.EventName) bool {
	if len(s.acks) == 0 || s.acks[0] != event {
		return false
	}
	s.acks = s.acks[1:]
	return true
}

// live reports whether run events belong to the latest start: it is
// running and the hub has answered every invocation sent since. Must be
// called with mu held.
func (s *Store) live() bool {
	return s.sim.Running && len(s.acks) == 0
}

func (s *Store) onQueued(q progress.QueuedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ProjectID != s.sim.ProjectID {
		return
	}
	s.ack(progress.EventQueued)
	if len(s.acks) == 0 {
		s.sim.TaskID = q.TaskID
	}
}

func (s *Store) onProgress(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live() {
		return
	}
	s.sim.Percent = percent
}

func (s *Store) onCompleted(res model.SimulationResult) {
	s.mu.Lock()
	stale := res.ProjectID != s.sim.ProjectID || !s.live() ||
		(s.sim.TaskID != "" && res.TaskID != "" && res.TaskID != s.sim.TaskID)
	if stale {
		s.mu.Unlock()
		s.logger.Debug("ignoring result of a superseded run", "project_id", res.ProjectID, "task_id", res.TaskID)
		return
	}
	s.sim.Running = false
	s.sim.Percent = 100
	s.sim.Result = &res
	s.mu.Unlock()

	if res.IsSuccessful {
		s.logger.Info("simulation completed", "project_id", res.ProjectID)
	} else {
		s.logger.Error("simulation failed", "project_id", res.ProjectID, "error", res.ErrorMessage)
	}
}

func (s *Store) onError(message string) {
	s.mu.Lock()
	running := s.sim.Running
	if running {
		s.sim.Running = false
		s.sim.Error = message
	}
	s.mu.Unlock()
	s.logger.Error("simulation error", "error", message, "running", running)
}

// onStopped either acknowledges a stop this store sent, in which case the
// local state already reflects it, or reports a stop the server made on
// its own.
func (s *Store) onStopped(projectID string) {
	s.mu.Lock()
	if projectID != s.sim.ProjectID {
		s.mu.Unlock()
		return
	}
	acked := s.ack(progress.EventStopped)
	if !acked {
		s.sim.Running = false
	}
	s.mu.Unlock()
	s.logger.Info("simulation stopped", "project_id", projectID, "requested", acked)
}

// onConnected forgets acknowledgements owed by a previous connection; the
// hub drops a connection's runs when it closes.
func (s *Store) onConnected(connectionID string) {
	s.mu.Lock()
	if s.connID != "" && s.connID != connectionID {
		s.acks = nil
	}
	s.connID = connectionID
	s.mu.Unlock()
}
