package editor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/progress"
)

// MockGateway is an in-memory Gateway that behaves like the server: it
// stamps revisions and timestamps and mints ids for new projects.
type MockGateway struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	order    []string
	seq      int

	Saves     int
	Lists     int
	SaveErr   error
	ListFails bool
	Err       error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{projects: make(map[string]*model.Project)}
}

func (m *MockGateway) List(ctx context.Context) []model.ProjectSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lists++
	if m.ListFails {
		return []model.ProjectSummary{}
	}
	out := []model.ProjectSummary{}
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.projects[m.order[i]].Summary())
	}
	return out
}

func (m *MockGateway) Get(ctx context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *MockGateway) Save(ctx context.Context, p *model.Project) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	saved := p.Clone()
	if model.IsMissingID(saved.ID) {
		m.seq++
		saved.ID = fmt.Sprintf("server-%d", m.seq)
	}
	now := time.Date(2024, 1, 1, 0, 0, m.Saves, 0, time.UTC)
	if prev, ok := m.projects[saved.ID]; ok {
		if saved.Revision != 0 && saved.Revision != prev.Revision {
			return nil, fmt.Errorf("stale: %w", model.ErrConflict)
		}
		saved.CreatedAt = prev.CreatedAt
		saved.Revision = prev.Revision + 1
		m.remove(saved.ID)
	} else {
		saved.CreatedAt = now
		saved.Revision = 1
	}
	saved.UpdatedAt = now
	for i := range saved.Nodes {
		if saved.Nodes[i].Position == nil {
			pos := model.DefaultPosition
			saved.Nodes[i].Position = &pos
		}
	}
	m.projects[saved.ID] = saved
	m.order = append(m.order, saved.ID)
	return saved.Clone(), nil
}

func (m *MockGateway) remove(id string) {
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *MockGateway) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	delete(m.projects, id)
	m.remove(id)
	return nil
}

func (m *MockGateway) Validate(ctx context.Context, p *model.Project) (model.ValidationResult, error) {
	if m.Err != nil {
		return model.ValidationResult{}, m.Err
	}
	return model.ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}, nil
}

func (m *MockGateway) Export(ctx context.Context, id string) ([]byte, string, error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return []byte(`{"id":"` + p.ID + `"}`), p.Name + ".json", nil
}

func (m *MockGateway) Import(ctx context.Context, filename string, data []byte) (*model.Project, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Save(ctx, &model.Project{Name: filename, Type: model.ProjectTypeGas})
}

// MockChannel records invocations and lets tests push events.
type MockChannel struct {
	mu         sync.Mutex
	Connected  bool
	ConnectErr error
	Started    []string
	Stopped    []string

	queued    []func(progress.QueuedPayload)
	progress  []func(int)
	completed []func(model.SimulationResult)
	errs      []func(string)
	stopped   []func(string)
	connected []func(string)
}

func (c *MockChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.Connected = true
	return nil
}

func (c *MockChannel) StartSimulation(projectID string, project *model.Project) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Connected {
		return false
	}
	c.Started = append(c.Started, projectID)
	return true
}

func (c *MockChannel) StopSimulation(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Connected {
		return false
	}
	c.Stopped = append(c.Stopped, projectID)
	return true
}

func (c *MockChannel) OnQueued(h func(progress.QueuedPayload)) func() {
	c.queued = append(c.queued, h)
	return func() { c.queued = nil }
}

func (c *MockChannel) OnProgress(h func(int)) func() {
	c.progress = append(c.progress, h)
	return func() { c.progress = nil }
}

func (c *MockChannel) OnCompleted(h func(model.SimulationResult)) func() {
	c.completed = append(c.completed, h)
	return func() { c.completed = nil }
}

func (c *MockChannel) OnError(h func(string)) func() {
	c.errs = append(c.errs, h)
	return func() { c.errs = nil }
}

func (c *MockChannel) OnStopped(h func(string)) func() {
	c.stopped = append(c.stopped, h)
	return func() { c.stopped = nil }
}

func (c *MockChannel) OnConnected(h func(string)) func() {
	c.connected = append(c.connected, h)
	return func() { c.connected = nil }
}

func (c *MockChannel) emitConnected(id string) {
	for _, h := range c.connected {
		h(id)
	}
}

func (c *MockChannel) emitQueued(q progress.QueuedPayload) {
	for _, h := range c.queued {
		h(q)
	}
}

func (c *MockChannel) emitProgress(p int) {
	for _, h := range c.progress {
		h(p)
	}
}

func (c *MockChannel) emitCompleted(r model.SimulationResult) {
	for _, h := range c.completed {
		h(r)
	}
}

func (c *MockChannel) emitError(msg string) {
	for _, h := range c.errs {
		h(msg)
	}
}

func (c *MockChannel) emitStopped(id string) {
	for _, h := range c.stopped {
		h(id)
	}
}
