package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jamicool/PPD/internal/core/model"
)

// MockStore is an in-memory driver.ProjectStore.
type MockStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	Err      error
	Inserted int
	Replaced int

	// BeforeReplace runs at the start of ReplaceProject, outside the lock,
	// so tests can slip in a concurrent write.
	BeforeReplace func()
}

// Touch bumps the stored revision of id as another writer would.
func (m *MockStore) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.Revision++
	}
}

func NewMockStore() *MockStore {
	return &MockStore{projects: map[string]*model.Project{}}
}

func (m *MockStore) ListProjects(ctx context.Context, limit int) ([]model.ProjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]model.ProjectSummary, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
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

func (m *MockStore) InsertProject(ctx context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, model.ErrConflict)
	}
	m.projects[p.ID] = p.Clone()
	m.Inserted++
	return nil
}

func (m *MockStore) ReplaceProject(ctx context.Context, p *model.Project, expectedRevision int64) error {
	if hook := m.BeforeReplace; hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cur, ok := m.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, model.ErrNotFound)
	}
	if cur.Revision != expectedRevision {
		return fmt.Errorf("project %s: %w", p.ID, model.ErrConflict)
	}
	m.projects[p.ID] = p.Clone()
	m.Replaced++
	return nil
}

func (m *MockStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	delete(m.projects, id)
	return nil
}

func (m *MockStore) CountProjects(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.projects), m.Err
}

func (m *MockStore) Ping(ctx context.Context) error { return m.Err }

func (m *MockStore) BuildIndices(ctx context.Context) error { return nil }

func (m *MockStore) Close(ctx context.Context) error { return nil }
