// Package editor holds the single active project of an editing session and
// coordinates graph edits, persistence and simulation progress.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/core/draft"
	"github.com/jamicool/PPD/internal/core/graph"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/progress"
)

// ErrNoProject is returned by operations that need a loaded project.
var ErrNoProject = fmt.Errorf("no project loaded: %w", model.ErrNotFound)

// Gateway is the remote project store.
type Gateway interface {
	List(ctx context.Context) []model.ProjectSummary
	Get(ctx context.Context, id string) (*model.Project, error)
	Save(ctx context.Context, p *model.Project) (*model.Project, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, p *model.Project) (model.ValidationResult, error)
	Export(ctx context.Context, id string) ([]byte, string, error)
	Import(ctx context.Context, filename string, data []byte) (*model.Project, error)
}

// Channel is the simulation progress push channel.
type Channel interface {
	Connect(ctx context.Context) error
	StartSimulation(projectID string, project *model.Project) bool
	StopSimulation(projectID string) bool
	OnQueued(h func(progress.QueuedPayload)) func()
	OnProgress(h func(percent int)) func()
	OnCompleted(h func(model.SimulationResult)) func()
	OnError(h func(message string)) func()
	OnStopped(h func(projectID string)) func()
	OnConnected(h func(connectionID string)) func()
}

// SimulationState is a snapshot of the simulation as seen by the editor.
type SimulationState struct {
	ProjectID string
	Running   bool
	Percent   int
	TaskID    string
	Result    *model.SimulationResult
	Error     string
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = observability.OrDiscard(l) }
}

func WithIDFunc(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// Store is the editor's coordinator. Every content mutation is applied
// locally, saved, and followed by a refresh of the project list; the saved
// copy returned by the server replaces the local one.
type Store struct {
	gateway Gateway
	channel Channel
	catalog *catalog.Catalog
	logger  *slog.Logger
	newID   func() string

	// op serialises operations that talk to the gateway so that saves reach
	// the server in the order the edits were made.
	op sync.Mutex

	mu        sync.RWMutex
	current   *model.Project
	selection model.Selection
	projects  []model.ProjectSummary
	sim       SimulationState

	// acks lists the Queued and Stopped acknowledgements still owed for
	// the invocations sent about sim.ProjectID, oldest first.
	acks   []progress.EventName
	connID string

	draft *draft.Machine
	unsub []func()
}

func New(g Gateway, ch Channel, cat *catalog.Catalog, opts ...Option) *Store {
	s := &Store{
		gateway:  g,
		channel:  ch,
		catalog:  cat,
		logger:   observability.Discard(),
		newID:    uuid.NewString,
		projects: []model.ProjectSummary{},
		draft:    draft.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if ch != nil {
		s.unsub = append(s.unsub,
			ch.OnQueued(s.onQueued),
			ch.OnProgress(s.onProgress),
			ch.OnCompleted(s.onCompleted),
			ch.OnError(s.onError),
			ch.OnStopped(s.onStopped),
			ch.OnConnected(s.onConnected),
		)
	}
	return s
}

// Close detaches the store from the progress channel.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	for _, u := range unsub {
		u()
	}
}

func (s *Store) CurrentProject() *model.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *Store) Projects() []model.ProjectSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ProjectSummary{}, s.projects...)
}

func (s *Store) Selection() model.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

func (s *Store) Draft() draft.State {
	return s.draft.State()
}

func (s *Store) Simulation() SimulationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.sim
	if s.sim.Result != nil {
		r := *s.sim.Result
		out.Result = &r
	}
	return out
}

// LoadProjects replaces the project list. The gateway reports failures as
// an empty list, so a failed refresh never leaves stale entries behind.
func (s *Store) LoadProjects(ctx context.Context) []model.ProjectSummary {
	list := s.gateway.List(ctx)
	if list == nil {
		list = []model.ProjectSummary{}
	}
	s.mu.Lock()
	s.projects = list
	s.mu.Unlock()
	return append([]model.ProjectSummary{}, list...)
}

// setCurrent swaps the active project and drops editor state that pointed
// into the previous one. A simulation still running for the previous
// project is stopped.
func (s *Store) setCurrent(p *model.Project) {
	s.mu.Lock()
	var abandoned string
	if s.current == nil || p == nil || s.current.ID != p.ID {
		s.selection = model.Selection{}
		s.draft.Cancel()
		if s.sim.Running {
			abandoned = s.sim.ProjectID
		}
		s.sim = SimulationState{}
		s.acks = nil
	}
	s.current = p.Clone()
	s.mu.Unlock()

	if abandoned != "" && s.channel != nil && !s.channel.StopSimulation(abandoned) {
		s.logger.Warn("stop request dropped, channel not connected", "project_id", abandoned)
	}
}

// CreateProject saves a new project built from the given fields and makes
// it current. Missing fields get the usual defaults.
func (s *Store) CreateProject(ctx context.Context, fields model.Project) (*model.Project, error) {
	s.op.Lock()
	defer s.op.Unlock()

	p := fields.Clone()
	if model.IsMissingID(p.ID) {
		p.ID = s.newID()
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = model.DefaultProjectName
	}
	if p.Type == "" {
		p.Type = model.ProjectTypeGas
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Revision = 0

	saved, err := s.gateway.Save(ctx, p)
	if err != nil {
		s.logger.Error("failed to create project", "error", err)
		return nil, err
	}
	s.setCurrent(saved)
	s.LoadProjects(ctx)
	return saved.Clone(), nil
}

func (s *Store) LoadProject(ctx context.Context, id string) (*model.Project, error) {
	s.op.Lock()
	defer s.op.Unlock()

	p, err := s.gateway.Get(ctx, id)
	if err != nil {
		s.logger.Error("failed to load project", "project_id", id, "error", err)
		return nil, err
	}
	s.setCurrent(p)
	return p.Clone(), nil
}

// SaveProject pushes the current project. Without a project it does nothing.
func (s *Store) SaveProject(ctx context.Context) (*model.Project, error) {
	s.op.Lock()
	defer s.op.Unlock()
	return s.persist(ctx)
}

// persist must be called with op held.
func (s *Store) persist(ctx context.Context) (*model.Project, error) {
	s.mu.RLock()
	snapshot := s.current.Clone()
	s.mu.RUnlock()
	if snapshot == nil {
		return nil, nil
	}

	saved, err := s.gateway.Save(ctx, snapshot)
	if err != nil {
		s.logger.Error("failed to save project", "project_id", snapshot.ID, "error", err)
		return nil, err
	}
	s.mu.Lock()
	s.current = saved.Clone()
	s.mu.Unlock()
	s.LoadProjects(ctx)
	return saved.Clone(), nil
}

// DeleteProject removes a project remotely. Deleting the current project
// unloads it.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.op.Lock()
	defer s.op.Unlock()

	if err := s.gateway.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete project", "project_id", id, "error", err)
		return err
	}
	s.mu.RLock()
	unload := s.current != nil && s.current.ID == id
	s.mu.RUnlock()
	if unload {
		s.setCurrent(nil)
	}
	s.LoadProjects(ctx)
	return nil
}

// ValidateProject asks the server to check the current project. A failed
// call is reported as an invalid result rather than an error. The second
// return is false when no project is loaded.
func (s *Store) ValidateProject(ctx context.Context) (model.ValidationResult, bool) {
	p := s.CurrentProject()
	if p == nil {
		return model.ValidationResult{}, false
	}
	res, err := s.gateway.Validate(ctx, p)
	if err != nil {
		s.logger.Error("validation failed", "project_id", p.ID, "error", err)
		return model.ValidationResult{IsValid: false, Errors: []string{"Validation error"}, Warnings: []string{}}, true
	}
	return res, true
}

// ExportProject returns the server's export of the current project and the
// suggested file name.
func (s *Store) ExportProject(ctx context.Context) ([]byte, string, error) {
	p := s.CurrentProject()
	if p == nil {
		return nil, "", ErrNoProject
	}
	data, name, err := s.gateway.Export(ctx, p.ID)
	if err != nil {
		s.logger.Error("failed to export project", "project_id", p.ID, "error", err)
		return nil, "", err
	}
	return data, name, nil
}

// ImportProject uploads an exported document and makes the result current.
func (s *Store) ImportProject(ctx context.Context, filename string, data []byte) (*model.Project, error) {
	s.op.Lock()
	defer s.op.Unlock()

	p, err := s.gateway.Import(ctx, filename, data)
	if err != nil {
		s.logger.Error("failed to import project", "file", filename, "error", err)
		return nil, err
	}
	s.setCurrent(p)
	s.LoadProjects(ctx)
	s.logger.Info("project imported", "project_id", p.ID)
	return p.Clone(), nil
}

// Select points the selection at the node or connection with the given id.
// An empty or unknown id clears it.
func (s *Store) Select(id string) model.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := graph.Contains(s.current, id)
	if !ok {
		s.selection = model.Selection{}
	} else {
		s.selection = model.Selection{Kind: kind, ID: id}
	}
	return s.selection
}

// mutate applies fn to the current project and saves when it reports a
// change. Without a project nothing happens.
func (s *Store) mutate(ctx context.Context, fn func(p *model.Project) bool) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	changed := fn(s.current)
	s.mu.Unlock()
	if !changed {
		return nil
	}
	_, err := s.persist(ctx)
	return err
}

// AddNode adds a node of node.Type with a fresh id. Catalog defaults are
// filled in under the caller's properties.
func (s *Store) AddNode(ctx context.Context, node model.Node) (model.Node, error) {
	if node.Position != nil {
		if err := node.Position.Check(); err != nil {
			return model.Node{}, err
		}
	}
	if err := node.Properties.Check(); err != nil {
		return model.Node{}, err
	}
	var defaults model.Properties
	if s.catalog != nil {
		defaults = s.catalog.Defaults(node.Type)
	}
	var added model.Node
	err := s.mutate(ctx, func(p *model.Project) bool {
		var ok bool
		added, ok = graph.AddNode(p, node, defaults, s.newID)
		return ok
	})
	return added, err
}

// UpdateNodePosition moves a node. Non-finite coordinates are refused.
func (s *Store) UpdateNodePosition(ctx context.Context, id string, pos model.Position) error {
	if err := pos.Check(); err != nil {
		return err
	}
	return s.mutate(ctx, func(p *model.Project) bool {
		return graph.UpdateNodePosition(p, id, pos)
	})
}

// UpdateNodeProperties merges patch into the node's properties after
// checking every value against the node's property schema. A rejected
// patch changes nothing.
func (s *Store) UpdateNodeProperties(ctx context.Context, id string, patch model.Properties) error {
	if err := patch.Check(); err != nil {
		return err
	}
	if s.catalog != nil {
		s.mu.RLock()
		n := graph.FindNode(s.current, id)
		var kind string
		if n != nil {
			kind = n.Type
		}
		s.mu.RUnlock()

		var errs []error
		for _, key := range slices.Sorted(maps.Keys(patch)) {
			if err := s.catalog.CheckValue(kind, key, patch[key]); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	return s.mutate(ctx, func(p *model.Project) bool {
		return graph.UpdateNodeProperties(p, id, patch)
	})
}

// AddConnection links two nodes. The second return is false when the
// ordered pair was already connected or no project is loaded.
func (s *Store) AddConnection(ctx context.Context, sourceID, targetID string) (model.Connection, bool, error) {
	var (
		conn  model.Connection
		added bool
	)
	err := s.mutate(ctx, func(p *model.Project) bool {
		conn, added = graph.AddConnection(p, sourceID, targetID, s.newID)
		return added
	})
	return conn, added, err
}

// DeleteElement removes a node with its connections, or a single
// connection, and clears a selection that pointed at anything removed.
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	return s.mutate(ctx, func(p *model.Project) bool {
		r := graph.DeleteElement(p, id)
		if s.selection.ID == id {
			s.selection = model.Selection{}
		}
		for _, cid := range r.Connections {
			if s.selection.ID == cid {
				s.selection = model.Selection{}
			}
		}
		return r.Changed()
	})
}

func (s *Store) StartConnection(nodeID string, kind draft.Kind) {
	s.draft.Start(nodeID, kind)
}

// FinishConnection completes the draft by connecting its source to
// targetNodeID. While no draft is active it does nothing.
func (s *Store) FinishConnection(ctx context.Context, targetNodeID string) error {
	pending, ok := s.draft.Finish(targetNodeID)
	if !ok {
		return nil
	}
	_, _, err := s.AddConnection(ctx, pending.SourceID, pending.TargetID)
	return err
}

func (s *Store) CancelConnection() {
	s.draft.Cancel()
}
