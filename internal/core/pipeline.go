package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/core/common"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/core/topology"
	"github.com/jamicool/PPD/internal/driver"
	"github.com/jamicool/PPD/internal/observability"
)

const DefaultListLimit = 50

// tokenlessAttempts bounds how often a replace without a revision token is
// retried after losing a race with another writer.
const tokenlessAttempts = 3

// Pipeline is the server-side project service: it stamps ids, timestamps
// and revisions before handing projects to the store.
type Pipeline struct {
	Store    driver.ProjectStore
	Catalog  *catalog.Catalog
	Detector topology.NetworkDetector

	UUIDGenerator func() string
	Now           func() time.Time

	ListLimit       int
	SimulationDelay time.Duration

	logger *slog.Logger
}

func NewPipeline(store driver.ProjectStore, cat *catalog.Catalog, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Store:           store,
		Catalog:         cat,
		Detector:        topology.NewComponentDetector(),
		UUIDGenerator:   func() string { return uuid.New().String() },
		Now:             func() time.Time { return time.Now().UTC() },
		ListLimit:       DefaultListLimit,
		SimulationDelay: time.Second,
		logger:          observability.OrDiscard(logger),
	}
}

// normalize fills in everything a client may leave out: ids, name, type,
// node positions and empty property bags. Duplicate element ids are a
// validation error.
func (s *Pipeline) normalize(p *model.Project) error {
	if model.IsMissingID(p.ID) {
		p.ID = s.UUIDGenerator()
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = model.DefaultProjectName
	}
	if !p.Type.Valid() {
		p.Type = model.ParseProjectType(string(p.Type))
	}
	if p.Nodes == nil {
		p.Nodes = []model.Node{}
	}
	if p.Connections == nil {
		p.Connections = []model.Connection{}
	}

	seen := make(map[string]bool, len(p.Nodes))
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if model.IsMissingID(n.ID) {
			n.ID = s.UUIDGenerator()
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %s: %w", n.ID, model.ErrValidation)
		}
		seen[n.ID] = true
		pos := common.Deref(n.Position, model.DefaultPosition)
		n.Position = &pos
		if n.Properties == nil {
			n.Properties = model.Properties{}
		}
	}

	seenConn := make(map[string]bool, len(p.Connections))
	for i := range p.Connections {
		c := &p.Connections[i]
		if model.IsMissingID(c.ID) {
			c.ID = s.UUIDGenerator()
		}
		if seenConn[c.ID] {
			return fmt.Errorf("duplicate connection id %s: %w", c.ID, model.ErrValidation)
		}
		seenConn[c.ID] = true
		if c.Properties == nil {
			c.Properties = model.Properties{}
		}
	}
	return nil
}

// Create stores a new project. The caller's revision and timestamps are
// ignored.
func (s *Pipeline) Create(ctx context.Context, p *model.Project) (*model.Project, error) {
	p = p.Clone()
	if err := s.normalize(p); err != nil {
		return nil, err
	}
	now := s.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Revision = 1

	if err := s.Store.InsertProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project %s: %w", p.ID, err)
	}
	s.logger.Info("project created", "project_id", p.ID, "name", p.Name, "nodes", len(p.Nodes), "connections", len(p.Connections))
	return p, nil
}

// Replace writes p under id, creating the project when it does not exist.
// A non-zero p.Revision must match the stored revision. Without a token the
// write is last-writer-wins: a concurrent write between reading and
// replacing is retried rather than reported.
func (s *Pipeline) Replace(ctx context.Context, id string, p *model.Project) (*model.Project, error) {
	p = p.Clone()
	p.ID = id
	if p.Revision != 0 {
		return s.replace(ctx, p)
	}

	var err error
	for attempt := 1; attempt <= tokenlessAttempts; attempt++ {
		var saved *model.Project
		saved, err = s.replace(ctx, p.Clone())
		if !errors.Is(err, model.ErrConflict) && !errors.Is(err, model.ErrNotFound) {
			return saved, err
		}
		s.logger.Debug("retrying replace after concurrent write", "project_id", id, "attempt", attempt, "error", err)
	}
	return nil, err
}

func (s *Pipeline) replace(ctx context.Context, p *model.Project) (*model.Project, error) {
	id := p.ID
	existing, err := s.Store.GetProject(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return s.Create(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	if p.Revision != 0 && p.Revision != existing.Revision {
		return nil, fmt.Errorf("project %s is at revision %d, not %d: %w", id, existing.Revision, p.Revision, model.ErrConflict)
	}
	if err := s.normalize(p); err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.Now()
	if p.UpdatedAt.Before(existing.UpdatedAt) {
		p.UpdatedAt = existing.UpdatedAt
	}
	p.Revision = existing.Revision + 1

	if err := s.Store.ReplaceProject(ctx, p, existing.Revision); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	s.logger.Info("project updated", "project_id", p.ID, "revision", p.Revision, "nodes", len(p.Nodes), "connections", len(p.Connections))
	return p, nil
}

func (s *Pipeline) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.Store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the most recently updated projects. Store failures are
// logged and yield an empty list.
func (s *Pipeline) List(ctx context.Context) []model.ProjectSummary {
	limit := s.ListLimit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	list, err := s.Store.ListProjects(ctx, limit)
	if err != nil {
		s.logger.Error("failed to list projects", "error", err)
		return []model.ProjectSummary{}
	}
	if list == nil {
		list = []model.ProjectSummary{}
	}
	return list
}

func (s *Pipeline) Delete(ctx context.Context, id string) error {
	if err := s.Store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", id)
	return nil
}

// Health reports store connectivity and the number of stored projects.
func (s *Pipeline) Health(ctx context.Context) (int, error) {
	if err := s.Store.Ping(ctx); err != nil {
		return 0, err
	}
	return s.Store.CountProjects(ctx)
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// ExportFileName is {name}_{yyyyMMddHHmmss}.json with characters that are
// not allowed in file names replaced.
func ExportFileName(name string, at time.Time) string {
	clean := strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, "_"))
	if clean == "" {
		clean = "project"
	}
	return fmt.Sprintf("%s_%s.json", clean, at.UTC().Format("20060102150405"))
}

// Export returns the project as indented JSON and the suggested file name.
func (s *Pipeline) Export(ctx context.Context, id string) ([]byte, string, error) {
	p, err := s.Store.GetProject(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encode project %s: %w", id, err)
	}
	return data, ExportFileName(p.Name, s.Now()), nil
}

// Import stores an exported document as a new project. Every id is
// re-minted and connection endpoints follow their nodes to the new ids.
func (s *Pipeline) Import(ctx context.Context, data []byte) (*model.Project, error) {
	p, err := common.ParseJSON[model.Project](data)
	if err != nil {
		return nil, fmt.Errorf("invalid project file: %v: %w", err, model.ErrValidation)
	}

	remap := make(map[string]string, len(p.Nodes))
	for i := range p.Nodes {
		fresh := s.UUIDGenerator()
		if old := p.Nodes[i].ID; old != "" {
			remap[old] = fresh
		}
		p.Nodes[i].ID = fresh
	}
	for i := range p.Connections {
		c := &p.Connections[i]
		c.ID = s.UUIDGenerator()
		if id, ok := remap[c.SourceID]; ok {
			c.SourceID = id
		}
		if id, ok := remap[c.TargetID]; ok {
			c.TargetID = id
		}
	}
	p.ID = ""
	return s.Create(ctx, &p)
}

// Validate checks a project against the element catalog and its own
// topology. Schema violations are errors; structural oddities are warnings.
func (s *Pipeline) Validate(ctx context.Context, p *model.Project) model.ValidationResult {
	res := model.ValidationResult{Errors: []string{}, Warnings: []string{}}
	if p == nil {
		res.Errors = append(res.Errors, "project is empty")
		return res
	}

	nodes := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes[n.ID] = true
		if s.Catalog == nil {
			continue
		}
		if _, ok := s.Catalog.Element(n.Type); !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("node %s has unknown element type %q", n.ID, n.Type))
			continue
		}
		for _, problem := range s.Catalog.ValidateProperties(n.Type, n.Properties) {
			res.Errors = append(res.Errors, fmt.Sprintf("node %s (%s): %s", n.ID, n.Type, problem))
		}
	}

	pairs := make(map[[2]string]bool, len(p.Connections))
	for _, c := range p.Connections {
		if !nodes[c.SourceID] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("connection %s starts at missing node %s", c.ID, c.SourceID))
		}
		if !nodes[c.TargetID] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("connection %s ends at missing node %s", c.ID, c.TargetID))
		}
		if c.SourceID == c.TargetID {
			res.Warnings = append(res.Warnings, fmt.Sprintf("connection %s connects node %s to itself", c.ID, c.SourceID))
		}
		key := [2]string{c.SourceID, c.TargetID}
		if pairs[key] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("connection %s duplicates %s -> %s", c.ID, c.SourceID, c.TargetID))
		}
		pairs[key] = true
	}

	if s.Detector != nil && len(p.Nodes) > 1 {
		if networks := s.Detector.Detect(p.Nodes, p.Connections); len(networks) > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("diagram contains %d disconnected networks (%d isolated nodes)",
				len(networks), len(topology.IsolatedNodes(p))))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// Simulate is the request/response simulation: it waits for the configured
// delay and reports success.
func (s *Pipeline) Simulate(ctx context.Context, req model.SimulationRequest) (model.SimulationResult, error) {
	t := time.NewTimer(s.SimulationDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return model.SimulationResult{}, ctx.Err()
	case <-t.C:
	}

	now := s.Now()
	return model.SimulationResult{
		ProjectID:         req.ProjectID,
		TaskID:            s.UUIDGenerator(),
		NodeResults:       map[string]any{},
		ConnectionResults: map[string]any{},
		IsSuccessful:      true,
		SimulationTime:    &now,
	}, nil
}
