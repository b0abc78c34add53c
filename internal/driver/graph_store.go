package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
)

// GraphStore keeps projects in a property graph reached through a
// GraphDriver.
type GraphStore struct {
	Driver  GraphDriver
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewGraphStore(d GraphDriver, logger *slog.Logger, metrics *observability.Metrics) *GraphStore {
	return &GraphStore{Driver: d, logger: observability.OrDiscard(logger), metrics: metrics}
}

func (g *GraphStore) observe(op string, start time.Time, err error) {
	g.metrics.ObserveStorage(op, time.Since(start).Seconds(), err)
}

func (g *GraphStore) BuildIndices(ctx context.Context) error {
	for _, q := range indexQueries {
		if _, err := g.Driver.ExecuteQuery(ctx, q, nil); err != nil {
			// Memgraph rejects duplicate index creation on some versions
			g.logger.Warn("failed to create index", "query", q, "error", err)
		}
	}
	return nil
}

func (g *GraphStore) Ping(ctx context.Context) error {
	return g.Driver.VerifyConnectivity(ctx)
}

func (g *GraphStore) Close(ctx context.Context) error {
	return g.Driver.Close(ctx)
}

func (g *GraphStore) CountProjects(ctx context.Context) (int, error) {
	res, err := g.Driver.ExecuteQuery(ctx, CountProjectsQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	return int(recordInt(res.Records[0], "n")), nil
}

func (g *GraphStore) ListProjects(ctx context.Context, limit int) (out []model.ProjectSummary, err error) {
	start := time.Now()
	defer func() { g.observe("list", start, err) }()

	res, err := g.Driver.ExecuteQuery(ctx, ListProjectsQuery, map[string]interface{}{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out = make([]model.ProjectSummary, 0, len(res.Records))
	for _, rec := range res.Records {
		sum := model.ProjectSummary{
			ID:   recordString(rec, "id"),
			Name: recordString(rec, "name"),
			Type: model.ProjectType(recordString(rec, "type")),
		}
		if sum.CreatedAt, err = parseTime(recordString(rec, "created_at")); err != nil {
			return nil, err
		}
		if sum.UpdatedAt, err = parseTime(recordString(rec, "updated_at")); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (g *GraphStore) GetProject(ctx context.Context, id string) (p *model.Project, err error) {
	start := time.Now()
	defer func() { g.observe("get", start, err) }()

	params := map[string]interface{}{"id": id}
	res, err := g.Driver.ExecuteQuery(ctx, GetProjectQuery, params)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	rec := res.Records[0]
	p = &model.Project{
		ID:       id,
		Name:     recordString(rec, "name"),
		Type:     model.ProjectType(recordString(rec, "type")),
		Revision: recordInt(rec, "revision"),
	}
	if p.CreatedAt, err = parseTime(recordString(rec, "created_at")); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(recordString(rec, "updated_at")); err != nil {
		return nil, err
	}

	nodes, err := g.Driver.ExecuteQuery(ctx, GetProjectNodesQuery, params)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	p.Nodes = make([]model.Node, 0, len(nodes.Records))
	for _, rec := range nodes.Records {
		n := model.Node{
			ID:       recordString(rec, "id"),
			Type:     recordString(rec, "type"),
			Position: &model.Position{X: recordFloat(rec, "x"), Y: recordFloat(rec, "y")},
		}
		if n.Properties, err = decodeProperties(recordString(rec, "properties")); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		p.Nodes = append(p.Nodes, n)
	}

	conns, err := g.Driver.ExecuteQuery(ctx, GetProjectConnectionsQuery, params)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	p.Connections = make([]model.Connection, 0, len(conns.Records))
	for _, rec := range conns.Records {
		c := model.Connection{
			ID:       recordString(rec, "id"),
			SourceID: recordString(rec, "source_id"),
			TargetID: recordString(rec, "target_id"),
		}
		if c.Properties, err = decodeProperties(recordString(rec, "properties")); err != nil {
			return nil, fmt.Errorf("connection %s: %w", c.ID, err)
		}
		p.Connections = append(p.Connections, c)
	}
	return p, nil
}

func (g *GraphStore) InsertProject(ctx context.Context, p *model.Project) (err error) {
	start := time.Now()
	defer func() { g.observe("insert", start, err) }()

	return g.Driver.ExecuteWrite(ctx, func(tx Tx) error {
		exists, err := projectExists(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("project %s already exists: %w", p.ID, model.ErrConflict)
		}
		_, err = tx.Run(ctx, CreateProjectQuery, map[string]interface{}{
			"id":         p.ID,
			"name":       p.Name,
			"type":       string(p.Type),
			"revision":   p.Revision,
			"created_at": formatTime(p.CreatedAt),
			"updated_at": formatTime(p.UpdatedAt),
		})
		if err != nil {
			return fmt.Errorf("insert project %s: %w", p.ID, err)
		}
		return createChildren(ctx, tx, p)
	})
}

func (g *GraphStore) ReplaceProject(ctx context.Context, p *model.Project, expectedRevision int64) (err error) {
	start := time.Now()
	defer func() { g.observe("replace", start, err) }()

	return g.Driver.ExecuteWrite(ctx, func(tx Tx) error {
		records, err := tx.Run(ctx, UpdateProjectQuery, map[string]interface{}{
			"id":                p.ID,
			"name":              p.Name,
			"type":              string(p.Type),
			"revision":          p.Revision,
			"expected_revision": expectedRevision,
			"updated_at":        formatTime(p.UpdatedAt),
		})
		if err != nil {
			return fmt.Errorf("update project %s: %w", p.ID, err)
		}
		if len(records) == 0 {
			exists, err := projectExists(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("project %s: %w", p.ID, model.ErrNotFound)
			}
			return fmt.Errorf("project %s changed since revision %d: %w", p.ID, expectedRevision, model.ErrConflict)
		}
		if _, err := tx.Run(ctx, DeleteProjectChildrenQuery, map[string]interface{}{"id": p.ID}); err != nil {
			return fmt.Errorf("delete children of %s: %w", p.ID, err)
		}
		return createChildren(ctx, tx, p)
	})
}

func (g *GraphStore) DeleteProject(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { g.observe("delete", start, err) }()

	return g.Driver.ExecuteWrite(ctx, func(tx Tx) error {
		exists, err := projectExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("project %s: %w", id, model.ErrNotFound)
		}
		params := map[string]interface{}{"id": id}
		if _, err := tx.Run(ctx, DeleteProjectChildrenQuery, params); err != nil {
			return fmt.Errorf("delete children of %s: %w", id, err)
		}
		if _, err := tx.Run(ctx, DeleteProjectQuery, params); err != nil {
			return fmt.Errorf("delete project %s: %w", id, err)
		}
		return nil
	})
}

func projectExists(ctx context.Context, tx Tx, id string) (bool, error) {
	records, err := tx.Run(ctx, ProjectExistsQuery, map[string]interface{}{"id": id})
	if err != nil {
		return false, fmt.Errorf("check project %s: %w", id, err)
	}
	return len(records) > 0 && recordInt(records[0], "n") > 0, nil
}

func createChildren(ctx context.Context, tx Tx, p *model.Project) error {
	if len(p.Nodes) > 0 {
		nodes := make([]interface{}, 0, len(p.Nodes))
		for i, n := range p.Nodes {
			props, err := encodeProperties(n.Properties)
			if err != nil {
				return err
			}
			pos := positionOf(n)
			nodes = append(nodes, map[string]interface{}{
				"id":         n.ID,
				"ordinal":    int64(i),
				"type":       n.Type,
				"x":          pos.X,
				"y":          pos.Y,
				"properties": props,
			})
		}
		if _, err := tx.Run(ctx, CreateProjectNodesQuery, map[string]interface{}{"id": p.ID, "nodes": nodes}); err != nil {
			return fmt.Errorf("insert nodes of %s: %w", p.ID, err)
		}
	}
	if len(p.Connections) > 0 {
		conns := make([]interface{}, 0, len(p.Connections))
		for i, c := range p.Connections {
			props, err := encodeProperties(c.Properties)
			if err != nil {
				return err
			}
			conns = append(conns, map[string]interface{}{
				"id":         c.ID,
				"ordinal":    int64(i),
				"source_id":  c.SourceID,
				"target_id":  c.TargetID,
				"properties": props,
			})
		}
		if _, err := tx.Run(ctx, CreateProjectConnectionsQuery, map[string]interface{}{"id": p.ID, "connections": conns}); err != nil {
			return fmt.Errorf("insert connections of %s: %w", p.ID, err)
		}
	}
	return nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recordInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func recordFloat(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
