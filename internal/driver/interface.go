package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jamicool/PPD/internal/core/model"
)

// ProjectStore persists whole projects. Errors wrap model.ErrNotFound and
// model.ErrConflict where the operation names them.
type ProjectStore interface {
	// ListProjects returns at most limit summaries, most recently updated first.
	ListProjects(ctx context.Context, limit int) ([]model.ProjectSummary, error)
	// GetProject loads a project with its nodes and connections in saved order.
	GetProject(ctx context.Context, id string) (*model.Project, error)
	// InsertProject stores a new project. An existing id is ErrConflict.
	InsertProject(ctx context.Context, p *model.Project) error
	// ReplaceProject atomically swaps the stored project for p, provided the
	// stored revision still equals expectedRevision. A missing project is
	// ErrNotFound and a moved revision is ErrConflict; either way nothing
	// is written.
	ReplaceProject(ctx context.Context, p *model.Project, expectedRevision int64) error
	// DeleteProject removes the project and everything it owns.
	DeleteProject(ctx context.Context, id string) error
	CountProjects(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	// BuildIndices creates the schema if needed. It is idempotent.
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// GraphDriver is the Bolt session surface GraphStore needs.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	// ExecuteWrite runs fn inside one write transaction, committing when fn
	// returns nil and rolling back otherwise.
	ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is a running graph transaction.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error)
}
