package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// SQLStore keeps projects in three tables: projects, nodes and connections.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	metrics *observability.Metrics
}

// NewSQLStore wraps an open handle. metrics may be nil.
func NewSQLStore(db *sql.DB, dialect Dialect, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, metrics: metrics}
}

// OpenSQL opens dsn with the driver for dialect. The connection is not
// checked; call Ping or BuildIndices.
func OpenSQL(dialect Dialect, dsn string, metrics *observability.Metrics) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one writer at a time; readers share the WAL
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db, dialect, metrics), nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) observe(op string, start time.Time, err error) {
	s.metrics.ObserveStorage(op, time.Since(start).Seconds(), err)
}

func (s *SQLStore) BuildIndices(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLStore) CountProjects(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ListProjects(ctx context.Context, limit int) (out []model.ProjectSummary, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, name, type, created_at, updated_at FROM projects
		 ORDER BY updated_at DESC, id ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out = []model.ProjectSummary{}
	for rows.Next() {
		var sum model.ProjectSummary
		var typ, created, updated string
		if err := rows.Scan(&sum.ID, &sum.Name, &typ, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		sum.Type = model.ProjectType(typ)
		if sum.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if sum.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetProject(ctx context.Context, id string) (p *model.Project, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	p = &model.Project{ID: id, Nodes: []model.Node{}, Connections: []model.Connection{}}
	var typ, created, updated string
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT name, type, revision, created_at, updated_at FROM projects WHERE id = ?`), id).
		Scan(&p.Name, &typ, &p.Revision, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p.Type = model.ProjectType(typ)
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	if p.Nodes, err = s.loadNodes(ctx, id); err != nil {
		return nil, err
	}
	if p.Connections, err = s.loadConnections(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLStore) loadNodes(ctx context.Context, projectID string) ([]model.Node, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, type, x, y, properties FROM nodes WHERE project_id = ? ORDER BY ordinal`), projectID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		var n model.Node
		var pos model.Position
		var props string
		if err := rows.Scan(&n.ID, &n.Type, &pos.X, &pos.Y, &props); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		n.Position = &pos
		if n.Properties, err = decodeProperties(props); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLStore) loadConnections(ctx context.Context, projectID string) ([]model.Connection, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, source_id, target_id, properties FROM connections WHERE project_id = ? ORDER BY ordinal`), projectID)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	defer rows.Close()

	conns := []model.Connection{}
	for rows.Next() {
		var c model.Connection
		var props string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.TargetID, &props); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		if c.Properties, err = decodeProperties(props); err != nil {
			return nil, fmt.Errorf("connection %s: %w", c.ID, err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// inTx runs fn in a transaction and rolls back on any error.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertProject(ctx context.Context, p *model.Project) (err error) {
	start := time.Now()
	defer func() { s.observe("insert", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM projects WHERE id = ?`), p.ID).Scan(&n); err != nil {
			return fmt.Errorf("check project %s: %w", p.ID, err)
		}
		if n > 0 {
			return fmt.Errorf("project %s already exists: %w", p.ID, model.ErrConflict)
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO projects (id, name, type, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
			p.ID, p.Name, string(p.Type), p.Revision, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert project %s: %w", p.ID, err)
		}
		return s.insertChildren(ctx, tx, p)
	})
}

func (s *SQLStore) ReplaceProject(ctx context.Context, p *model.Project, expectedRevision int64) (err error) {
	start := time.Now()
	defer func() { s.observe("replace", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE projects SET name = ?, type = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?`),
			p.Name, string(p.Type), p.Revision, formatTime(p.UpdatedAt), p.ID, expectedRevision)
		if err != nil {
			return fmt.Errorf("update project %s: %w", p.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update project %s: %w", p.ID, err)
		}
		if affected == 0 {
			var n int
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM projects WHERE id = ?`), p.ID).Scan(&n); err != nil {
				return fmt.Errorf("check project %s: %w", p.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("project %s: %w", p.ID, model.ErrNotFound)
			}
			return fmt.Errorf("project %s changed since revision %d: %w", p.ID, expectedRevision, model.ErrConflict)
		}
		if err := s.deleteChildren(ctx, tx, p.ID); err != nil {
			return err
		}
		return s.insertChildren(ctx, tx, p)
	})
}

func (s *SQLStore) DeleteProject(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteChildren(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete project %s: %w", id, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("project %s: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLStore) deleteChildren(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM connections WHERE project_id = ?`), projectID); err != nil {
		return fmt.Errorf("delete connections of %s: %w", projectID, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM nodes WHERE project_id = ?`), projectID); err != nil {
		return fmt.Errorf("delete nodes of %s: %w", projectID, err)
	}
	return nil
}

func (s *SQLStore) insertChildren(ctx context.Context, tx *sql.Tx, p *model.Project) error {
	nodeStmt := s.rebind(`INSERT INTO nodes (project_id, id, ordinal, type, x, y, properties) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, n := range p.Nodes {
		props, err := encodeProperties(n.Properties)
		if err != nil {
			return err
		}
		pos := positionOf(n)
		if _, err := tx.ExecContext(ctx, nodeStmt, p.ID, n.ID, i, n.Type, pos.X, pos.Y, props); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	connStmt := s.rebind(`INSERT INTO connections (project_id, id, ordinal, source_id, target_id, properties) VALUES (?, ?, ?, ?, ?, ?)`)
	for i, c := range p.Connections {
		props, err := encodeProperties(c.Properties)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, connStmt, p.ID, c.ID, i, c.SourceID, c.TargetID, props); err != nil {
			return fmt.Errorf("insert connection %s: %w", c.ID, err)
		}
	}
	return nil
}
