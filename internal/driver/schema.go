package driver

// Tables use TEXT timestamps and portable column types so the same
// statements run on SQLite and PostgreSQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		type       TEXT NOT NULL,
		revision   BIGINT NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects (updated_at)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		id         TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		type       TEXT NOT NULL,
		x          DOUBLE PRECISION NOT NULL,
		y          DOUBLE PRECISION NOT NULL,
		properties TEXT NOT NULL,
		PRIMARY KEY (project_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS connections (
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		id         TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		source_id  TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		properties TEXT NOT NULL,
		PRIMARY KEY (project_id, id)
	)`,
}
