package driver

// Cypher used by GraphStore. A project is a :Project node owning its
// elements through HAS_NODE and HAS_CONNECTION. Connections are stored as
// nodes rather than relationships so that dangling endpoints survive a
// round trip.
const (
	CountProjectsQuery = `
		MATCH (p:Project)
		RETURN count(p) AS n
	`

	ProjectExistsQuery = `
		MATCH (p:Project {id: $id})
		RETURN count(p) AS n
	`

	ListProjectsQuery = `
		MATCH (p:Project)
		RETURN p.id AS id, p.name AS name, p.type AS type,
			p.created_at AS created_at, p.updated_at AS updated_at
		ORDER BY p.updated_at DESC, p.id ASC
		LIMIT $limit
	`

	GetProjectQuery = `
		MATCH (p:Project {id: $id})
		RETURN p.name AS name, p.type AS type, p.revision AS revision,
			p.created_at AS created_at, p.updated_at AS updated_at
	`

	GetProjectNodesQuery = `
		MATCH (:Project {id: $id})-[:HAS_NODE]->(n:PipelineNode)
		RETURN n.id AS id, n.type AS type, n.x AS x, n.y AS y, n.properties AS properties
		ORDER BY n.ordinal
	`

	GetProjectConnectionsQuery = `
		MATCH (:Project {id: $id})-[:HAS_CONNECTION]->(c:PipelineConnection)
		RETURN c.id AS id, c.source_id AS source_id, c.target_id AS target_id, c.properties AS properties
		ORDER BY c.ordinal
	`

	CreateProjectQuery = `
		CREATE (p:Project {
			id: $id,
			name: $name,
			type: $type,
			revision: $revision,
			created_at: $created_at,
			updated_at: $updated_at
		})
		RETURN p.id AS id
	`

	UpdateProjectQuery = `
		MATCH (p:Project {id: $id})
		WHERE p.revision = $expected_revision
		SET p.name = $name,
			p.type = $type,
			p.revision = $revision,
			p.updated_at = $updated_at
		RETURN p.id AS id
	`

	DeleteProjectChildrenQuery = `
		MATCH (:Project {id: $id})-[:HAS_NODE|HAS_CONNECTION]->(c)
		DETACH DELETE c
	`

	DeleteProjectQuery = `
		MATCH (p:Project {id: $id})
		DETACH DELETE p
	`

	CreateProjectNodesQuery = `
		MATCH (p:Project {id: $id})
		UNWIND $nodes AS n
		CREATE (p)-[:HAS_NODE]->(:PipelineNode {
			id: n.id,
			ordinal: n.ordinal,
			type: n.type,
			x: n.x,
			y: n.y,
			properties: n.properties
		})
	`

	CreateProjectConnectionsQuery = `
		MATCH (p:Project {id: $id})
		UNWIND $connections AS c
		CREATE (p)-[:HAS_CONNECTION]->(:PipelineConnection {
			id: c.id,
			ordinal: c.ordinal,
			source_id: c.source_id,
			target_id: c.target_id,
			properties: c.properties
		})
	`
)

var indexQueries = []string{
	"CREATE INDEX ON :Project(id);",
	"CREATE INDEX ON :Project(updated_at);",
	"CREATE INDEX ON :PipelineNode(id);",
	"CREATE INDEX ON :PipelineConnection(id);",
}
