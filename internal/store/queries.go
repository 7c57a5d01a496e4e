package store

// Job history queries. kind and document_uri are indexed, which DuckDB does
// not allow an upsert to assign; they never change for a given id.
const (
	queryUpsertJob = `
		INSERT INTO jobs (id, kind, state, error, document_uri, priority, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			priority = EXCLUDED.priority,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`

	queryDeleteJobsBefore = `DELETE FROM jobs WHERE created_at < ?`
)

var jobColumns = []string{
	"id", "kind", "state", "error", "document_uri", "priority",
	"started_at", "finished_at", "created_at",
}
