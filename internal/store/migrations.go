package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Statements must
// run on both SQLite and PostgreSQL.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create handoff sessions",
		SQL: `
			CREATE TABLE handoff_sessions (
				id               TEXT PRIMARY KEY,
				agent_id         TEXT NOT NULL,
				organization_id  TEXT NOT NULL,
				vendor           TEXT NOT NULL,
				conversation_id  TEXT NOT NULL DEFAULT '',
				ack              BIGINT NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'active',
				created_at       TIMESTAMP NOT NULL,
				updated_at       TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_handoff_sessions_conversation ON handoff_sessions (vendor, conversation_id);
			CREATE INDEX idx_handoff_sessions_agent ON handoff_sessions (agent_id);
		`,
	},
	{
		Version: 2,
		Name:    "create webhook deliveries",
		SQL: `
			CREATE TABLE webhook_deliveries (
				vendor       TEXT NOT NULL,
				message_id   TEXT NOT NULL,
				received_at  TIMESTAMP NOT NULL,
				PRIMARY KEY (vendor, message_id)
			);
		`,
	},
}
