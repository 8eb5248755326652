package landscape

// schemaDDL is the full set of tables, shared verbatim between the
// SQLite and MySQL backends. Every primary key is an app-generated UUID
// string rather than an auto-increment integer, so the same DDL and the
// same parameterized CRUD SQL work against both drivers unchanged.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id                        TEXT PRIMARY KEY,
	config_json                   TEXT NOT NULL,
	config_hash                   TEXT NOT NULL,
	canonical_version             TEXT NOT NULL,
	status                        TEXT NOT NULL,
	reproducibility_grade         TEXT NOT NULL DEFAULT 'full',
	source_schema_json            TEXT,
	source_field_resolution_json  TEXT,
	started_at                    TEXT NOT NULL,
	completed_at                  TEXT
);

CREATE TABLE IF NOT EXISTS nodes (
	node_id       TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	node_type     TEXT NOT NULL,
	plugin_name   TEXT NOT NULL,
	config_hash   TEXT NOT NULL,
	determinism   TEXT NOT NULL,
	schema_mode   TEXT NOT NULL,
	schema_fields TEXT
);

CREATE TABLE IF NOT EXISTS edges (
	edge_id  TEXT PRIMARY KEY,
	run_id   TEXT NOT NULL,
	from_id  TEXT NOT NULL,
	to_id    TEXT NOT NULL,
	label    TEXT,
	mode     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rows_ (
	row_id         TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	source_node_id TEXT NOT NULL,
	row_index      INTEGER NOT NULL,
	payload_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	token_id          TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	row_id            TEXT NOT NULL,
	payload_hash      TEXT NOT NULL,
	branch_name       TEXT,
	fork_group_id     TEXT,
	expand_group_id   TEXT,
	join_group_id     TEXT,
	coalesce_node_id  TEXT,
	coalesce_name     TEXT,
	outcome           TEXT,
	is_terminal       INTEGER NOT NULL DEFAULT 0,
	outcome_reason    TEXT,
	outcome_context   TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_parents (
	token_id        TEXT NOT NULL,
	parent_token_id TEXT NOT NULL,
	ordinal         INTEGER NOT NULL,
	PRIMARY KEY (token_id, parent_token_id)
);

CREATE TABLE IF NOT EXISTS node_states (
	state_id        TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	node_id         TEXT NOT NULL,
	token_id        TEXT NOT NULL,
	status          TEXT NOT NULL,
	output_hash     TEXT,
	error_text      TEXT,
	success_reason  TEXT,
	duration_ms     INTEGER,
	started_at      TEXT NOT NULL,
	completed_at    TEXT
);

CREATE TABLE IF NOT EXISTS routing_events (
	routing_event_id  TEXT PRIMARY KEY,
	state_id          TEXT NOT NULL,
	edge_id           TEXT NOT NULL,
	routing_group_id  TEXT NOT NULL,
	ordinal           INTEGER NOT NULL,
	mode              TEXT NOT NULL,
	reason_json       TEXT
);

CREATE TABLE IF NOT EXISTS calls (
	call_id       TEXT PRIMARY KEY,
	state_id      TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT,
	request_hash  TEXT,
	response_hash TEXT,
	duration_ms   INTEGER,
	error_text    TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	batch_id       TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	node_id        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'open',
	attempt        INTEGER NOT NULL DEFAULT 1,
	trigger_reason TEXT,
	created_at     TEXT NOT NULL,
	closed_at      TEXT
);

CREATE TABLE IF NOT EXISTS batch_members (
	batch_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	PRIMARY KEY (batch_id, token_id)
);

CREATE TABLE IF NOT EXISTS batch_outputs (
	batch_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	PRIMARY KEY (batch_id, token_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id      TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL,
	sink_node_id     TEXT NOT NULL,
	uri              TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	size_bytes       INTEGER,
	idempotency_key  TEXT,
	mode             TEXT NOT NULL,
	extra_meta_json  TEXT,
	created_at       TEXT NOT NULL
);

-- One active artifact per (run, sink, idempotency_key); a NULL key opts
-- a write out of idempotent replay. Both SQLite and MySQL treat distinct
-- NULLs as non-equal in a unique index, so only rows with a real key
-- collide; no partial-index syntax needed.
CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_idempotency
	ON artifacts (run_id, sink_node_id, idempotency_key);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id               TEXT PRIMARY KEY,
	run_id                      TEXT NOT NULL,
	token_id                    TEXT,
	node_id                     TEXT NOT NULL,
	sequence_number             INTEGER NOT NULL,
	upstream_topology_hash      TEXT NOT NULL,
	checkpoint_node_config_hash TEXT NOT NULL,
	aggregation_state_json      TEXT,
	created_at                  TEXT NOT NULL
);
`
