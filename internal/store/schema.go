package store

import (
	"context"
	"fmt"

	"canonical_cutover/internal/db"
)

// EnsureCanonicalSchema creates the canonical tables, indexes and foreign
// keys if they are missing. Safe to run on every process start; it never
// drops or alters existing data. Foreign keys are declared so the store can
// reject orphan inserts at the physical layer where its configuration
// enforces them; the integrity validator remains the authoritative gate.
func EnsureCanonicalSchema(ctx context.Context, h *db.Handle) error {
	var stmts []string
	switch h.Provider() {
	case "sqlite":
		stmts = sqliteSchema
	case "postgres":
		stmts = postgresSchema
	case "mysql":
		stmts = mysqlSchema
	default:
		return fmt.Errorf("no canonical schema for provider %s", h.Provider())
	}
	for _, stmt := range stmts {
		if _, err := h.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure canonical schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects_canonical (
	project_id TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	owner TEXT,
	status TEXT,
	rag TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS phases_canonical (
	phase_id TEXT PRIMARY KEY,
	phase_name TEXT NOT NULL,
	project_ref TEXT REFERENCES projects_canonical(project_id),
	status TEXT,
	rag TEXT,
	start_date TEXT,
	end_date TEXT,
	notes TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS steps_canonical (
	step_id TEXT PRIMARY KEY,
	step_name TEXT NOT NULL,
	phase_ref TEXT REFERENCES phases_canonical(phase_id),
	project_ref TEXT REFERENCES projects_canonical(project_id),
	status TEXT,
	output_notes TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS comms_canonical (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL,
	actor_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	project_ref TEXT,
	phase_ref TEXT,
	payload TEXT
)`,
	`CREATE TABLE IF NOT EXISTS governance_logs (
	id TEXT PRIMARY KEY,
	occurred_at TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	actor TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT,
	success INTEGER NOT NULL,
	details TEXT
)`,
	`CREATE TABLE IF NOT EXISTS migration_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	phase_reached TEXT NOT NULL,
	outcome TEXT NOT NULL,
	backup_ref TEXT,
	error TEXT,
	timings TEXT,
	report TEXT
)`,
	`CREATE INDEX IF NOT EXISTS phases_project_ref_idx ON phases_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS steps_phase_ref_idx ON steps_canonical(phase_ref)`,
	`CREATE INDEX IF NOT EXISTS steps_project_ref_idx ON steps_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS comms_project_ref_idx ON comms_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS governance_event_idx ON governance_logs(event_type, occurred_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects_canonical (
	project_id text PRIMARY KEY,
	project_name text NOT NULL,
	owner text,
	status text,
	rag text,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS phases_canonical (
	phase_id text PRIMARY KEY,
	phase_name text NOT NULL,
	project_ref text,
	status text,
	rag text,
	start_date text,
	end_date text,
	notes text,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS steps_canonical (
	step_id text PRIMARY KEY,
	step_name text NOT NULL,
	phase_ref text,
	project_ref text,
	status text,
	output_notes text,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS comms_canonical (
	id bigserial PRIMARY KEY,
	occurred_at timestamptz NOT NULL,
	actor_type text NOT NULL,
	event_type text NOT NULL,
	project_ref text,
	phase_ref text,
	payload text
)`,
	`CREATE TABLE IF NOT EXISTS governance_logs (
	id text PRIMARY KEY,
	occurred_at timestamptz NOT NULL,
	event_type text NOT NULL,
	actor text NOT NULL,
	resource_type text NOT NULL,
	resource_id text,
	success boolean NOT NULL,
	details text
)`,
	`CREATE TABLE IF NOT EXISTS migration_runs (
	run_id text PRIMARY KEY,
	started_at timestamptz NOT NULL,
	finished_at timestamptz NOT NULL,
	phase_reached text NOT NULL,
	outcome text NOT NULL,
	backup_ref text,
	error text,
	timings text,
	report text
)`,
	`CREATE INDEX IF NOT EXISTS phases_project_ref_idx ON phases_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS steps_phase_ref_idx ON steps_canonical(phase_ref)`,
	`CREATE INDEX IF NOT EXISTS steps_project_ref_idx ON steps_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS comms_project_ref_idx ON comms_canonical(project_ref)`,
	`CREATE INDEX IF NOT EXISTS governance_event_idx ON governance_logs(event_type, occurred_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects_canonical (
	project_id varchar(128) PRIMARY KEY,
	project_name varchar(512) NOT NULL,
	owner varchar(255),
	status varchar(64),
	rag varchar(16),
	created_at datetime NOT NULL,
	updated_at datetime NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS phases_canonical (
	phase_id varchar(128) PRIMARY KEY,
	phase_name varchar(512) NOT NULL,
	project_ref varchar(128),
	status varchar(64),
	rag varchar(16),
	start_date varchar(64),
	end_date varchar(64),
	notes text,
	created_at datetime NOT NULL,
	updated_at datetime NOT NULL,
	INDEX phases_project_ref_idx (project_ref)
)`,
	`CREATE TABLE IF NOT EXISTS steps_canonical (
	step_id varchar(160) PRIMARY KEY,
	step_name varchar(512) NOT NULL,
	phase_ref varchar(128),
	project_ref varchar(128),
	status varchar(64),
	output_notes text,
	created_at datetime NOT NULL,
	updated_at datetime NOT NULL,
	INDEX steps_phase_ref_idx (phase_ref),
	INDEX steps_project_ref_idx (project_ref)
)`,
	`CREATE TABLE IF NOT EXISTS comms_canonical (
	id bigint AUTO_INCREMENT PRIMARY KEY,
	occurred_at datetime NOT NULL,
	actor_type varchar(64) NOT NULL,
	event_type varchar(128) NOT NULL,
	project_ref varchar(128),
	phase_ref varchar(128),
	payload text,
	INDEX comms_project_ref_idx (project_ref)
)`,
	`CREATE TABLE IF NOT EXISTS governance_logs (
	id varchar(64) PRIMARY KEY,
	occurred_at datetime NOT NULL,
	event_type varchar(128) NOT NULL,
	actor varchar(255) NOT NULL,
	resource_type varchar(128) NOT NULL,
	resource_id varchar(255),
	success tinyint(1) NOT NULL,
	details text,
	INDEX governance_event_idx (event_type, occurred_at)
)`,
	`CREATE TABLE IF NOT EXISTS migration_runs (
	run_id varchar(64) PRIMARY KEY,
	started_at datetime NOT NULL,
	finished_at datetime NOT NULL,
	phase_reached varchar(64) NOT NULL,
	outcome varchar(32) NOT NULL,
	backup_ref varchar(512),
	error text,
	timings text,
	report text
)`,
}
