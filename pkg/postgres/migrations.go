// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns all database migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create policies table",
			SQL: `CREATE TABLE IF NOT EXISTS policies (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				type VARCHAR(64) NOT NULL,
				severity VARCHAR(16) NOT NULL DEFAULT 'medium',
				priority INT NOT NULL DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				config JSONB NOT NULL DEFAULT '{}',
				conditions JSONB,
				actions JSONB NOT NULL DEFAULT '{}',
				agent_ids JSONB,
				compliance_tags JSONB,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     2,
			Description: "Create agents table",
			SQL: `CREATE TABLE IF NOT EXISTS agents (
				agent_id VARCHAR(128) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				hostname VARCHAR(255),
				os VARCHAR(64),
				os_version VARCHAR(128),
				ip_address VARCHAR(64),
				version VARCHAR(32),
				capabilities JSONB NOT NULL DEFAULT '{}',
				registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
				last_heartbeat TIMESTAMP,
				policy_version VARCHAR(128),
				policy_sync_status VARCHAR(32),
				policy_last_synced_at VARCHAR(64),
				policy_sync_error TEXT
			)`,
		},
		{
			Version:     3,
			Description: "Create events table",
			SQL: `CREATE TABLE IF NOT EXISTS events (
				event_id VARCHAR(128) PRIMARY KEY,
				agent_id VARCHAR(128) NOT NULL,
				type VARCHAR(32) NOT NULL,
				subtype VARCHAR(32),
				timestamp TIMESTAMP NOT NULL,
				hostname VARCHAR(255),
				username VARCHAR(255),
				severity VARCHAR(16),
				action_taken VARCHAR(32),
				policy_ids JSONB,
				payload JSONB NOT NULL DEFAULT '{}'
			)`,
		},
		{
			Version:     4,
			Description: "Create alerts table",
			SQL: `CREATE TABLE IF NOT EXISTS alerts (
				alert_id VARCHAR(128) PRIMARY KEY,
				event_id VARCHAR(128) NOT NULL,
				severity VARCHAR(16) NOT NULL,
				title VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(32) NOT NULL DEFAULT 'open',
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				metadata JSONB
			)`,
		},
		{
			Version:     5,
			Description: "Create migrations tracking table",
			SQL: `CREATE TABLE IF NOT EXISTS schema_migrations (
				version INT PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     6,
			Description: "Create indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_policies_type ON policies(type);
				  CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(enabled);
				  CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);
				  CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
				  CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
				  CREATE INDEX IF NOT EXISTS idx_alerts_event ON alerts(event_id);
				  CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
				  CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(last_heartbeat)`,
		},
	}
}

// RunMigrations executes all pending migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Ensure schema_migrations table exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	migrations := Migrations()
	for _, m := range migrations {
		// Check if migration already applied
		var exists bool
		err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}

		if exists {
			continue
		}

		// Apply migration
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		// Record migration
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// CurrentVersion returns the current schema version.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}
