// Package postgres provides a PostgreSQL-backed incident store.
//
// Metadata and evidence live in two tables keyed by the incident ID, so the
// summary query never touches audio payloads. The tables are created by
// [Migrate], which [NewStore] runs automatically.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	inc, err := store.Record(ctx, incident.Request{…})
//	summary, err := store.Summary(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Metadata
// ─────────────────────────────────────────────────────────────────────────────

const ddlIncidents = `
CREATE TABLE IF NOT EXISTS incidents (
    id                     TEXT              PRIMARY KEY,
    sequence               BIGINT            NOT NULL UNIQUE,
    created_at             TIMESTAMPTZ       NOT NULL,
    threat_level           TEXT              NOT NULL,
    volume                 DOUBLE PRECISION  NOT NULL,
    speech_confidence      DOUBLE PRECISION  NOT NULL,
    audio_file             TEXT              NOT NULL DEFAULT '',
    audio_duration_seconds DOUBLE PRECISION  NOT NULL DEFAULT 0,
    audio_saved            BOOLEAN           NOT NULL DEFAULT false,
    sample_rate            INTEGER           NOT NULL,
    analysis               JSONB,
    detection_system       TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_incidents_created_at
    ON incidents (created_at DESC, sequence DESC);
`

// ─────────────────────────────────────────────────────────────────────────────
// Evidence
// ─────────────────────────────────────────────────────────────────────────────

const ddlEvidence = `
CREATE TABLE IF NOT EXISTS incident_evidence (
    incident_id  TEXT         PRIMARY KEY,
    wav          BYTEA        NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the incident tables if they do not exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlIncidents, ddlEvidence} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
