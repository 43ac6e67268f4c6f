package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createPayloadRecordsTable,
		createPayloadIndexes,
		createAmendmentsTable,
		createAmendmentIndexes,
		createTransitionsTable,
		createChannelConfigsTable,
		createBusEventsTable,
		createBusIndexes,
		createDeadLettersTable,
		createInboundDedupTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createPayloadRecordsTable = `
CREATE TABLE IF NOT EXISTS payload_records (
    id UUID PRIMARY KEY,
    correlation_id UUID NOT NULL,
    direction VARCHAR(10) NOT NULL,
    channel VARCHAR(30) NOT NULL,
    hotel_id VARCHAR(64) NOT NULL DEFAULT '',
    method VARCHAR(10) NOT NULL,
    url TEXT NOT NULL,
    headers JSONB NOT NULL DEFAULT '{}',
    body_compressed BYTEA,
    body_hash CHAR(64) NOT NULL,
    body_truncated BOOLEAN NOT NULL DEFAULT FALSE,
    response_status INTEGER,
    response_body BYTEA,
    parsed JSONB NOT NULL DEFAULT '{}',
    processing_status VARCHAR(20) NOT NULL DEFAULT 'received',
    status_reason TEXT NOT NULL DEFAULT '',
    contains_pii BOOLEAN NOT NULL DEFAULT FALSE,
    contains_payment_data BOOLEAN NOT NULL DEFAULT FALSE,
    data_level VARCHAR(20) NOT NULL DEFAULT 'public',
    operation VARCHAR(50) NOT NULL DEFAULT '',
    priority VARCHAR(10) NOT NULL DEFAULT 'medium',
    retention_policy VARCHAR(20) NOT NULL DEFAULT 'public',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    archived_at TIMESTAMP
);`

const createPayloadIndexes = `
CREATE INDEX IF NOT EXISTS idx_payloads_correlation ON payload_records (correlation_id);
CREATE INDEX IF NOT EXISTS idx_payloads_booking ON payload_records ((parsed->>'booking_id'));
CREATE INDEX IF NOT EXISTS idx_payloads_channel_created ON payload_records (channel, created_at);
CREATE INDEX IF NOT EXISTS idx_payloads_status ON payload_records (processing_status);
CREATE INDEX IF NOT EXISTS idx_payloads_data_level ON payload_records (data_level);`

const createAmendmentsTable = `
CREATE TABLE IF NOT EXISTS amendments (
    id UUID PRIMARY KEY,
    channel_amendment_id VARCHAR(128) NOT NULL,
    booking_id VARCHAR(64) NOT NULL,
    hotel_id VARCHAR(64) NOT NULL DEFAULT '',
    correlation_id UUID NOT NULL,
    type VARCHAR(40) NOT NULL,
    state VARCHAR(30) NOT NULL DEFAULT 'pending',
    requested_changes JSONB NOT NULL DEFAULT '{}',
    original_snapshot JSONB NOT NULL DEFAULT '{}',
    requested_by_channel VARCHAR(30) NOT NULL,
    requested_by_guest VARCHAR(128),
    requested_at TIMESTAMP NOT NULL DEFAULT NOW(),
    requires_manual_approval BOOLEAN NOT NULL DEFAULT FALSE,
    decision_reason TEXT,
    decided_at TIMESTAMP,
    decided_by VARCHAR(128),
    expires_at TIMESTAMP NOT NULL
);`

const createAmendmentIndexes = `
CREATE INDEX IF NOT EXISTS idx_amendments_booking ON amendments (booking_id);
CREATE INDEX IF NOT EXISTS idx_amendments_state_requested ON amendments (state, requested_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_amendments_channel_id ON amendments (requested_by_channel, channel_amendment_id);`

const createTransitionsTable = `
CREATE TABLE IF NOT EXISTS booking_status_transitions (
    id SERIAL PRIMARY KEY,
    booking_id VARCHAR(64) NOT NULL,
    from_status VARCHAR(40) NOT NULL,
    to_status VARCHAR(40) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    source VARCHAR(20) NOT NULL,
    correlation_id UUID NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transitions_booking ON booking_status_transitions (booking_id);`

const createChannelConfigsTable = `
CREATE TABLE IF NOT EXISTS channel_configs (
    id SERIAL PRIMARY KEY,
    hotel_id VARCHAR(64) NOT NULL,
    channel VARCHAR(30) NOT NULL,
    credentials TEXT NOT NULL DEFAULT '',
    signature_secret TEXT NOT NULL DEFAULT '',
    endpoints JSONB NOT NULL DEFAULT '{}',
    language VARCHAR(10) NOT NULL DEFAULT 'en',
    currency VARCHAR(3) NOT NULL DEFAULT 'USD',
    requests_per_sec DOUBLE PRECISION NOT NULL DEFAULT 5,
    burst INTEGER NOT NULL DEFAULT 10,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (hotel_id, channel)
);`

const createBusEventsTable = `
CREATE TABLE IF NOT EXISTS bus_events (
    id UUID PRIMARY KEY,
    correlation_id UUID NOT NULL,
    kind VARCHAR(40) NOT NULL,
    payload JSONB NOT NULL,
    originator VARCHAR(64) NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 5,
    partition INTEGER NOT NULL,
    visible_after TIMESTAMP NOT NULL DEFAULT NOW(),
    deadline TIMESTAMP NOT NULL,
    claimed_by VARCHAR(64),
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);`

const createBusIndexes = `
CREATE INDEX IF NOT EXISTS idx_bus_partition_visible ON bus_events (partition, visible_after, created_at);
CREATE INDEX IF NOT EXISTS idx_bus_correlation ON bus_events (correlation_id);
CREATE INDEX IF NOT EXISTS idx_bus_kind ON bus_events (kind);`

const createDeadLettersTable = `
CREATE TABLE IF NOT EXISTS bus_dead_letters (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL,
    kind VARCHAR(40) NOT NULL,
    correlation_id UUID NOT NULL,
    payload JSONB NOT NULL,
    attempts INTEGER NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_kind ON bus_dead_letters (kind);
CREATE INDEX IF NOT EXISTS idx_dead_letters_correlation ON bus_dead_letters (correlation_id);`

const createInboundDedupTable = `
CREATE TABLE IF NOT EXISTS inbound_dedup (
    channel VARCHAR(30) NOT NULL,
    channel_event_id VARCHAR(128) NOT NULL,
    payload_id UUID NOT NULL,
    correlation_id UUID NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    PRIMARY KEY (channel, channel_event_id)
);`
