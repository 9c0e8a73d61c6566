package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the bootstrap DDL. Idempotent; applied on startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id                 UUID PRIMARY KEY,
		name               TEXT NOT NULL,
		capacity           INT NOT NULL CHECK (capacity >= 1),
		min_notice_secs    BIGINT NOT NULL DEFAULT 0,
		horizon_secs       BIGINT NOT NULL DEFAULT 0,
		max_daily          INT,
		max_weekly         INT,
		requires_approval  BOOLEAN NOT NULL DEFAULT FALSE,
		waitlist_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
		waitlist_capacity  INT,
		assignment_mode    VARCHAR(32) NOT NULL DEFAULT 'single',
		strategy           VARCHAR(32) NOT NULL DEFAULT '',
		distribution_period VARCHAR(16) NOT NULL DEFAULT 'all_time',
		duration_secs      BIGINT NOT NULL,
		buffer_before_secs BIGINT NOT NULL DEFAULT 0,
		buffer_after_secs  BIGINT NOT NULL DEFAULT 0,
		granularity_secs   BIGINT NOT NULL DEFAULT 900,
		ignore_busy        BOOLEAN NOT NULL DEFAULT FALSE,
		timezone           TEXT NOT NULL DEFAULT 'UTC',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hosts (
		id         UUID PRIMARY KEY,
		event_id   UUID NOT NULL REFERENCES events(id),
		name       TEXT NOT NULL,
		weight     INT NOT NULL DEFAULT 1 CHECK (weight BETWEEN 1 AND 10),
		feed_url   TEXT NOT NULL DEFAULT '',
		working_hours_rrule TEXT NOT NULL DEFAULT '',
		work_day_start VARCHAR(8) NOT NULL DEFAULT '09:00',
		work_day_end   VARCHAR(8) NOT NULL DEFAULT '17:00',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id              UUID PRIMARY KEY,
		event_id        UUID NOT NULL REFERENCES events(id),
		host_id         UUID,
		starts_at       TIMESTAMPTZ NOT NULL,
		ends_at         TIMESTAMPTZ NOT NULL CHECK (ends_at > starts_at),
		cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
		remote_event_id TEXT,
		UNIQUE (event_id, starts_at)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id               UUID PRIMARY KEY,
		slot_id          UUID NOT NULL REFERENCES slots(id),
		attendee_name    TEXT NOT NULL,
		attendee_email   TEXT NOT NULL,
		status           VARCHAR(32) NOT NULL,
		waitlist_position INT,
		host_id          UUID,
		manage_token     UUID NOT NULL UNIQUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		cancelled_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_slot ON bookings (slot_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_email ON bookings (slot_id, attendee_email)`,
	`CREATE TABLE IF NOT EXISTS rotation_state (
		event_id UUID PRIMARY KEY REFERENCES events(id),
		pointer  UUID,
		version  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS assignment_counts (
		event_id     UUID NOT NULL REFERENCES events(id),
		host_id      UUID NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		assigned     INT NOT NULL DEFAULT 0,
		PRIMARY KEY (event_id, host_id, period_start)
	)`,
	`CREATE TABLE IF NOT EXISTS intents (
		id         UUID PRIMARY KEY,
		booking_id UUID NOT NULL REFERENCES bookings(id),
		kind       VARCHAR(32) NOT NULL,
		payload    TEXT NOT NULL DEFAULT '',
		attempts   INT NOT NULL DEFAULT 0,
		status     VARCHAR(16) NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_intents_unfinished ON intents (status) WHERE status IN ('pending', 'running')`,
}

// Migrate applies the bootstrap schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
