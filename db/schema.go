// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// The schema sticks to the subset of SQL shared by PostgreSQL and SQLite.
// JSON columns are TEXT so both drivers scan them into []byte.
const schema = `
-- Trips
CREATE TABLE IF NOT EXISTS trip (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    organizer_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'voting', 'finalized')),
    share_slug TEXT UNIQUE,
    expected_voters INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trip_share_slug ON trip(share_slug);

-- Participants
CREATE TABLE IF NOT EXISTS participant (
    id TEXT PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trip(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'traveler' CHECK (role IN ('organizer', 'traveler', 'viewer')),
    token TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (trip_id, name)
);

CREATE INDEX IF NOT EXISTS idx_participant_trip_id ON participant(trip_id);

-- Destination recommendations (vote candidates)
CREATE TABLE IF NOT EXISTS recommendation (
    id TEXT PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trip(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    model_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recommendation_trip_id ON recommendation(trip_id);

-- Vote rounds
CREATE TABLE IF NOT EXISTS vote_round (
    id TEXT PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trip(id) ON DELETE CASCADE,
    round_number INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
    method TEXT NOT NULL DEFAULT 'instant_runoff',
    candidates TEXT NOT NULL,
    parent_round_id TEXT REFERENCES vote_round(id),
    results TEXT,
    winner_id TEXT,
    version INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at TIMESTAMP,
    UNIQUE (trip_id, round_number)
);

CREATE INDEX IF NOT EXISTS idx_vote_round_trip_id ON vote_round(trip_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vote_round_one_open ON vote_round(trip_id) WHERE status = 'open';

-- Ballots
CREATE TABLE IF NOT EXISTS ballot (
    id TEXT PRIMARY KEY,
    vote_round_id TEXT NOT NULL REFERENCES vote_round(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL REFERENCES participant(id) ON DELETE CASCADE,
    submitted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ip_hash TEXT,
    UNIQUE (vote_round_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_ballot_vote_round_id ON ballot(vote_round_id);

-- Ranked entries
CREATE TABLE IF NOT EXISTS ballot_item (
    ballot_id TEXT NOT NULL REFERENCES ballot(id) ON DELETE CASCADE,
    recommendation_id TEXT NOT NULL REFERENCES recommendation(id) ON DELETE CASCADE,
    rank INTEGER NOT NULL CHECK (rank >= 1),
    PRIMARY KEY (ballot_id, recommendation_id),
    UNIQUE (ballot_id, rank)
);

-- Audit log
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    trip_id TEXT REFERENCES trip(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    actor TEXT,
    detail TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_log_trip_id ON audit_log(trip_id);
`
