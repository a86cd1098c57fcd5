// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db manages database connections and schema creation.

# Drivers

Open selects the driver from the configured database type:

	conn, err := db.Open("postgres", "postgres://...") // github.com/lib/pq
	conn, err := db.Open("sqlite", "file:packvote.db")  // modernc.org/sqlite

SQLite connections are limited to a single open connection, which keeps
in-memory databases alive for tests and serializes writers.

# Schema

CreateSchema creates all tables idempotently:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

# Tables

  - trip: trip metadata, status (draft, voting, finalized), share_slug
  - participant: group members with role and participant token
  - recommendation: destination candidates
  - vote_round: one round of ranked-choice voting with its frozen results
  - ballot: one per participant per vote round
  - ballot_item: ranked recommendation entries of a ballot
  - audit_log: trip events

# Constraints

  - participant (trip_id, name) is UNIQUE
  - ballot (vote_round_id, participant_id) is UNIQUE (one ballot per round)
  - ballot_item (ballot_id, rank) is UNIQUE
  - at most one open vote_round per trip (partial unique index)
  - vote_round.version backs the optimistic guard on close

Use IsUniqueViolation to detect constraint failures from either driver.
*/
package db
