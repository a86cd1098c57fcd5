// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the Pack Vote API server.

Pack Vote lets a travel group rank destination recommendations and picks
one with instant-runoff voting. When no destination reaches a majority the
organizer can start a runoff over the strongest survivors.

# Starting the Server

The server reads CLI flags, environment variables (a .env file is loaded
if present), and an optional YAML config file:

	DATABASE_URL=packvote.db go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..."

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite path or PostgreSQL connection string
  - ADMIN_KEY_SALT (--admin-salt): Secret for admin key HMAC
  - TRIP_SLUG_SALT (--slug-salt): Secret for share slug generation

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - BASE_URL (--base-url): Prefix for share links
  - ALLOWED_ORIGINS (--origins): CORS allow list
  - NATS_URL (--nats): Publish round closed events
  - LOG_LEVEL, LOG_FORMAT: slog level and text or json output
  - BALLOT_RATE_PER_MINUTE, RUNOFF_SIZE
  - PACKVOTE_CONFIG (-c): YAML file with the same keys

# Architecture

  - handlers: HTTP request handlers (trips, voting, results) and round closing
  - tally: Instant-runoff tally, independent of storage
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, rate limiting, JSON helpers
  - models: Request/response types
  - auth: Token generation and validation
  - db: Driver selection and schema creation
  - events: Round closed notifications over NATS
  - metrics: Prometheus collectors
  - cliparse: Configuration parsing

The cmd/tallyctl binary tallies ballot files offline and recounts stored
rounds.
*/
package main
