// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the Pack Vote API.

# Route Registration

NewRouter creates the full handler, CORS included:

	reg := prometheus.NewRegistry()
	mux := router.NewRouter(db, cfg, reg, events.Nop{})

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Trip management (admin, requires X-Admin-Key):

	POST /trips                         - Create trip
	GET  /trips/{id}/admin              - Get trip details
	POST /trips/{id}/recommendations    - Add recommendation
	POST /trips/{id}/publish            - Open round 1
	POST /trips/{id}/vote-rounds/close  - Close the current round
	POST /trips/{id}/vote-rounds/runoff - Open a runoff round

Voting (public, uses share slug, rate limited per IP):

	POST /trips/{slug}/join      - Join as a participant
	POST /trips/{slug}/ballots   - Submit/update ballot
	GET  /trips/{slug}/my-ballot - Current ballot (X-Participant-Token)

Results (public):

	GET /trips/{slug}                     - Trip info and recommendations
	GET /trips/{slug}/vote-rounds/current - Current round status
	GET /trips/{slug}/results             - Tally rounds (closed only)
	GET /trips/{slug}/ballot-count        - Ballots vs eligible voters
	GET /trips/{slug}/preview             - Compact preview data

# Handler Initialization

All handlers share one RoundCloser so organizer closes and auto-closes go
through the same guarded path:

	closer := handlers.NewRoundCloser(db, metrics.New(reg), pub)
	tripHandler := handlers.NewTripHandler(db, cfg, closer)
	votingHandler := handlers.NewVotingHandler(db, cfg, closer, m)
	resultsHandler := handlers.NewResultsHandler(db, cfg)
*/
package router
