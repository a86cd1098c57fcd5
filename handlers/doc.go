// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the Pack Vote API.

# Handler Types

Each handler is a struct with database and config dependencies:

  - TripHandler: Trip lifecycle (create, recommendations, publish, close, runoff)
  - VotingHandler: Joining a trip and ballot submission
  - ResultsHandler: Trip info, vote round status and results
  - RoundCloser: Tallies and freezes vote rounds

Handlers are created via constructor functions:

	closer := handlers.NewRoundCloser(db, metrics, publisher)
	tripHandler := handlers.NewTripHandler(db, cfg, closer)

# Trip Lifecycle

Trips progress through three states: draft → voting → finalized

	POST /trips                            → CreateTrip (returns admin_key)
	POST /trips/{id}/recommendations       → AddRecommendation (draft only)
	POST /trips/{id}/publish               → PublishTrip (share_slug + round 1)
	POST /trips/{id}/vote-rounds/close     → CloseVoteRound
	POST /trips/{id}/vote-rounds/runoff    → StartRunoff

Admin operations require the X-Admin-Key header. A trip is finalized when
a round closes with a winner; otherwise it stays in voting and the
organizer may start a runoff over the top candidates.

# Voting Flow

Participants interact via the share slug:

	POST /trips/{slug}/join      → JoinTrip (returns participant_token)
	POST /trips/{slug}/ballots   → SubmitBallot (create or replace)
	GET  /trips/{slug}/my-ballot → GetMyBallot

Participant operations require the X-Participant-Token header. The round
closes on its own once every organizer and traveler has a ballot in it,
counting at least two voters and at least the expected_voters given at
publish.

# Closing a Round

RoundCloser.Close reads the ballots, runs the instant-runoff tally and
writes the results in one transaction guarded by the round's version.
Every ballot bumps that version, so a close that raced a ballot fails with
ErrRoundConflict instead of storing a stale tally. Closing a closed round
returns ErrRoundClosed.

LoadVoteRoundInput exposes the stored tally input for offline recounts.
*/
package handlers
