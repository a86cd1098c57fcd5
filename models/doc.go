// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

Types for parsing incoming JSON. Each carries validate tags that
middleware.DecodeJSON checks:

  - CreateTripRequest: name, organizer_name
  - AddRecommendationRequest: title, description, model_name
  - JoinTripRequest: name, role
  - SubmitBallotRequest: rankings ([]RankingItem)
  - StartRunoffRequest: size

# Response Types

  - CreateTripResponse: trip_id, admin_key
  - AddRecommendationResponse: recommendation_id
  - PublishTripResponse: share_slug, share_url, vote_round_id
  - JoinTripResponse: participant_id, participant_token
  - SubmitBallotResponse: ballot_id, message, rankings, round_open
  - CloseVoteRoundResponse: closed_at, vote_round
  - TripPreviewResponse: compact card data
  - ErrorResponse: error, message

# Domain Types

  - Trip: trip metadata and lifecycle state
  - Participant: a member of the trip's group
  - Recommendation: a destination candidate
  - VoteRound: one open/closed round of ranked-choice voting
  - Ballot: a participant's ranking for a vote round
  - VoteResults: a closed round joined with candidate metadata

# Constants

Trip status:

	TripDraft     = "draft"
	TripVoting    = "voting"
	TripFinalized = "finalized"

Vote round status:

	RoundOpen   = "open"
	RoundClosed = "closed"

Roles:

	RoleOrganizer = "organizer"
	RoleTraveler  = "traveler"
	RoleViewer    = "viewer"
*/
package models
