// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/danielhkuo/packvote/tally"
)

// Trip status constants
const (
	TripDraft     = "draft"
	TripVoting    = "voting"
	TripFinalized = "finalized"
)

// Vote round status constants
const (
	RoundOpen   = "open"
	RoundClosed = "closed"
)

// Voting method constants
const (
	MethodInstantRunoff = "instant_runoff"
)

// Participant roles. Viewers may follow along but are not eligible voters.
const (
	RoleOrganizer = "organizer"
	RoleTraveler  = "traveler"
	RoleViewer    = "viewer"
)

// Audit event types
const (
	EventTripCreated          = "trip_created"
	EventVoteSubmitted        = "vote_submitted"
	EventVoteResultsFinalized = "vote_results_finalized"
	EventRunoffStarted        = "runoff_started"
)

// Request types

type CreateTripRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	OrganizerName string `json:"organizer_name" validate:"required,max=120"`
}

type AddRecommendationRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	ModelName   string `json:"model_name" validate:"max=100"`
}

// ExpectedVoters is the number of organizers and travelers the group
// expects. Auto-close waits for that many ballots.
type PublishTripRequest struct {
	ExpectedVoters int `json:"expected_voters" validate:"omitempty,min=2,max=500"`
}

type JoinTripRequest struct {
	Name string `json:"name" validate:"required,min=2,max=50"`
	Role string `json:"role" validate:"omitempty,oneof=traveler viewer"`
}

type RankingItem struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
	Rank             int    `json:"rank" validate:"min=1"`
}

// Rankings may be empty: a participant can vote without preferences.
type SubmitBallotRequest struct {
	Rankings []RankingItem `json:"rankings" validate:"dive"`
}

type StartRunoffRequest struct {
	Size int `json:"size" validate:"omitempty,min=1"`
}

// Response types

// The organizer is also a participant, so creation hands back a token too.
type CreateTripResponse struct {
	TripID           string `json:"trip_id"`
	AdminKey         string `json:"admin_key"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

type AddRecommendationResponse struct {
	RecommendationID string `json:"recommendation_id"`
}

type PublishTripResponse struct {
	ShareSlug   string `json:"share_slug"`
	ShareURL    string `json:"share_url"`
	VoteRoundID string `json:"vote_round_id"`
}

type JoinTripResponse struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

type SubmitBallotResponse struct {
	BallotID  string   `json:"ballot_id"`
	Message   string   `json:"message"`
	Rankings  []string `json:"rankings"`
	RoundOpen bool     `json:"round_open"`
}

type CloseVoteRoundResponse struct {
	ClosedAt  time.Time `json:"closed_at"`
	VoteRound VoteRound `json:"vote_round"`
}

type BallotCountResponse struct {
	BallotCount   int `json:"ballot_count"`
	EligibleCount int `json:"eligible_count"`
}

type TripPreviewResponse struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	CandidateCount int    `json:"candidate_count"`
	BallotCount    int    `json:"ballot_count"`
	ClosedAgo      string `json:"closed_ago,omitempty"`
}

// Domain types

type Trip struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganizerName  string    `json:"organizer_name"`
	Status         string    `json:"status"`
	ShareSlug      *string   `json:"share_slug,omitempty"`
	ExpectedVoters int       `json:"expected_voters,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Participant struct {
	ID        string    `json:"id"`
	TripID    string    `json:"trip_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Token     string    `json:"-"` // Never expose in JSON
	CreatedAt time.Time `json:"created_at"`
}

// Recommendation is a destination candidate supplied by the recommendation
// service. The tally only ever sees its ID.
type Recommendation struct {
	ID          string    `json:"id"`
	TripID      string    `json:"trip_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ModelName   string    `json:"model_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TripWithRecommendations struct {
	Trip            Trip             `json:"trip"`
	Recommendations []Recommendation `json:"recommendations"`
	CurrentRound    *VoteRound       `json:"current_round,omitempty"`
}

type VoteRound struct {
	ID            string        `json:"id"`
	TripID        string        `json:"trip_id"`
	Number        int           `json:"number"`
	Status        string        `json:"status"`
	Method        string        `json:"method"`
	Candidates    []string      `json:"candidates"`
	ParentRoundID *string       `json:"parent_round_id,omitempty"`
	Results       *tally.Result `json:"results,omitempty"`
	WinnerID      *string       `json:"winner_id,omitempty"`
	Version       int           `json:"version"`
	BallotCount   int           `json:"ballot_count"`
	CreatedAt     time.Time     `json:"created_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
}

type Ballot struct {
	ID            string    `json:"id"`
	VoteRoundID   string    `json:"vote_round_id"`
	ParticipantID string    `json:"participant_id"`
	Rankings      []string  `json:"rankings"`
	SubmittedAt   time.Time `json:"submitted_at"`
	IPHash        *string   `json:"-"` // Never expose in JSON
}

type VoteResults struct {
	VoteRound       VoteRound        `json:"vote_round"`
	Recommendations []Recommendation `json:"recommendations"`
	NoConsensus     bool             `json:"no_consensus"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
