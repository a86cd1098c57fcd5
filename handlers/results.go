// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/middleware"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
)

type ResultsHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewResultsHandler(db *sql.DB, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, cfg: cfg}
}

// tripDetails bundles a trip with its recommendations and latest round.
// Results of an open round are never included.
func tripDetails(ctx context.Context, q Querier, trip models.Trip) (models.TripWithRecommendations, error) {
	recs, err := listRecommendations(ctx, q, trip.ID)
	if err != nil {
		return models.TripWithRecommendations{}, err
	}

	resp := models.TripWithRecommendations{Trip: trip, Recommendations: recs}

	vr, err := currentRound(ctx, q, trip.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.TripWithRecommendations{}, err
	default:
		resp.CurrentRound = &vr
	}
	return resp, nil
}

// loadTrip resolves the share slug or writes a 404/500.
func (h *ResultsHandler) loadTrip(w http.ResponseWriter, r *http.Request) (models.Trip, bool) {
	shareSlug := r.PathValue("slug")
	if shareSlug == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "slug is required")
		return models.Trip{}, false
	}

	trip, err := tripBySlug(r.Context(), h.db, shareSlug)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip not found")
		return trip, false
	}
	if err != nil {
		slog.Error("failed to query trip", "slug", shareSlug, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return trip, false
	}
	return trip, true
}

// loadRound fetches the trip's current vote round or writes a 404/500.
func (h *ResultsHandler) loadRound(w http.ResponseWriter, r *http.Request, tripID string) (models.VoteRound, bool) {
	vr, err := currentRound(r.Context(), h.db, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip has no vote round")
		return vr, false
	}
	if err != nil {
		slog.Error("failed to query vote round", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return vr, false
	}
	return vr, true
}

// GetTrip handles GET /trips/{slug}
// Returns the trip and its recommendations, but NOT results while the
// round is open.
func (h *ResultsHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.loadTrip(w, r)
	if !ok {
		return
	}

	resp, err := tripDetails(r.Context(), h.db, trip)
	if err != nil {
		slog.Error("failed to load trip details", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// GetCurrentVoteRound handles GET /trips/{slug}/vote-rounds/current
func (h *ResultsHandler) GetCurrentVoteRound(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	vr, ok := h.loadRound(w, r, trip.ID)
	if !ok {
		return
	}

	middleware.JSONResponse(w, http.StatusOK, vr)
}

// GetResults handles GET /trips/{slug}/results
// Returns 403 while the round is open (results are sealed).
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	vr, ok := h.loadRound(w, r, trip.ID)
	if !ok {
		return
	}

	if vr.Status != models.RoundClosed {
		middleware.ErrorResponse(w, http.StatusForbidden, "Results are hidden until the vote round closes")
		return
	}
	if vr.Results == nil {
		slog.Error("closed vote round has no results", "vote_round_id", vr.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Results not available")
		return
	}

	recs, err := listRecommendations(r.Context(), h.db, trip.ID)
	if err != nil {
		slog.Error("failed to query recommendations", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	// Only the candidates of this round, in the round's order.
	byID := make(map[string]models.Recommendation, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	field := make([]models.Recommendation, 0, len(vr.Candidates))
	for _, id := range vr.Candidates {
		if rec, ok := byID[id]; ok {
			field = append(field, rec)
		}
	}

	middleware.JSONResponse(w, http.StatusOK, models.VoteResults{
		VoteRound:       vr,
		Recommendations: field,
		NoConsensus:     vr.Results.Outcome == tally.OutcomeNoConsensus,
	})
}

// GetBallotCount handles GET /trips/{slug}/ballot-count
// Visible while the round is open.
func (h *ResultsHandler) GetBallotCount(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	vr, ok := h.loadRound(w, r, trip.ID)
	if !ok {
		return
	}

	eligible, err := eligibleCount(r.Context(), h.db, trip.ID)
	if err != nil {
		slog.Error("failed to count participants", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.BallotCountResponse{
		BallotCount:   vr.BallotCount,
		EligibleCount: eligible,
	})
}

// GetPreview handles GET /trips/{slug}/preview
// Compact card for link unfurls in group chats.
func (h *ResultsHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	vr, ok := h.loadRound(w, r, trip.ID)
	if !ok {
		return
	}

	resp := models.TripPreviewResponse{
		Name:           trip.Name,
		Status:         trip.Status,
		CandidateCount: len(vr.Candidates),
		BallotCount:    vr.BallotCount,
	}
	if vr.ClosedAt != nil {
		resp.ClosedAgo = humanize.Time(*vr.ClosedAt)
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}
