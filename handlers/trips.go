// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/packvote/auth"
	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/db"
	"github.com/danielhkuo/packvote/middleware"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
)

type TripHandler struct {
	db     *sql.DB
	cfg    cliparse.Config
	signer auth.Signer
	closer *RoundCloser
}

func NewTripHandler(db *sql.DB, cfg cliparse.Config, closer *RoundCloser) *TripHandler {
	return &TripHandler{
		db:     db,
		cfg:    cfg,
		signer: auth.NewSigner(cfg.AdminKeySalt, cfg.TripSlugSalt),
		closer: closer,
	}
}

// authorize checks the X-Admin-Key header against the trip in the path and
// returns the trip ID. It writes the error response itself.
func (h *TripHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	tripID := r.PathValue("id")
	if tripID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "trip_id is required")
		return "", false
	}

	if err := h.signer.CheckAdminKey(tripID, r.Header.Get("X-Admin-Key")); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return "", false
	}
	return tripID, true
}

// loadTrip fetches the trip or writes a 404/500.
func (h *TripHandler) loadTrip(w http.ResponseWriter, r *http.Request, tripID string) (models.Trip, bool) {
	trip, err := tripByID(r.Context(), h.db, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip not found")
		return trip, false
	}
	if err != nil {
		slog.Error("failed to query trip", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return trip, false
	}
	return trip, true
}

// CreateTrip handles POST /trips
func (h *TripHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTripRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tripID := auth.NewID()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trip (id, name, organizer_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tripID, req.Name, req.OrganizerName, models.TripDraft, time.Now().UTC())
	if err != nil {
		slog.Error("failed to insert trip", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create trip")
		return
	}

	organizer, err := insertParticipant(ctx, tx, tripID, req.OrganizerName, models.RoleOrganizer)
	if err != nil {
		slog.Error("failed to insert organizer", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create trip")
		return
	}

	if err := writeAudit(ctx, tx, tripID, models.EventTripCreated, organizer.ID, map[string]string{"name": req.Name}); err != nil {
		slog.Error("failed to audit trip creation", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create trip")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create trip")
		return
	}

	slog.Info("trip created", "trip_id", tripID, "organizer", req.OrganizerName)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateTripResponse{
		TripID:           tripID,
		AdminKey:         h.signer.AdminKey(tripID),
		ParticipantID:    organizer.ID,
		ParticipantToken: organizer.Token,
	})
}

// GetTripAdmin handles GET /trips/{id}/admin
func (h *TripHandler) GetTripAdmin(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	trip, ok := h.loadTrip(w, r, tripID)
	if !ok {
		return
	}

	resp, err := tripDetails(r.Context(), h.db, trip)
	if err != nil {
		slog.Error("failed to load trip details", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AddRecommendation handles POST /trips/{id}/recommendations
// Candidates can only be added while the trip is a draft.
func (h *TripHandler) AddRecommendation(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req models.AddRecommendationRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	trip, ok := h.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if trip.Status != models.TripDraft {
		middleware.ErrorResponse(w, http.StatusConflict, "Cannot add recommendations once voting has started")
		return
	}

	recID := auth.NewID()
	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO recommendation (id, trip_id, title, description, model_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, recID, tripID, req.Title, req.Description, req.ModelName, time.Now().UTC())
	if err != nil {
		slog.Error("failed to insert recommendation", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add recommendation")
		return
	}

	slog.Info("recommendation added", "trip_id", tripID, "recommendation_id", recID)

	middleware.JSONResponse(w, http.StatusCreated, models.AddRecommendationResponse{
		RecommendationID: recID,
	})
}

// PublishTrip handles POST /trips/{id}/publish
// Assigns the share slug and opens the first vote round over every
// recommendation.
func (h *TripHandler) PublishTrip(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	trip, ok := h.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if trip.Status != models.TripDraft {
		middleware.ErrorResponse(w, http.StatusConflict, "Trip is not in draft status")
		return
	}

	var req models.PublishTripRequest
	if r.ContentLength != 0 {
		if err := middleware.DecodeJSON(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := r.Context()
	recs, err := listRecommendations(ctx, h.db, tripID)
	if err != nil {
		slog.Error("failed to query recommendations", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if len(recs) < 2 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Trip must have at least 2 recommendations")
		return
	}

	candidates := make([]string, len(recs))
	for i, rec := range recs {
		candidates[i] = rec.ID
	}
	shareSlug := h.signer.ShareSlug(tripID)

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trip SET status = $1, share_slug = $2, expected_voters = $3
		WHERE id = $4 AND status = $5
	`, models.TripVoting, shareSlug, req.ExpectedVoters, tripID, models.TripDraft)
	if err != nil {
		slog.Error("failed to publish trip", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to publish trip")
		return
	}
	n, err := res.RowsAffected()
	if err != nil {
		slog.Error("failed to read publish result", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to publish trip")
		return
	}
	if n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Trip is not in draft status")
		return
	}

	vr, err := openRound(ctx, tx, tripID, 1, candidates, nil)
	if err != nil {
		slog.Error("failed to open vote round", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to publish trip")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to publish trip")
		return
	}

	slog.Info("trip published", "trip_id", tripID, "share_slug", shareSlug,
		"vote_round_id", vr.ID, "expected_voters", req.ExpectedVoters)

	middleware.JSONResponse(w, http.StatusOK, models.PublishTripResponse{
		ShareSlug:   shareSlug,
		ShareURL:    h.cfg.BaseURL + "/trips/" + shareSlug,
		VoteRoundID: vr.ID,
	})
}

// CloseVoteRound handles POST /trips/{id}/vote-rounds/close
// Closing twice is rejected with 409 and leaves the stored results alone.
func (h *TripHandler) CloseVoteRound(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	vr, err := currentRound(r.Context(), h.db, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip has no vote round")
		return
	}
	if err != nil {
		slog.Error("failed to query vote round", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	closed, err := h.closer.Close(r.Context(), vr.ID, TriggerOrganizer)
	switch {
	case errors.Is(err, ErrRoundClosed):
		middleware.ErrorResponse(w, http.StatusConflict, "Vote round is already closed")
		return
	case errors.Is(err, ErrRoundConflict):
		middleware.ErrorResponse(w, http.StatusConflict, "Vote round changed while closing, try again")
		return
	case err != nil:
		slog.Error("failed to close vote round", "vote_round_id", vr.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close vote round")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CloseVoteRoundResponse{
		ClosedAt:  *closed.ClosedAt,
		VoteRound: closed,
	})
}

// StartRunoff handles POST /trips/{id}/vote-rounds/runoff
// Opens a new round over the strongest survivors of the closed round.
func (h *TripHandler) StartRunoff(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req models.StartRunoffRequest
	if r.ContentLength != 0 {
		if err := middleware.DecodeJSON(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	size := req.Size
	if size == 0 {
		size = h.cfg.RunoffSize
	}
	if size < 2 {
		size = 2
	}

	trip, ok := h.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if trip.Status != models.TripVoting {
		middleware.ErrorResponse(w, http.StatusConflict, "Trip is not in voting status")
		return
	}

	ctx := r.Context()
	prev, err := currentRound(ctx, h.db, tripID)
	if err != nil {
		slog.Error("failed to query vote round", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if prev.Status != models.RoundClosed || prev.Results == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Current vote round is still open")
		return
	}

	candidates := runoffField(prev, size)
	if len(candidates) < 2 {
		middleware.ErrorResponse(w, http.StatusConflict, "Not enough candidates for a runoff")
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	vr, err := openRound(ctx, tx, tripID, prev.Number+1, candidates, &prev.ID)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "A runoff round is already open")
		return
	}
	if err != nil {
		slog.Error("failed to open runoff round", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start runoff")
		return
	}

	err = writeAudit(ctx, tx, tripID, models.EventRunoffStarted, TriggerOrganizer, map[string]any{
		"vote_round_id":   vr.ID,
		"parent_round_id": prev.ID,
		"candidates":      candidates,
	})
	if err != nil {
		slog.Error("failed to audit runoff", "trip_id", tripID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start runoff")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start runoff")
		return
	}

	slog.Info("runoff started", "trip_id", tripID, "vote_round_id", vr.ID, "candidates", len(candidates))

	middleware.JSONResponse(w, http.StatusCreated, vr)
}

// runoffField narrows a closed round to its top n candidates. A round that
// closed without ballots is re-run over its full field.
func runoffField(prev models.VoteRound, n int) []string {
	if len(prev.Results.Rounds) == 0 {
		return prev.Candidates
	}
	return tally.TopCandidates(*prev.Results, n)
}
