// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/danielhkuo/packvote/auth"
	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/db"
	"github.com/danielhkuo/packvote/metrics"
	"github.com/danielhkuo/packvote/middleware"
	"github.com/danielhkuo/packvote/models"
)

type VotingHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	signer  auth.Signer
	closer  *RoundCloser
	metrics *metrics.Metrics
}

func NewVotingHandler(db *sql.DB, cfg cliparse.Config, closer *RoundCloser, m *metrics.Metrics) *VotingHandler {
	return &VotingHandler{
		db:      db,
		cfg:     cfg,
		signer:  auth.NewSigner(cfg.AdminKeySalt, cfg.TripSlugSalt),
		closer:  closer,
		metrics: m,
	}
}

// participant resolves the slug and X-Participant-Token header. It writes
// the error response itself.
func (h *VotingHandler) participant(w http.ResponseWriter, r *http.Request) (models.Trip, models.Participant, bool) {
	shareSlug := r.PathValue("slug")
	if shareSlug == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "slug is required")
		return models.Trip{}, models.Participant{}, false
	}

	token := r.Header.Get("X-Participant-Token")
	if token == "" {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "X-Participant-Token header required")
		return models.Trip{}, models.Participant{}, false
	}

	trip, err := tripBySlug(r.Context(), h.db, shareSlug)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip not found")
		return trip, models.Participant{}, false
	}
	if err != nil {
		slog.Error("failed to query trip", "slug", shareSlug, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return trip, models.Participant{}, false
	}

	p, err := participantByToken(r.Context(), h.db, trip.ID, token)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid participant token for this trip")
		return trip, p, false
	}
	if err != nil {
		slog.Error("failed to verify participant token", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return trip, p, false
	}
	return trip, p, true
}

// JoinTrip handles POST /trips/{slug}/join
func (h *VotingHandler) JoinTrip(w http.ResponseWriter, r *http.Request) {
	shareSlug := r.PathValue("slug")
	if shareSlug == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "slug is required")
		return
	}

	var req models.JoinTripRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleTraveler
	}

	ctx := r.Context()
	trip, err := tripBySlug(ctx, h.db, shareSlug)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip not found")
		return
	}
	if err != nil {
		slog.Error("failed to query trip", "slug", shareSlug, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if trip.Status != models.TripVoting {
		middleware.ErrorResponse(w, http.StatusConflict, "Trip is not open for voting")
		return
	}

	p, err := insertParticipant(ctx, h.db, trip.ID, req.Name, role)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Name already taken")
		return
	}
	if err != nil {
		slog.Error("failed to insert participant", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join trip")
		return
	}

	slog.Info("participant joined", "trip_id", trip.ID, "participant_id", p.ID, "role", role)

	middleware.JSONResponse(w, http.StatusCreated, models.JoinTripResponse{
		ParticipantID:    p.ID,
		ParticipantToken: p.Token,
	})
}

// orderRankings validates rank uniqueness and returns the recommendation
// IDs highest preference first.
func orderRankings(items []models.RankingItem) ([]string, error) {
	sorted := slices.Clone(items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	seen := make(map[string]bool, len(sorted))
	out := make([]string, 0, len(sorted))
	for i, item := range sorted {
		if i > 0 && sorted[i-1].Rank == item.Rank {
			return nil, fmt.Errorf("rank %d is used more than once", item.Rank)
		}
		if seen[item.RecommendationID] {
			return nil, fmt.Errorf("recommendation %s is ranked more than once", item.RecommendationID)
		}
		seen[item.RecommendationID] = true
		out = append(out, item.RecommendationID)
	}
	return out, nil
}

// SubmitBallot handles POST /trips/{slug}/ballots
// Creates or replaces the participant's ballot in the current round, then
// closes the round if everyone eligible has voted.
func (h *VotingHandler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	trip, p, ok := h.participant(w, r)
	if !ok {
		return
	}

	var req models.SubmitBallotRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	rankings, err := orderRankings(req.Rankings)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if p.Role == models.RoleViewer {
		middleware.ErrorResponse(w, http.StatusForbidden, "Viewers cannot vote")
		return
	}
	if trip.Status != models.TripVoting {
		middleware.ErrorResponse(w, http.StatusConflict, "Trip is not open for voting")
		return
	}

	ctx := r.Context()
	vr, err := currentRound(ctx, h.db, trip.ID)
	if err != nil {
		slog.Error("failed to query vote round", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if vr.Status != models.RoundOpen {
		middleware.ErrorResponse(w, http.StatusConflict, "Vote round is closed")
		return
	}

	for _, id := range rankings {
		if !slices.Contains(vr.Candidates, id) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "recommendation "+id+" is not a candidate in this round")
			return
		}
	}

	ipHash := h.signer.HashIP(middleware.GetClientIP(r))
	ballotID, isUpdate, err := h.saveBallot(ctx, vr.ID, p, rankings, ipHash)
	switch {
	case errors.Is(err, ErrRoundClosed):
		middleware.ErrorResponse(w, http.StatusConflict, "Vote round is closed")
		return
	case db.IsUniqueViolation(err):
		middleware.ErrorResponse(w, http.StatusConflict, "Ballot submission already in progress, try again")
		return
	case err != nil:
		slog.Error("failed to save ballot", "vote_round_id", vr.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit ballot")
		return
	}

	h.metrics.BallotSubmitted(isUpdate)
	slog.Info("ballot submitted", "trip_id", trip.ID, "vote_round_id", vr.ID, "ballot_id", ballotID, "is_update", isUpdate)

	closed, err := h.closer.CloseIfComplete(context.WithoutCancel(ctx), trip.ID, vr.ID)
	if err != nil {
		// The ballot is stored; the organizer can still close by hand.
		slog.Error("auto-close failed", "vote_round_id", vr.ID, "error", err)
	}

	message := "Ballot submitted successfully"
	if isUpdate {
		message = "Ballot updated successfully"
	}

	middleware.JSONResponse(w, http.StatusCreated, models.SubmitBallotResponse{
		BallotID:  ballotID,
		Message:   message,
		Rankings:  rankings,
		RoundOpen: !closed,
	})
}

// saveBallot upserts a ballot. Bumping the round version first locks the
// round row and invalidates any close that read the old ballot set.
func (h *VotingHandler) saveBallot(ctx context.Context, roundID string, p models.Participant, rankings []string, ipHash string) (string, bool, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin ballot: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE vote_round SET version = version + 1
		WHERE id = $1 AND status = $2
	`, roundID, models.RoundOpen)
	if err != nil {
		return "", false, fmt.Errorf("bump round version: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", false, err
	} else if n == 0 {
		return "", false, ErrRoundClosed
	}

	var ballotID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM ballot WHERE vote_round_id = $1 AND participant_id = $2
	`, roundID, p.ID).Scan(&ballotID)
	isUpdate := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("query ballot: %w", err)
	}

	now := time.Now().UTC()
	if isUpdate {
		_, err = tx.ExecContext(ctx, `
			UPDATE ballot SET submitted_at = $1, ip_hash = $2 WHERE id = $3
		`, now, ipHash, ballotID)
		if err != nil {
			return "", false, fmt.Errorf("update ballot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ballot_item WHERE ballot_id = $1`, ballotID); err != nil {
			return "", false, fmt.Errorf("delete old rankings: %w", err)
		}
	} else {
		ballotID = auth.NewID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ballot (id, vote_round_id, participant_id, submitted_at, ip_hash)
			VALUES ($1, $2, $3, $4, $5)
		`, ballotID, roundID, p.ID, now, ipHash)
		if err != nil {
			return "", false, fmt.Errorf("insert ballot: %w", err)
		}
	}

	for i, recID := range rankings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ballot_item (ballot_id, recommendation_id, rank)
			VALUES ($1, $2, $3)
		`, ballotID, recID, i+1)
		if err != nil {
			return "", false, fmt.Errorf("insert ranking: %w", err)
		}
	}

	err = writeAudit(ctx, tx, p.TripID, models.EventVoteSubmitted, p.ID, map[string]any{
		"vote_round_id": roundID,
		"ballot_id":     ballotID,
		"is_update":     isUpdate,
	})
	if err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit ballot: %w", err)
	}
	return ballotID, isUpdate, nil
}

// GetMyBallot handles GET /trips/{slug}/my-ballot
// Returns the caller's ballot in the current round.
func (h *VotingHandler) GetMyBallot(w http.ResponseWriter, r *http.Request) {
	trip, p, ok := h.participant(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	vr, err := currentRound(ctx, h.db, trip.ID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Trip has no vote round")
		return
	}
	if err != nil {
		slog.Error("failed to query vote round", "trip_id", trip.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	ballot, err := ballotFor(ctx, h.db, vr.ID, p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No ballot submitted for this round")
		return
	}
	if err != nil {
		slog.Error("failed to query ballot", "vote_round_id", vr.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, ballot)
}
