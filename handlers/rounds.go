// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/danielhkuo/packvote/events"
	"github.com/danielhkuo/packvote/metrics"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
)

var (
	ErrRoundNotFound = errors.New("vote round not found")
	ErrRoundClosed   = errors.New("vote round is already closed")
	// ErrRoundConflict means the round changed (usually a new ballot)
	// between reading it and writing the results.
	ErrRoundConflict = errors.New("vote round changed during close")
)

// Close triggers
const (
	TriggerOrganizer = "organizer"
	TriggerAuto      = "all_voted"
)

// RoundCloser freezes vote rounds: it tallies the ballots and stores the
// result in the same transaction that flips the round to closed.
type RoundCloser struct {
	db      *sql.DB
	metrics *metrics.Metrics
	events  events.Publisher
	tracer  trace.Tracer
	group   singleflight.Group
}

func NewRoundCloser(db *sql.DB, m *metrics.Metrics, pub events.Publisher) *RoundCloser {
	if pub == nil {
		pub = events.Nop{}
	}
	return &RoundCloser{
		db:      db,
		metrics: m,
		events:  pub,
		tracer:  otel.Tracer("github.com/danielhkuo/packvote/handlers"),
	}
}

// LoadVoteRound returns a stored round, results included when closed.
func LoadVoteRound(ctx context.Context, q Querier, roundID string) (models.VoteRound, error) {
	vr, err := roundByID(ctx, q, roundID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VoteRound{}, ErrRoundNotFound
	}
	if err != nil {
		return models.VoteRound{}, fmt.Errorf("load round: %w", err)
	}
	return vr, nil
}

// LoadVoteRoundInput reads a round's candidate list and its ballots in a
// stable order (by ballot ID, then rank).
func LoadVoteRoundInput(ctx context.Context, q Querier, roundID string) ([]string, []tally.Ballot, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT candidates FROM vote_round WHERE id = $1`, roundID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query round: %w", err)
	}

	var candidates []string
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, nil, fmt.Errorf("decode candidates: %w", err)
	}

	// LEFT JOIN keeps empty ballots so they are visible to the tally.
	rows, err := q.QueryContext(ctx, `
		SELECT b.id, bi.recommendation_id
		FROM ballot b
		LEFT JOIN ballot_item bi ON bi.ballot_id = b.id
		WHERE b.vote_round_id = $1
		ORDER BY b.id, bi.rank
	`, roundID)
	if err != nil {
		return nil, nil, fmt.Errorf("query ballots: %w", err)
	}
	defer rows.Close()

	var (
		ballots []tally.Ballot
		lastID  string
	)
	for rows.Next() {
		var ballotID string
		var recID sql.NullString
		if err := rows.Scan(&ballotID, &recID); err != nil {
			return nil, nil, fmt.Errorf("scan ballot: %w", err)
		}
		if ballotID != lastID {
			ballots = append(ballots, tally.Ballot{})
			lastID = ballotID
		}
		if recID.Valid {
			ballots[len(ballots)-1] = append(ballots[len(ballots)-1], recID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read ballots: %w", err)
	}

	return candidates, ballots, nil
}

// Close tallies and closes an open round. A round that is already closed
// yields ErrRoundClosed and its stored results are left as they are.
func (c *RoundCloser) Close(ctx context.Context, roundID, trigger string) (models.VoteRound, error) {
	ctx, span := c.tracer.Start(ctx, "VoteRound.Close")
	defer span.End()
	span.SetAttributes(
		attribute.String("vote_round.id", roundID),
		attribute.String("vote_round.trigger", trigger),
	)

	vr, took, err := c.close(ctx, roundID, trigger)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoundClosed):
			c.metrics.CloseRejected(metrics.ReasonAlreadyClosed)
		case errors.Is(err, ErrRoundConflict):
			c.metrics.CloseRejected(metrics.ReasonVersionChanged)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.VoteRound{}, err
	}

	res := vr.Results
	c.metrics.RoundClosed(trigger, res.Outcome, len(res.Rounds), took)
	span.SetAttributes(
		attribute.String("tally.outcome", res.Outcome),
		attribute.Int("tally.rounds", len(res.Rounds)),
		attribute.Int("tally.ballots", vr.BallotCount),
	)
	span.SetStatus(codes.Ok, "vote round closed")

	slog.Info("vote round closed",
		"trip_id", vr.TripID,
		"vote_round_id", vr.ID,
		"trigger", trigger,
		"outcome", res.Outcome,
		"winner", res.Winner,
		"rounds", len(res.Rounds),
	)

	ev := events.RoundClosed{
		TripID:      vr.TripID,
		VoteRoundID: vr.ID,
		Winner:      res.Winner,
		Outcome:     res.Outcome,
		Rounds:      len(res.Rounds),
		Trigger:     trigger,
		ClosedAt:    *vr.ClosedAt,
	}
	if err := c.events.PublishRoundClosed(ctx, ev); err != nil {
		// Results are already committed; consumers can recover from the API.
		slog.Warn("failed to publish round closed event", "vote_round_id", vr.ID, "error", err)
	}

	return vr, nil
}

func (c *RoundCloser) close(ctx context.Context, roundID, trigger string) (models.VoteRound, time.Duration, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("begin close: %w", err)
	}
	defer tx.Rollback()

	vr, err := roundByID(ctx, tx, roundID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VoteRound{}, 0, ErrRoundNotFound
	}
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("load round: %w", err)
	}
	if vr.Status != models.RoundOpen {
		return models.VoteRound{}, 0, ErrRoundClosed
	}

	candidates, ballots, err := LoadVoteRoundInput(ctx, tx, roundID)
	if err != nil {
		return models.VoteRound{}, 0, err
	}

	start := time.Now()
	result, err := tally.Run(candidates, ballots)
	took := time.Since(start)
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("tally round %s: %w", roundID, err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("encode results: %w", err)
	}

	var winner *string
	if result.HasWinner() {
		winner = &result.Winner
	}
	closedAt := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE vote_round
		SET status = $1, results = $2, winner_id = $3, closed_at = $4, version = version + 1
		WHERE id = $5 AND status = $6 AND version = $7
	`, models.RoundClosed, string(payload), winner, closedAt, roundID, models.RoundOpen, vr.Version)
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("close round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("close round: %w", err)
	}
	if n == 0 {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM vote_round WHERE id = $1`, roundID).Scan(&status); err == nil && status == models.RoundClosed {
			return models.VoteRound{}, 0, ErrRoundClosed
		}
		return models.VoteRound{}, 0, ErrRoundConflict
	}

	if result.HasWinner() {
		if _, err := tx.ExecContext(ctx, `UPDATE trip SET status = $1 WHERE id = $2`, models.TripFinalized, vr.TripID); err != nil {
			return models.VoteRound{}, 0, fmt.Errorf("finalize trip: %w", err)
		}
	}

	err = writeAudit(ctx, tx, vr.TripID, models.EventVoteResultsFinalized, trigger, map[string]any{
		"vote_round_id": roundID,
		"outcome":       result.Outcome,
		"winner":        result.Winner,
		"ballots":       len(ballots),
	})
	if err != nil {
		return models.VoteRound{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return models.VoteRound{}, 0, fmt.Errorf("commit close: %w", err)
	}

	vr.Status = models.RoundClosed
	vr.Results = &result
	vr.WinnerID = winner
	vr.ClosedAt = &closedAt
	vr.Version++
	vr.BallotCount = len(ballots)
	return vr, took, nil
}

// CloseIfComplete closes the round once every eligible participant has a
// ballot in it. It reports whether the round is closed on return.
// Concurrent calls for the same round share one attempt; the caller's ballot
// must be committed before the call.
func (c *RoundCloser) CloseIfComplete(ctx context.Context, tripID, roundID string) (bool, error) {
	v, err, shared := c.group.Do(roundID, func() (any, error) {
		return c.closeIfComplete(ctx, tripID, roundID)
	})
	if err != nil {
		return false, err
	}
	if closed := v.(bool); closed || !shared {
		return closed, nil
	}
	// A shared attempt may have counted ballots before this caller's
	// ballot committed.
	return c.closeIfComplete(ctx, tripID, roundID)
}

const (
	maxCloseAttempts = 3
	// Auto-close never fires on a roster smaller than this.
	minAutoCloseRoster = 2
)

func (c *RoundCloser) closeIfComplete(ctx context.Context, tripID, roundID string) (bool, error) {
	// A ballot landing mid-close bumps the version and forces a recount.
	for attempt := 0; attempt < maxCloseAttempts; attempt++ {
		complete, err := c.complete(ctx, tripID, roundID)
		if err != nil || !complete {
			return false, err
		}

		_, err = c.Close(ctx, roundID, TriggerAuto)
		switch {
		case err == nil, errors.Is(err, ErrRoundClosed):
			return true, nil
		case errors.Is(err, ErrRoundConflict):
			continue
		default:
			return false, err
		}
	}
	return false, nil
}

// complete reports whether the organizers and travelers have all voted.
// The roster is the larger of the joined voters, the trip's expected voter
// count and minAutoCloseRoster, so travelers who have not joined yet still
// hold the round open.
func (c *RoundCloser) complete(ctx context.Context, tripID, roundID string) (bool, error) {
	trip, err := tripByID(ctx, c.db, tripID)
	if err != nil {
		return false, fmt.Errorf("load trip: %w", err)
	}
	eligible, err := eligibleCount(ctx, c.db, tripID)
	if err != nil {
		return false, fmt.Errorf("count eligible: %w", err)
	}

	var voted int
	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ballot b
		JOIN participant p ON p.id = b.participant_id
		WHERE b.vote_round_id = $1 AND p.role IN ($2, $3)
	`, roundID, models.RoleOrganizer, models.RoleTraveler).Scan(&voted)
	if err != nil {
		return false, fmt.Errorf("count ballots: %w", err)
	}

	roster := max(eligible, trip.ExpectedVoters, minAutoCloseRoster)
	return voted >= roster, nil
}
