// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielhkuo/packvote/auth"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
//
// Rows must be fully read and closed before the next statement: SQLite runs
// with a single connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const tripColumns = `id, name, organizer_name, status, share_slug, expected_voters, created_at`

func scanTrip(row *sql.Row) (models.Trip, error) {
	var t models.Trip
	err := row.Scan(&t.ID, &t.Name, &t.OrganizerName, &t.Status, &t.ShareSlug, &t.ExpectedVoters, &t.CreatedAt)
	return t, err
}

func tripByID(ctx context.Context, q Querier, tripID string) (models.Trip, error) {
	return scanTrip(q.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trip WHERE id = $1`, tripID))
}

func tripBySlug(ctx context.Context, q Querier, slug string) (models.Trip, error) {
	return scanTrip(q.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trip WHERE share_slug = $1`, slug))
}

func listRecommendations(ctx context.Context, q Querier, tripID string) ([]models.Recommendation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, trip_id, title, description, model_name, created_at
		FROM recommendation
		WHERE trip_id = $1
		ORDER BY created_at, id
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []models.Recommendation{}
	for rows.Next() {
		var rec models.Recommendation
		if err := rows.Scan(&rec.ID, &rec.TripID, &rec.Title, &rec.Description, &rec.ModelName, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

const roundColumns = `id, trip_id, round_number, status, method, candidates, parent_round_id,
	results, winner_id, version, created_at, closed_at,
	(SELECT COUNT(*) FROM ballot b WHERE b.vote_round_id = vote_round.id)`

func scanRound(row *sql.Row) (models.VoteRound, error) {
	var (
		vr         models.VoteRound
		candidates string
		results    sql.NullString
		closedAt   sql.NullTime
	)
	err := row.Scan(
		&vr.ID, &vr.TripID, &vr.Number, &vr.Status, &vr.Method, &candidates,
		&vr.ParentRoundID, &results, &vr.WinnerID, &vr.Version, &vr.CreatedAt,
		&closedAt, &vr.BallotCount,
	)
	if err != nil {
		return vr, err
	}

	if err := json.Unmarshal([]byte(candidates), &vr.Candidates); err != nil {
		return vr, fmt.Errorf("decode candidates of round %s: %w", vr.ID, err)
	}
	if results.Valid {
		var res tally.Result
		if err := json.Unmarshal([]byte(results.String), &res); err != nil {
			return vr, fmt.Errorf("decode results of round %s: %w", vr.ID, err)
		}
		vr.Results = &res
	}
	if closedAt.Valid {
		vr.ClosedAt = &closedAt.Time
	}
	return vr, nil
}

func roundByID(ctx context.Context, q Querier, roundID string) (models.VoteRound, error) {
	return scanRound(q.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM vote_round WHERE id = $1`, roundID))
}

// currentRound returns the latest round of a trip, open or closed.
func currentRound(ctx context.Context, q Querier, tripID string) (models.VoteRound, error) {
	return scanRound(q.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM vote_round
		WHERE trip_id = $1
		ORDER BY round_number DESC
		LIMIT 1
	`, tripID))
}

// openRound inserts a new open round over candidates and returns it.
func openRound(ctx context.Context, q Querier, tripID string, number int, candidates []string, parentID *string) (models.VoteRound, error) {
	data, err := json.Marshal(candidates)
	if err != nil {
		return models.VoteRound{}, err
	}

	vr := models.VoteRound{
		ID:            auth.NewID(),
		TripID:        tripID,
		Number:        number,
		Status:        models.RoundOpen,
		Method:        models.MethodInstantRunoff,
		Candidates:    candidates,
		ParentRoundID: parentID,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO vote_round (id, trip_id, round_number, status, method, candidates, parent_round_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, vr.ID, vr.TripID, vr.Number, vr.Status, vr.Method, string(data), vr.ParentRoundID, vr.CreatedAt)
	if err != nil {
		return models.VoteRound{}, err
	}
	return vr, nil
}

func participantByToken(ctx context.Context, q Querier, tripID, token string) (models.Participant, error) {
	var p models.Participant
	err := q.QueryRowContext(ctx, `
		SELECT id, trip_id, name, role, token, created_at
		FROM participant
		WHERE trip_id = $1 AND token = $2
	`, tripID, token).Scan(&p.ID, &p.TripID, &p.Name, &p.Role, &p.Token, &p.CreatedAt)
	return p, err
}

func insertParticipant(ctx context.Context, q Querier, tripID, name, role string) (models.Participant, error) {
	token, err := auth.NewParticipantToken()
	if err != nil {
		return models.Participant{}, err
	}

	p := models.Participant{
		ID:        auth.NewID(),
		TripID:    tripID,
		Name:      name,
		Role:      role,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO participant (id, trip_id, name, role, token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.TripID, p.Name, p.Role, p.Token, p.CreatedAt)
	return p, err
}

// eligibleCount counts participants whose ballots decide auto-close.
func eligibleCount(ctx context.Context, q Querier, tripID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participant
		WHERE trip_id = $1 AND role IN ($2, $3)
	`, tripID, models.RoleOrganizer, models.RoleTraveler).Scan(&n)
	return n, err
}

// ballotFor returns a participant's ballot in a round with its rankings
// in rank order.
func ballotFor(ctx context.Context, q Querier, roundID, participantID string) (models.Ballot, error) {
	b := models.Ballot{VoteRoundID: roundID, ParticipantID: participantID}
	err := q.QueryRowContext(ctx, `
		SELECT id, submitted_at FROM ballot
		WHERE vote_round_id = $1 AND participant_id = $2
	`, roundID, participantID).Scan(&b.ID, &b.SubmittedAt)
	if err != nil {
		return b, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT recommendation_id FROM ballot_item
		WHERE ballot_id = $1
		ORDER BY rank
	`, b.ID)
	if err != nil {
		return b, err
	}
	defer rows.Close()

	b.Rankings = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return b, err
		}
		b.Rankings = append(b.Rankings, id)
	}
	return b, rows.Err()
}

// writeAudit appends an event to the audit log. detail is stored as JSON.
func writeAudit(ctx context.Context, q Querier, tripID, eventType, actor string, detail any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_log (id, trip_id, event_type, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, auth.NewID(), tripID, eventType, actor, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write %s audit: %w", eventType, err)
	}
	return nil
}
