// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielhkuo/packvote/auth"
	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/db"
)

// SetupTestDB opens a fresh in-memory SQLite database with the full schema.
// It is closed when the test finishes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  ":memory:",
		DatabaseType: "sqlite",
		AdminKeySalt: "test-admin-salt",
		TripSlugSalt: "test-slug-salt",
		BaseURL:      "https://packvote.test",
		BallotRate:   120,
		RunoffSize:   2,
	}
}

// CreateTestTrip inserts a trip and returns its ID, admin key and share slug.
// status should be "draft", "voting" or "finalized"; drafts have no slug.
func CreateTestTrip(t *testing.T, conn *sql.DB, cfg cliparse.Config, status string) (tripID, adminKey, shareSlug string) {
	t.Helper()

	signer := auth.NewSigner(cfg.AdminKeySalt, cfg.TripSlugSalt)
	tripID = auth.NewID()
	adminKey = signer.AdminKey(tripID)

	var slug *string
	if status != "draft" {
		shareSlug = signer.ShareSlug(tripID)
		slug = &shareSlug
	}

	_, err := conn.Exec(`
		INSERT INTO trip (id, name, organizer_name, status, share_slug, created_at)
		VALUES ($1, 'Test Trip', 'Organizer', $2, $3, $4)
	`, tripID, status, slug, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test trip: %v", err)
	}

	return tripID, adminKey, shareSlug
}

// AddTestRecommendation adds a candidate destination and returns its ID
func AddTestRecommendation(t *testing.T, conn *sql.DB, tripID, title string) string {
	t.Helper()

	recID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO recommendation (id, trip_id, title, description, created_at)
		VALUES ($1, $2, $3, '', $4)
	`, recID, tripID, title, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test recommendation: %v", err)
	}

	return recID
}

// OpenTestRound inserts an open vote round over candidates and returns its ID
func OpenTestRound(t *testing.T, conn *sql.DB, tripID string, number int, candidates []string) string {
	t.Helper()

	data, _ := json.Marshal(candidates)
	roundID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO vote_round (id, trip_id, round_number, status, method, candidates, version, created_at)
		VALUES ($1, $2, $3, 'open', 'instant_runoff', $4, 0, $5)
	`, roundID, tripID, number, string(data), time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test vote round: %v", err)
	}

	return roundID
}

// CreateTestParticipant adds a participant and returns its ID and token
func CreateTestParticipant(t *testing.T, conn *sql.DB, tripID, name, role string) (participantID, token string) {
	t.Helper()

	participantID = auth.NewID()
	token, err := auth.NewParticipantToken()
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	_, err = conn.Exec(`
		INSERT INTO participant (id, trip_id, name, role, token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, participantID, tripID, name, role, token, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test participant: %v", err)
	}

	return participantID, token
}

// SubmitTestBallot stores a ballot directly, highest preference first
func SubmitTestBallot(t *testing.T, conn *sql.DB, roundID, participantID string, rankings ...string) string {
	t.Helper()

	ballotID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO ballot (id, vote_round_id, participant_id, submitted_at)
		VALUES ($1, $2, $3, $4)
	`, ballotID, roundID, participantID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test ballot: %v", err)
	}

	for i, recID := range rankings {
		_, err := conn.Exec(`
			INSERT INTO ballot_item (ballot_id, recommendation_id, rank)
			VALUES ($1, $2, $3)
		`, ballotID, recID, i+1)
		if err != nil {
			t.Fatalf("Failed to create test ranking: %v", err)
		}
	}

	return ballotID
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body any, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
