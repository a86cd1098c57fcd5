// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/events"
	"github.com/danielhkuo/packvote/metrics"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/testutil"
)

// testEnv wires the handlers against an in-memory database.
type testEnv struct {
	db       *sql.DB
	cfg      cliparse.Config
	registry *prometheus.Registry
	events   *recordingPublisher
	closer   *RoundCloser
	trips    *TripHandler
	voting   *VotingHandler
	results  *ResultsHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := &recordingPublisher{}
	closer := NewRoundCloser(conn, m, pub)

	return &testEnv{
		db:       conn,
		cfg:      cfg,
		registry: reg,
		events:   pub,
		closer:   closer,
		trips:    NewTripHandler(conn, cfg, closer),
		voting:   NewVotingHandler(conn, cfg, closer, m),
		results:  NewResultsHandler(conn, cfg),
	}
}

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.RoundClosed
}

func (p *recordingPublisher) PublishRoundClosed(_ context.Context, ev events.RoundClosed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// votingTrip builds a trip in voting status with one open round over the
// given candidate titles. It returns the trip ID, round ID and the
// recommendation IDs keyed by title.
func votingTrip(t *testing.T, titles ...string) (tripID, roundID string, recs map[string]string, h *testEnv) {
	t.Helper()

	h = newTestEnv(t)
	tripID, _, _ = testutil.CreateTestTrip(t, h.db, h.cfg, models.TripVoting)

	recs = make(map[string]string, len(titles))
	ids := make([]string, len(titles))
	for i, title := range titles {
		ids[i] = testutil.AddTestRecommendation(t, h.db, tripID, title)
		recs[title] = ids[i]
	}
	roundID = testutil.OpenTestRound(t, h.db, tripID, 1, ids)
	return tripID, roundID, recs, h
}

// slugOf returns the share slug of a trip.
func slugOf(t *testing.T, h *testEnv, tripID string) string {
	t.Helper()
	var slug string
	if err := h.db.QueryRow("SELECT share_slug FROM trip WHERE id = $1", tripID).Scan(&slug); err != nil {
		t.Fatalf("Failed to read share slug: %v", err)
	}
	return slug
}

// vote posts a ballot through the handler.
func vote(t *testing.T, h *testEnv, slug, token string, recIDs ...string) *httptest.ResponseRecorder {
	t.Helper()

	rankings := make([]models.RankingItem, len(recIDs))
	for i, id := range recIDs {
		rankings[i] = models.RankingItem{RecommendationID: id, Rank: i + 1}
	}

	req := testutil.MakeRequest("POST", "/trips/"+slug+"/ballots",
		models.SubmitBallotRequest{Rankings: rankings},
		map[string]string{"X-Participant-Token": token})
	req.SetPathValue("slug", slug)
	w := httptest.NewRecorder()
	h.voting.SubmitBallot(w, req)
	return w
}
