// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
	"github.com/danielhkuo/packvote/testutil"
)

func TestLoadVoteRoundInput(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "Lisbon", "Porto", "Madeira")

	p1, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	p2, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Rui", models.RoleTraveler)
	testutil.SubmitTestBallot(t, h.db, roundID, p1, recs["Porto"], recs["Lisbon"])
	testutil.SubmitTestBallot(t, h.db, roundID, p2)

	candidates, ballots, err := LoadVoteRoundInput(context.Background(), h.db, roundID)
	if err != nil {
		t.Fatalf("LoadVoteRoundInput: %v", err)
	}

	if len(candidates) != 3 {
		t.Errorf("Expected 3 candidates, got %d", len(candidates))
	}
	if len(ballots) != 2 {
		t.Fatalf("Expected 2 ballots, got %d", len(ballots))
	}

	var ranked, empty int
	for _, b := range ballots {
		switch len(b) {
		case 0:
			empty++
		case 2:
			ranked++
			if b[0] != recs["Porto"] || b[1] != recs["Lisbon"] {
				t.Errorf("Rankings out of order: %v", b)
			}
		}
	}
	if ranked != 1 || empty != 1 {
		t.Errorf("Expected one ranked and one empty ballot, got %d and %d", ranked, empty)
	}
}

func TestLoadVoteRoundInputUnknownRound(t *testing.T) {
	h := newTestEnv(t)

	_, _, err := LoadVoteRoundInput(context.Background(), h.db, "missing")
	if !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("Expected ErrRoundNotFound, got %v", err)
	}
}

// Seven travelers: A A A B B C>B D>B. C and D tie at the bottom and go out
// together, their ballots transfer to B, and B wins 4-3 in round two.
func TestRoundCloserBatchElimination(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B", "C", "D")

	ballots := [][]string{
		{"A"}, {"A"}, {"A"},
		{"B"}, {"B"},
		{"C", "B"},
		{"D", "B"},
	}
	for i, titles := range ballots {
		pid, _ := testutil.CreateTestParticipant(t, h.db, tripID, "voter"+string(rune('a'+i)), models.RoleTraveler)
		ids := make([]string, len(titles))
		for j, title := range titles {
			ids[j] = recs[title]
		}
		testutil.SubmitTestBallot(t, h.db, roundID, pid, ids...)
	}

	vr, err := h.closer.Close(context.Background(), roundID, TriggerOrganizer)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if vr.Status != models.RoundClosed {
		t.Errorf("Expected closed round, got %s", vr.Status)
	}
	if vr.WinnerID == nil || *vr.WinnerID != recs["B"] {
		t.Fatalf("Expected B to win, got %v", vr.WinnerID)
	}

	res := vr.Results
	if len(res.Rounds) != 2 {
		t.Fatalf("Expected 2 rounds, got %d", len(res.Rounds))
	}
	first := res.Rounds[0]
	if first.Counts[recs["A"]] != 3 || first.Counts[recs["B"]] != 2 ||
		first.Counts[recs["C"]] != 1 || first.Counts[recs["D"]] != 1 {
		t.Errorf("Unexpected first round counts: %v", first.Counts)
	}
	if len(first.Eliminated) != 2 {
		t.Errorf("Expected C and D eliminated together, got %v", first.Eliminated)
	}
	second := res.Rounds[1]
	if second.Counts[recs["A"]] != 3 || second.Counts[recs["B"]] != 4 {
		t.Errorf("Unexpected second round counts: %v", second.Counts)
	}

	// Winner finalizes the trip
	var status string
	h.db.QueryRow("SELECT status FROM trip WHERE id = $1", tripID).Scan(&status)
	if status != models.TripFinalized {
		t.Errorf("Expected trip finalized, got %s", status)
	}

	// Stored copy matches what Close returned
	stored, err := roundByID(context.Background(), h.db, roundID)
	if err != nil {
		t.Fatalf("roundByID: %v", err)
	}
	if stored.Results == nil || stored.Results.Winner != recs["B"] {
		t.Errorf("Stored results do not match: %+v", stored.Results)
	}
	if stored.Version != 1 {
		t.Errorf("Expected version 1 after close, got %d", stored.Version)
	}

	var audits int
	h.db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE trip_id = $1 AND event_type = $2",
		tripID, models.EventVoteResultsFinalized).Scan(&audits)
	if audits != 1 {
		t.Errorf("Expected 1 finalized audit row, got %d", audits)
	}

	if got := h.events.count(); got != 1 {
		t.Errorf("Expected 1 published event, got %d", got)
	}
	if n, err := promtestutil.GatherAndCount(h.registry, "packvote_vote_rounds_closed_total"); err != nil || n != 1 {
		t.Errorf("Expected one rounds_closed series, got %d (%v)", n, err)
	}
}

func TestRoundCloserNoBallots(t *testing.T) {
	tripID, roundID, _, h := votingTrip(t, "A", "B")

	vr, err := h.closer.Close(context.Background(), roundID, TriggerOrganizer)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if vr.Results.Outcome != tally.OutcomeNoBallots {
		t.Errorf("Expected no_ballots, got %s", vr.Results.Outcome)
	}
	if vr.WinnerID != nil {
		t.Errorf("Expected no winner, got %s", *vr.WinnerID)
	}

	// No winner keeps the trip in voting so a runoff can follow
	var status string
	h.db.QueryRow("SELECT status FROM trip WHERE id = $1", tripID).Scan(&status)
	if status != models.TripVoting {
		t.Errorf("Expected trip to stay in voting, got %s", status)
	}
}

func TestRoundCloserRejectsSecondClose(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B")
	pid, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	testutil.SubmitTestBallot(t, h.db, roundID, pid, recs["A"])

	ctx := context.Background()
	if _, err := h.closer.Close(ctx, roundID, TriggerOrganizer); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	var before string
	h.db.QueryRow("SELECT results FROM vote_round WHERE id = $1", roundID).Scan(&before)

	_, err := h.closer.Close(ctx, roundID, TriggerOrganizer)
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("Expected ErrRoundClosed, got %v", err)
	}

	var after string
	var version int
	h.db.QueryRow("SELECT results, version FROM vote_round WHERE id = $1", roundID).Scan(&after, &version)
	if after != before {
		t.Error("Stored results changed after rejected close")
	}
	if version != 1 {
		t.Errorf("Expected version to stay 1, got %d", version)
	}
	if got := h.events.count(); got != 1 {
		t.Errorf("Expected a single event, got %d", got)
	}

	expected := `
# HELP packvote_vote_round_close_rejected_total Close attempts rejected, by reason.
# TYPE packvote_vote_round_close_rejected_total counter
packvote_vote_round_close_rejected_total{reason="already_closed"} 1
`
	if err := promtestutil.GatherAndCompare(h.registry, strings.NewReader(expected), "packvote_vote_round_close_rejected_total"); err != nil {
		t.Errorf("Unexpected rejection metric: %v", err)
	}
}

func TestRoundCloserConcurrentClose(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B")
	pid, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	testutil.SubmitTestBallot(t, h.db, roundID, pid, recs["B"])

	var closed, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := h.closer.Close(context.Background(), roundID, TriggerOrganizer)
			switch {
			case err == nil:
				closed.Add(1)
			case errors.Is(err, ErrRoundClosed), errors.Is(err, ErrRoundConflict):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}

	if closed.Load() != 1 {
		t.Errorf("Expected exactly one successful close, got %d", closed.Load())
	}
	if rejected.Load() != 7 {
		t.Errorf("Expected 7 rejected closes, got %d", rejected.Load())
	}
}

func TestCloseIfComplete(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B")
	org, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Org", models.RoleOrganizer)
	trav, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	testutil.CreateTestParticipant(t, h.db, tripID, "Watcher", models.RoleViewer)

	ctx := context.Background()
	testutil.SubmitTestBallot(t, h.db, roundID, org, recs["A"])

	closed, err := h.closer.CloseIfComplete(ctx, tripID, roundID)
	if err != nil {
		t.Fatalf("CloseIfComplete: %v", err)
	}
	if closed {
		t.Fatal("Round closed before every traveler voted")
	}

	// Viewers never count toward completion
	testutil.SubmitTestBallot(t, h.db, roundID, trav, recs["A"])
	closed, err = h.closer.CloseIfComplete(ctx, tripID, roundID)
	if err != nil {
		t.Fatalf("CloseIfComplete: %v", err)
	}
	if !closed {
		t.Fatal("Expected round to close once all eligible participants voted")
	}

	vr, _ := roundByID(ctx, h.db, roundID)
	if vr.Status != models.RoundClosed {
		t.Errorf("Expected closed status, got %s", vr.Status)
	}

	h.events.mu.Lock()
	trigger := h.events.events[0].Trigger
	h.events.mu.Unlock()
	if trigger != TriggerAuto {
		t.Errorf("Expected trigger %s, got %s", TriggerAuto, trigger)
	}
}

func TestLoadVoteRound(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "Lisbon", "Kyoto")
	pid, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	testutil.SubmitTestBallot(t, h.db, roundID, pid, recs["Kyoto"])

	vr, err := LoadVoteRound(context.Background(), h.db, roundID)
	if err != nil {
		t.Fatalf("LoadVoteRound: %v", err)
	}
	if vr.Status != models.RoundOpen || vr.Results != nil || vr.BallotCount != 1 {
		t.Errorf("Unexpected open round %+v", vr)
	}

	if _, err := h.closer.Close(context.Background(), roundID, TriggerOrganizer); err != nil {
		t.Fatalf("Close: %v", err)
	}
	vr, err = LoadVoteRound(context.Background(), h.db, roundID)
	if err != nil {
		t.Fatalf("LoadVoteRound after close: %v", err)
	}
	if vr.Results == nil || vr.Results.Winner != recs["Kyoto"] {
		t.Errorf("Expected stored Kyoto win, got %+v", vr.Results)
	}

	if _, err := LoadVoteRound(context.Background(), h.db, "missing"); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("Expected ErrRoundNotFound, got %v", err)
	}
}

func TestCloseIfCompleteLoneOrganizer(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B")
	org, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Org", models.RoleOrganizer)
	testutil.SubmitTestBallot(t, h.db, roundID, org, recs["A"])

	closed, err := h.closer.CloseIfComplete(context.Background(), tripID, roundID)
	if err != nil {
		t.Fatalf("CloseIfComplete: %v", err)
	}
	if closed {
		t.Fatal("Round closed before a second voter could join")
	}
}

// A caller that joins an attempt which counted ballots before its own
// ballot committed must still close the round.
func TestCloseIfCompleteRechecksAfterSharedAttempt(t *testing.T) {
	tripID, roundID, recs, h := votingTrip(t, "A", "B")
	ana, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Ana", models.RoleTraveler)
	rui, _ := testutil.CreateTestParticipant(t, h.db, tripID, "Rui", models.RoleTraveler)
	testutil.SubmitTestBallot(t, h.db, roundID, ana, recs["A"])

	// An attempt in flight that already saw only Ana's ballot
	release := make(chan struct{})
	inFlight := make(chan struct{})
	go h.closer.group.Do(roundID, func() (any, error) {
		close(inFlight)
		<-release
		return false, nil
	})
	<-inFlight

	testutil.SubmitTestBallot(t, h.db, roundID, rui, recs["B"])

	result := make(chan bool, 1)
	errs := make(chan error, 1)
	go func() {
		closed, err := h.closer.CloseIfComplete(context.Background(), tripID, roundID)
		errs <- err
		result <- closed
	}()

	// Let the caller join the stale attempt before it finishes
	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-errs; err != nil {
		t.Fatalf("CloseIfComplete: %v", err)
	}
	if !<-result {
		t.Fatal("Expected the round to close after the last ballot")
	}
	vr, err := roundByID(context.Background(), h.db, roundID)
	if err != nil {
		t.Fatalf("roundByID: %v", err)
	}
	if vr.Status != models.RoundClosed {
		t.Errorf("Expected closed status, got %s", vr.Status)
	}
}
