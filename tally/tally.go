// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoCandidates   = errors.New("candidate set is empty")
	ErrBlankCandidate = errors.New("candidate id is blank")
	ErrInvalidBallot  = errors.New("ballot contains a blank entry")
)

// Outcome values
const (
	OutcomeWinner      = "winner"
	OutcomeNoBallots   = "no_ballots"
	OutcomeNoConsensus = "no_consensus"
)

// Ballot is one participant's ranking, highest preference first.
type Ballot []string

// Round is the immutable record of one elimination iteration.
type Round struct {
	Number     int            `json:"number"`
	Counts     map[string]int `json:"counts"`
	Exhausted  int            `json:"exhausted"`
	Eliminated []string       `json:"eliminated,omitempty"`
}

// Total returns the number of ballots that counted toward a candidate.
func (r Round) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// Result is the output of Run. Winner is empty when nobody won.
type Result struct {
	Winner  string  `json:"winner,omitempty"`
	Outcome string  `json:"outcome"`
	Rounds  []Round `json:"rounds"`
}

// HasWinner reports whether the election produced a winner.
func (r Result) HasWinner() bool {
	return r.Winner != ""
}

// Tallies returns the per-round count maps in chronological order.
func (r Result) Tallies() []map[string]int {
	out := make([]map[string]int, len(r.Rounds))
	for i, round := range r.Rounds {
		out[i] = round.Counts
	}
	return out
}

// Run tallies ballots over candidates using instant-runoff voting with batch
// elimination of every candidate tied at the lowest count.
//
// Ids in ballots that are not in candidates are ignored. Empty ballots are
// skipped. Run has no side effects and may be called concurrently.
func Run(candidates []string, ballots []Ballot) (Result, error) {
	cast := make([]Ballot, 0, len(ballots))
	for i, b := range ballots {
		for _, id := range b {
			if id == "" {
				return Result{}, fmt.Errorf("ballot %d: %w", i, ErrInvalidBallot)
			}
		}
		if len(b) > 0 {
			cast = append(cast, b)
		}
	}

	active := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if id == "" {
			return Result{}, ErrBlankCandidate
		}
		active[id] = true
	}

	if len(cast) == 0 {
		return Result{Outcome: OutcomeNoBallots, Rounds: []Round{}}, nil
	}
	if len(active) == 0 {
		return Result{}, ErrNoCandidates
	}

	// Strip stale ids up front so each round only walks live preferences.
	prefs := make([]Ballot, len(cast))
	for i, b := range cast {
		prefs[i] = stripUnknown(b, active)
	}

	result := Result{Outcome: OutcomeNoConsensus, Rounds: []Round{}}
	for len(active) > 0 {
		round := countRound(len(result.Rounds)+1, active, prefs)
		total := round.Total()

		if len(active) == 1 {
			// Sole survivor wins by default, even with zero votes.
			result.Rounds = append(result.Rounds, round)
			result.Winner = onlyKey(active)
			result.Outcome = OutcomeWinner
			return result, nil
		}
		if total == 0 {
			result.Rounds = append(result.Rounds, round)
			return result, nil
		}
		if winner, ok := majority(round.Counts, total); ok {
			result.Rounds = append(result.Rounds, round)
			result.Winner = winner
			result.Outcome = OutcomeWinner
			return result, nil
		}

		round.Eliminated = lowest(round.Counts)
		result.Rounds = append(result.Rounds, round)
		for _, id := range round.Eliminated {
			delete(active, id)
		}
	}

	return result, nil
}

// countRound records first-preference counts over the active set.
func countRound(number int, active map[string]bool, prefs []Ballot) Round {
	counts := make(map[string]int, len(active))
	for id := range active {
		counts[id] = 0
	}

	exhausted := 0
	for _, b := range prefs {
		top, ok := topChoice(b, active)
		if !ok {
			exhausted++
			continue
		}
		counts[top]++
	}

	return Round{Number: number, Counts: counts, Exhausted: exhausted}
}

func topChoice(b Ballot, active map[string]bool) (string, bool) {
	for _, id := range b {
		if active[id] {
			return id, true
		}
	}
	return "", false
}

func stripUnknown(b Ballot, known map[string]bool) Ballot {
	out := make(Ballot, 0, len(b))
	for _, id := range b {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

// majority returns the candidate holding strictly more than half of total.
func majority(counts map[string]int, total int) (string, bool) {
	for id, c := range counts {
		if c*2 > total {
			return id, true
		}
	}
	return "", false
}

// lowest returns every candidate sharing the minimum count, sorted.
func lowest(counts map[string]int) []string {
	floor := -1
	for _, c := range counts {
		if floor == -1 || c < floor {
			floor = c
		}
	}

	var out []string
	for id, c := range counts {
		if c == floor {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func onlyKey(m map[string]bool) string {
	for k := range m {
		return k
	}
	return ""
}
