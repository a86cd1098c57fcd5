// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package tally implements the ranked-choice (instant-runoff) tally used to
pick a trip destination.

# Usage

	result, err := tally.Run(candidates, ballots)
	if err != nil {
		// structurally invalid input
	}
	if !result.HasWinner() {
		// no_ballots or no_consensus
	}

# Algorithm

Each round, every ballot counts toward its highest-ranked candidate that is
still active. Ballots with no active candidate left are exhausted for that
round. A candidate with strictly more than half of the counted ballots wins.
Otherwise every candidate sharing the lowest count is eliminated together
and the next round is counted.

A lone remaining candidate wins by default. When the last candidates are
tied they are all eliminated and the result has no winner; callers report
this as "no consensus".

# Rounds

Result.Rounds is the audit trail. Each Round carries a count for every
candidate active in that round (zeros included), the number of exhausted
ballots, and the candidates eliminated after it. Rounds are never rewritten
once appended.

# Stale Ballots

Ballot entries that are not in the candidate set are ignored. This happens
after a runoff narrows the field: old rankings still name candidates that
are no longer eligible.

# Runoffs

TopCandidates picks the leaders of the final round. Pass them back into Run
to tally a follow-up vote over the narrowed field:

	next := tally.TopCandidates(result, 2)
	runoff, err := tally.Run(next, runoffBallots)
*/
package tally
