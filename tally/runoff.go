// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import "sort"

// TopCandidates returns up to n candidates from the last recorded round,
// ordered by count descending and then by id. It is the input for a runoff:
// the caller passes the returned ids back into Run as the narrowed field.
func TopCandidates(r Result, n int) []string {
	if n <= 0 || len(r.Rounds) == 0 {
		return nil
	}

	last := r.Rounds[len(r.Rounds)-1]
	ids := make([]string, 0, len(last.Counts))
	for id := range last.Counts {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := last.Counts[ids[i]], last.Counts[ids[j]]
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})

	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
