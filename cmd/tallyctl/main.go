// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package main provides tallyctl, an offline companion to the Pack Vote
// server. It tallies ballot files and recounts stored vote rounds.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielhkuo/packvote/db"
	"github.com/danielhkuo/packvote/handlers"
	"github.com/danielhkuo/packvote/models"
	"github.com/danielhkuo/packvote/tally"
)

var errMismatch = errors.New("recount does not match stored results")

// ballotFile is the input of "tallyctl run". JSON files parse too.
type ballotFile struct {
	Candidates []string   `yaml:"candidates"`
	Ballots    [][]string `yaml:"ballots"`
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tallyctl",
		Short:         "Tally ranked ballots offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd(), recountCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tally a YAML or JSON ballot file",
		Long: `Run reads candidates and ballots from a file and prints every
elimination round of the instant-runoff tally.

  candidates: [lisbon, kyoto, oaxaca]
  ballots:
    - [kyoto, lisbon]
    - [oaxaca]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadBallotFile(path)
			if err != nil {
				return err
			}
			res, err := tally.Run(in.Candidates, toBallots(in.Ballots))
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "Ballot file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func recountCmd() *cobra.Command {
	var roundID, dbType, dbURL string

	cmd := &cobra.Command{
		Use:   "recount",
		Short: "Recompute a closed vote round from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(dbType, dbURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			fresh, err := recount(cmd.Context(), conn, roundID)
			if err != nil && !errors.Is(err, errMismatch) {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), fresh); err != nil {
				return err
			}
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "MISMATCH: stored results differ")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK: stored results match")
			return nil
		},
	}

	cmd.Flags().StringVar(&roundID, "round", "", "Vote round ID")
	cmd.Flags().StringVarP(&dbType, "type", "t", envOr("DATABASE_TYPE", "sqlite"), "Database type (sqlite or postgres)")
	cmd.Flags().StringVarP(&dbURL, "db", "d", os.Getenv("DATABASE_URL"), "Database URL")
	_ = cmd.MarkFlagRequired("round")
	return cmd
}

// recount re-tallies a closed round and compares it with the stored result.
// The fresh result is returned even on mismatch.
func recount(ctx context.Context, q handlers.Querier, roundID string) (tally.Result, error) {
	vr, err := handlers.LoadVoteRound(ctx, q, roundID)
	if err != nil {
		return tally.Result{}, err
	}
	if vr.Status != models.RoundClosed || vr.Results == nil {
		return tally.Result{}, fmt.Errorf("round %s is still open", roundID)
	}

	candidates, ballots, err := handlers.LoadVoteRoundInput(ctx, q, roundID)
	if err != nil {
		return tally.Result{}, err
	}
	fresh, err := tally.Run(candidates, ballots)
	if err != nil {
		return tally.Result{}, fmt.Errorf("tally round %s: %w", roundID, err)
	}

	// Compare the stored encoding; map keys marshal in sorted order.
	stored, err := json.Marshal(vr.Results)
	if err != nil {
		return fresh, err
	}
	got, err := json.Marshal(fresh)
	if err != nil {
		return fresh, err
	}
	if !bytes.Equal(stored, got) {
		return fresh, errMismatch
	}
	return fresh, nil
}

func loadBallotFile(path string) (ballotFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ballotFile{}, fmt.Errorf("read ballot file: %w", err)
	}

	var in ballotFile
	if err := yaml.Unmarshal(data, &in); err != nil {
		return ballotFile{}, fmt.Errorf("parse ballot file %s: %w", path, err)
	}
	return in, nil
}

func toBallots(raw [][]string) []tally.Ballot {
	out := make([]tally.Ballot, len(raw))
	for i, b := range raw {
		out[i] = tally.Ballot(b)
	}
	return out
}

func printResult(w io.Writer, res tally.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, round := range res.Rounds {
		fmt.Fprintf(tw, "%s round: %s ballots, %s exhausted\n",
			humanize.Ordinal(round.Number),
			humanize.Comma(int64(round.Total())),
			humanize.Comma(int64(round.Exhausted)))

		ids := make([]string, 0, len(round.Counts))
		for id := range round.Counts {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b string) int {
			if d := round.Counts[b] - round.Counts[a]; d != 0 {
				return d
			}
			return strings.Compare(a, b)
		})
		for _, id := range ids {
			fmt.Fprintf(tw, "  %s\t%s\n", id, humanize.Comma(int64(round.Counts[id])))
		}
		if len(round.Eliminated) > 0 {
			fmt.Fprintf(tw, "  eliminated:\t%s\n", strings.Join(round.Eliminated, ", "))
		}
	}

	switch res.Outcome {
	case tally.OutcomeWinner:
		fmt.Fprintf(tw, "Winner: %s\n", res.Winner)
	case tally.OutcomeNoBallots:
		fmt.Fprintln(tw, "No ballots cast")
	default:
		fmt.Fprintln(tw, "No consensus")
	}
	return tw.Flush()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
