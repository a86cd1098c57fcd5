// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics exposes Prometheus collectors for voting activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "packvote"

// Close rejection reasons
const (
	ReasonAlreadyClosed  = "already_closed"
	ReasonVersionChanged = "version_changed"
)

// Metrics groups the collectors recorded by the handlers. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ballotsSubmitted *prometheus.CounterVec
	roundsClosed     *prometheus.CounterVec
	closeRejected    *prometheus.CounterVec
	tallyRounds      prometheus.Histogram
	tallyDuration    prometheus.Histogram
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ballotsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ballots_submitted_total",
				Help:      "Ballots accepted, split by first submission or edit.",
			},
			[]string{"kind"},
		),
		roundsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vote_rounds_closed_total",
				Help:      "Vote rounds closed, by trigger and tally outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		closeRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vote_round_close_rejected_total",
				Help:      "Close attempts rejected, by reason.",
			},
			[]string{"reason"},
		),
		tallyRounds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tally_rounds",
				Help:      "Elimination rounds executed per tally.",
				Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
			},
		),
		tallyDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tally_duration_seconds",
				Help:      "Time spent computing a ranked-choice tally.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
	}
}

// BallotSubmitted counts an accepted ballot.
func (m *Metrics) BallotSubmitted(isUpdate bool) {
	if m == nil {
		return
	}
	kind := "new"
	if isUpdate {
		kind = "edit"
	}
	m.ballotsSubmitted.WithLabelValues(kind).Inc()
}

// RoundClosed records a successful close.
func (m *Metrics) RoundClosed(trigger, outcome string, rounds int, took time.Duration) {
	if m == nil {
		return
	}
	m.roundsClosed.WithLabelValues(trigger, outcome).Inc()
	m.tallyRounds.Observe(float64(rounds))
	m.tallyDuration.Observe(took.Seconds())
}

// CloseRejected records a close attempt that lost to an earlier close
// (ReasonAlreadyClosed) or to a concurrent ballot (ReasonVersionChanged).
func (m *Metrics) CloseRejected(reason string) {
	if m == nil {
		return
	}
	m.closeRejected.WithLabelValues(reason).Inc()
}
