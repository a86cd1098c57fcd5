// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package events publishes vote round notifications for downstream
// consumers such as the messaging service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRoundClosed is suffixed with the trip ID.
const SubjectRoundClosed = "packvote.vote_round.closed"

// RoundClosed is emitted after a vote round's results are frozen.
type RoundClosed struct {
	TripID      string    `json:"trip_id"`
	VoteRoundID string    `json:"vote_round_id"`
	Winner      string    `json:"winner,omitempty"`
	Outcome     string    `json:"outcome"`
	Rounds      int       `json:"rounds"`
	Trigger     string    `json:"trigger"`
	ClosedAt    time.Time `json:"closed_at"`
}

type Publisher interface {
	PublishRoundClosed(ctx context.Context, ev RoundClosed) error
}

// Nop discards events. Used when no NATS URL is configured.
type Nop struct{}

func (Nop) PublishRoundClosed(context.Context, RoundClosed) error { return nil }

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	conn *nats.Conn
}

func ConnectNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("packvote"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) PublishRoundClosed(ctx context.Context, ev RoundClosed) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal round closed: %w", err)
	}

	if err := n.conn.Publish(SubjectRoundClosed+"."+ev.TripID, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	// FlushWithContext rejects contexts without a deadline.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages before disconnecting.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
