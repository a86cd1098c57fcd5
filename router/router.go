// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/packvote/cliparse"
	"github.com/danielhkuo/packvote/events"
	"github.com/danielhkuo/packvote/handlers"
	"github.com/danielhkuo/packvote/metrics"
	"github.com/danielhkuo/packvote/middleware"
)

// NewRouter wires every endpoint. Metrics are registered on reg and served
// from it; pub receives round closed events (nil disables them).
func NewRouter(db *sql.DB, cfg cliparse.Config, reg *prometheus.Registry, pub events.Publisher) http.Handler {
	mux := http.NewServeMux()

	m := metrics.New(reg)
	closer := handlers.NewRoundCloser(db, m, pub)

	// Initialize handlers
	tripHandler := handlers.NewTripHandler(db, cfg, closer)
	votingHandler := handlers.NewVotingHandler(db, cfg, closer, m)
	resultsHandler := handlers.NewResultsHandler(db, cfg)

	// Join and ballot writes are the only unauthenticated writes
	limiter := middleware.NewRateLimiter(cfg.BallotRate)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Trip management (admin operations)
	mux.HandleFunc("POST /trips", middleware.WithLogging(tripHandler.CreateTrip))
	mux.HandleFunc("GET /trips/{id}/admin", middleware.WithLogging(tripHandler.GetTripAdmin))
	mux.HandleFunc("POST /trips/{id}/recommendations", middleware.WithLogging(tripHandler.AddRecommendation))
	mux.HandleFunc("POST /trips/{id}/publish", middleware.WithLogging(tripHandler.PublishTrip))
	mux.HandleFunc("POST /trips/{id}/vote-rounds/close", middleware.WithLogging(tripHandler.CloseVoteRound))
	mux.HandleFunc("POST /trips/{id}/vote-rounds/runoff", middleware.WithLogging(tripHandler.StartRunoff))

	// Voting operations (public)
	mux.HandleFunc("POST /trips/{slug}/join", middleware.WithLogging(limiter.Limit(votingHandler.JoinTrip)))
	mux.HandleFunc("POST /trips/{slug}/ballots", middleware.WithLogging(limiter.Limit(votingHandler.SubmitBallot)))
	mux.HandleFunc("GET /trips/{slug}/my-ballot", middleware.WithLogging(votingHandler.GetMyBallot))

	// Results retrieval (public, with sealed results)
	mux.HandleFunc("GET /trips/{slug}", middleware.WithLogging(resultsHandler.GetTrip))
	mux.HandleFunc("GET /trips/{slug}/vote-rounds/current", middleware.WithLogging(resultsHandler.GetCurrentVoteRound))
	mux.HandleFunc("GET /trips/{slug}/results", middleware.WithLogging(resultsHandler.GetResults))
	mux.HandleFunc("GET /trips/{slug}/ballot-count", middleware.WithLogging(resultsHandler.GetBallotCount))
	mux.HandleFunc("GET /trips/{slug}/preview", middleware.WithLogging(resultsHandler.GetPreview))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("packvote API v1"))
	})

	return middleware.CORS(cfg.AllowedOrigins, mux)
}
