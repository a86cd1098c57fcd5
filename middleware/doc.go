// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs method, path, final status and duration_ms once the handler returns.

# CORS Middleware

Enable cross-origin requests for the trip-planner frontend:

	server := http.Server{
		Handler: middleware.CORS(cfg.AllowedOrigins, mux),
	}

An empty origin list allows any origin. Allowed headers are Content-Type,
X-Admin-Key and X-Participant-Token.

# Rate Limiting

Join and ballot endpoints are limited per client IP:

	rl := middleware.NewRateLimiter(cfg.BallotRate)
	mux.HandleFunc("POST /trips/{slug}/ballots", rl.Limit(h.SubmitBallot))

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

Parse and validate JSON request bodies:

	var req models.CreateTripRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

# Client IP Extraction

Get the original client IP (handles X-Forwarded-For, X-Real-IP):

	ip := middleware.GetClientIP(r)

Used for rate limiting and ballot IP hashing.
*/
package middleware
