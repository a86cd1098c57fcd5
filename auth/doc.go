// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides key derivation and token generation for trips.

# Admin Keys

The trip organizer authenticates with an HMAC-SHA256 admin key:

	signer := auth.NewSigner(cfg.AdminKeySalt, cfg.TripSlugSalt)
	adminKey := signer.AdminKey(tripID)
	err := signer.CheckAdminKey(tripID, adminKey)

Keys are deterministic, so nothing is stored in the database.

# Participant Tokens

Each participant receives a random 192-bit token when joining a trip:

	token, err := auth.NewParticipantToken()

The token is sent in the X-Participant-Token header to submit or edit a
ballot.

# Share Slugs

Published trips get a short base62 slug for invite links:

	slug := signer.ShareSlug(tripID)

# IDs

Database records use random UUIDs:

	id := auth.NewID()

# IP Hashing

Ballots record a salted 64-bit hash of the client address:

	hash := signer.HashIP(ip)
*/
package auth
