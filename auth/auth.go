// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrMissingToken    = errors.New("participant token required")
)

// NewID returns a random UUID string for database records.
func NewID() string {
	return uuid.NewString()
}

// Signer derives trip-scoped secrets from the configured salts.
// Admin keys and share slugs are deterministic, so neither is stored.
type Signer struct {
	adminSalt []byte
	slugSalt  []byte
}

func NewSigner(adminSalt, slugSalt string) Signer {
	return Signer{adminSalt: []byte(adminSalt), slugSalt: []byte(slugSalt)}
}

// AdminKey returns the organizer key for a trip.
func (s Signer) AdminKey(tripID string) string {
	return base64.RawURLEncoding.EncodeToString(mac(s.adminSalt, tripID))
}

// CheckAdminKey compares in constant time.
func (s Signer) CheckAdminKey(tripID, key string) error {
	if key == "" || !hmac.Equal([]byte(key), []byte(s.AdminKey(tripID))) {
		return ErrInvalidAdminKey
	}
	return nil
}

// ShareSlug returns the short public identifier used in invite links.
func (s Signer) ShareSlug(tripID string) string {
	return base62(mac(s.slugSalt, tripID)[:8])
}

// HashIP keeps 64 bits of an HMAC of the client address: enough to spot
// ballot floods without storing the address.
func (s Signer) HashIP(ip string) string {
	return hex.EncodeToString(mac(s.adminSalt, "ip:"+ip)[:8])
}

// NewParticipantToken creates the secret a participant presents when voting.
func NewParticipantToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate participant token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func mac(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62 encodes up to 8 bytes as an alphanumeric string.
func base62(data []byte) string {
	var num uint64
	for i := 0; i < len(data) && i < 8; i++ {
		num = num<<8 | uint64(data[i])
	}
	if num == 0 {
		return "0"
	}

	var buf [11]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = base62Chars[num%62]
		num /= 62
	}
	return string(buf[i:])
}
