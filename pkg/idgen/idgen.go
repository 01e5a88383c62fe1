// Package idgen provides ID generation utilities for the application.
// It encapsulates the ID generation implementation, making it easy to change
// the underlying ID generation strategy in the future.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/rs/xid"
)

// NewID generates a new globally unique, sortable identifier.
// Returns a 20-character string using xid format.
// The generated ID is:
// - Globally unique
// - Sortable by creation time
// - URL-safe (base32 encoded)
// - 20 characters long
func NewID() string {
	return xid.New().String()
}

// NewSessionID generates a unique ID for review sessions.
// Session IDs are 12 hex characters, short enough to paste into a CLI flag.
func NewSessionID() string {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return NewID()[:12]
	}
	return hex.EncodeToString(bytes)
}

// NewIssueID generates a unique ID for Issue entities.
func NewIssueID() string {
	return NewID()
}

// NewOpinionID generates a unique ID for Opinion entities.
func NewOpinionID() string {
	return NewID()
}

// NewRequestID generates a unique ID for request tracking.
func NewRequestID() string {
	return NewID()
}

// NewAgentKey generates an opaque access token for a (session, agent) pair.
// 24 random bytes hex-encoded; not derivable from the model ID.
func NewAgentKey() string {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand never fails on supported platforms; xid keeps us unique
		return "ak-" + NewID()
	}
	return hex.EncodeToString(bytes)
}

// NewSecureSecret generates a cryptographically secure random string of specified length.
// Uses URL-safe base64 encoding.
func NewSecureSecret(length int) string {
	// Calculate the number of bytes needed (base64 encoding expands by ~4/3)
	byteLength := (length*3 + 3) / 4
	bytes := make([]byte, byteLength)

	if _, err := rand.Read(bytes); err != nil {
		// Fallback should never happen with crypto/rand, but just in case
		return "please-generate-a-secure-random-secret"
	}

	// Use URL-safe base64 encoding and trim to exact length
	encoded := base64.URLEncoding.EncodeToString(bytes)
	if len(encoded) > length {
		encoded = encoded[:length]
	}
	return encoded
}
