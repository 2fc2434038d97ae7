// Package callstore records call sessions and the caller profiles behind
// them.
//
// Phone numbers never reach storage in the clear: implementations key
// caller profiles by a SHA-256 digest of the number, so the store can
// recognise a returning caller without being able to enumerate numbers.
package callstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store registers call sessions against caller profiles.
//
// Implementations must be safe for concurrent use; calls start and end
// from independent goroutines.
type Store interface {
	// Start registers the beginning of a call. It creates a caller profile
	// for the phone number's hash if none exists yet and opens a call
	// session row, returning the session and caller identifiers used by
	// downstream components.
	Start(ctx context.Context, callUUID, phone string) (callID, callerID string, err error)

	// End marks the call session as finished. Ending an unknown or
	// already-ended call is not an error.
	End(ctx context.Context, callID string) error

	// Close releases the store's resources.
	Close() error
}

// HashPhone returns the hex-encoded SHA-256 digest of a phone number.
// All implementations key caller profiles by this digest.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
