// Package auth provides the constant-time comparison the connection FSM
// uses to check an echoed challenge against the one it issued.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import "crypto/subtle"

// ChallengeEqual reports whether got matches want in constant time,
// avoiding a timing signal about how much of the challenge matched.
// Unequal lengths are never equal.
func ChallengeEqual(want, got []byte) bool {
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
