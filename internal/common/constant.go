// Package common contains shared constants and sentinel errors used across
// pmdash components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the session
// token on inbound calls.
const AccessTokenHeaderName = "access_token"

// Key prefixes used in the transient store.
const (
	ResetTokenKeyPrefix = "reset:"
	ChallengeKeyPrefix  = "challenge:"
)
