// Package jwt issues and verifies the signed, purpose-scoped tokens used
// throughout the engine: short-lived access tokens, refresh tokens bound
// to a session ledger row, and single-use reset/verification tokens.
//
// A token's signature is self-contained and verifiable without a database
// round-trip. Purpose-scoped tokens (refresh, reset, verify) must
// additionally be checked against server-side ledger state by the caller,
// because signature validity alone does not prove a token has not been
// revoked or consumed.
package jwt
