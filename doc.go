// Package authcore implements an authentication and session token
// lifecycle engine: credential verification with lockout bookkeeping,
// signed token issuance, refresh token rotation with reuse detection,
// single-use reset and verification tokens, and multi-session
// enumeration and revocation.
//
// The [Engine] is the orchestrator. It composes a [CredentialStore]
// (relational persistence of principals), a [Hasher] (Argon2id by
// default), a token signer, and a Redis-backed session ledger. Build
// one with [New]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithCredentialStore(store).
//		Build()
//
// All engine methods are safe for concurrent use. Failure outcomes are
// sentinel errors (ErrInvalidCredentials, ErrAccountLocked,
// ErrTokenReused, ...) so callers branch with errors.Is.
package authcore
