// Package session is the refresh-token ledger: one Redis row per issued
// refresh token, moving Active -> Revoked (terminal) or Active -> Expired
// (terminal, time-based). Redeeming a row revokes it and opens its
// successor in a single Lua script, so two concurrent redeems of the same
// token can never both succeed. Revoked rows are kept as tombstones until
// their natural expiry so that replaying an already-rotated token is
// recognized as reuse rather than reported as merely invalid.
package session
