// Package password provides one-way, salted password hashing built on
// Argon2id. Hashes are encoded in PHC string format so parameters travel
// with the hash, and verification is constant-time.
package password
