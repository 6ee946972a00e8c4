// Package notify delivers reset and verification tokens out-of-band.
// The engine treats delivery as best-effort: a failing sender never
// fails the request that minted the token.
package notify

import "context"

// NoOp discards every message. Useful in tests and prototypes.
type NoOp struct{}

func (NoOp) Send(context.Context, string, string, string) error { return nil }
