// Package rate provides Redis-backed fixed-window counters used to
// throttle security-sensitive requests.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// prefixes:
//   - rr: reset requests per email
//   - vr: verification requests per email
//   - li: login attempts per IP
package rate
