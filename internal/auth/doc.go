// Package auth is the console's credential and session gateway.
//
// Accounts are identified by email address. The gateway provides:
//   - Argon2id password hashing
//   - HS256 JWT access tokens, validated by signature only
//   - Opaque refresh tokens stored as SHA-256 hashes, rotated on every
//     refresh with family-based reuse detection
//   - Single-use password reset tokens, also stored hashed
//   - A sliding-window sign-in rate limiter per email address
//
// Session changes (sign-in, sign-out, refresh, recovery, password update)
// are broadcast to observers registered with Gateway.OnSessionChange.
package auth
