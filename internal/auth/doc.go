// Package auth is the optional account layer: an in-memory user store
// hashing credentials with bcrypt, and an HMAC token issuer whose
// tokens the relay accepts during the handshake when --require-auth is
// set.
//
// Everything here lives in memory. Accounts and (by default) token
// secrets die with the process; the server persists nothing.
package auth
