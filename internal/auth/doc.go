// Package auth issues delegated identities to anonymous visitors.
//
// A visitor owns one base identity, persisted in a key-value store under its
// principal text. Every request recovers that identity through a signed
// refresh-token cookie, or mints a new one, and then hands the client a fresh
// session key together with a delegation signed by the base key. The base
// key never leaves the server.
package auth
