// Package session keeps per-user conversation state behind an atomic, TTL-bound store.
//
// A Manager owns the JSON encoding of Session values and the per-user locking; a Backend only
// provides atomic read-modify-write over opaque records. Memory and SQL backends are provided.
package session
