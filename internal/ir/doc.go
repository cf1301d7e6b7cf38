// Package ir holds the value model and shared record types of livedoc.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Constraints:
//   - no float types anywhere; numbers are int64
//   - every persisted or pushed byte sequence is canonical JSON (RFC 8785)
//   - patches are RFC 7386 merge patches over IRObject
package ir
