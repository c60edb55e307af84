package statemachine

import "errors"

// ErrMalformedArguments is returned when a decoded call's arguments do
// not match the shape the transition function expects for its function
// name (spec.md section 4.4's "malformed arguments" failure mode).
// ReplaySafe stops at the failing call and logs it; that call stays
// unprocessed, and no out-of-order flag is stored for the Safe.
var ErrMalformedArguments = errors.New("malformed decoded call arguments")

// ErrSafeCorrupted marks a Safe whose replayed state disagrees with an
// authoritative on-chain spot-check, or whose SafeStatus series has a
// nonce gap. ReplayAll logs it; the Safe's derived state is not wiped
// and no reindex is started.
var ErrSafeCorrupted = errors.New("safe state corrupted, reindex required")
