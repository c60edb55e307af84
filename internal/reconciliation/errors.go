package reconciliation

import "errors"

// ErrHashMismatch is returned when a client-submitted proposal's
// safeTxHash does not match the hash recomputed from its own fields.
var ErrHashMismatch = errors.New("submitted safeTxHash does not match recomputed hash")

// ErrUnauthorizedProposer is returned when a proposal's sender is
// neither a current owner of the Safe nor an authorized delegate.
var ErrUnauthorizedProposer = errors.New("proposer is not an owner or authorized delegate")

// ErrNotOwner is returned when a confirmation's recovered signer is not
// a current owner of the Safe.
var ErrNotOwner = errors.New("signer is not a current safe owner")

// ErrDuplicateConfirmation is returned when a (safeTxHash, owner) pair
// already has a recorded confirmation.
var ErrDuplicateConfirmation = errors.New("confirmation already recorded for this owner")

// ErrMalformedSignature is returned when a signature blob can't be
// split into whole 65-byte chunks, or an individual chunk's recovery
// fails.
var ErrMalformedSignature = errors.New("malformed safe signature")

// ErrUnknownSafe is returned when reconciliation is attempted against a
// Safe address this service has never indexed a SafeContract for.
var ErrUnknownSafe = errors.New("safe contract not known to this indexer")
