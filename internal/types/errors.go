package types

import "errors"

// Domain failures surfaced by the call/proposal engine. Services detect these
// before any mutation is attempted; pkg/response maps them to HTTP codes.
var (
	// ErrInvalidTransition means the operation is not legal from the call's or
	// proposal's current status.
	ErrInvalidTransition = errors.New("operation not allowed from current status")

	// ErrDeadlineExpired means a proposal was submitted after the call's deadline.
	ErrDeadlineExpired = errors.New("proposal deadline has expired")

	// ErrDuplicateProposal means the counterparty already has a proposal on the call.
	ErrDuplicateProposal = errors.New("counterparty already submitted a proposal for this call")

	// ErrUnknownProposal means the winning proposal id does not belong to the call.
	ErrUnknownProposal = errors.New("proposal does not belong to this call")

	// ErrInvalidAmount means a non-positive price or quantity.
	ErrInvalidAmount = errors.New("price and quantity must be positive")

	// ErrNotFound means the call or proposal id does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrStorage means the repository could not load or persist state. The
	// operation is failed-and-not-applied; retries belong to the caller.
	ErrStorage = errors.New("storage failure")
)
