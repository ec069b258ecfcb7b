package types

import "errors"

// Shared failure taxonomy. Services wrap these with context via %w so
// handlers can map them to status codes with errors.Is.
var (
	// ErrInsufficientFunds: available balance below the requested reserve
	// or withdrawal. User-correctable.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState: entity is not in the expected state for the
	// requested transition. Usually a lost race ("already processed").
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound: unknown entity id (or not owned by the caller).
	ErrNotFound = errors.New("not found")

	// ErrBonusUnavailable: no active, unexpired grant with enough balance
	// to absorb the requested loss.
	ErrBonusUnavailable = errors.New("bonus unavailable")

	// ErrInvariantViolation: a release/settle would drive a ledger field
	// negative. Must never happen with correct callers; treated as fatal
	// for the affected entity, never surfaced as a user error.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrUpstreamUnavailable: durable store or price feed failure.
	// Retried with backoff at the boundary for user-initiated calls.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
