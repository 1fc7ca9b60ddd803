package core

import "errors"

// Typed failures surfaced by mutating operations. Callers match with
// errors.Is; wrapping sites add context with fmt.Errorf and %w.
var (
	// ErrUnknownProduct: the product ID was never registered.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrDuplicateProduct: SKU or digital twin ID already registered.
	ErrDuplicateProduct = errors.New("duplicate product")

	// ErrUnknownSeller: the seller ID was never registered.
	ErrUnknownSeller = errors.New("unknown seller")

	// ErrDuplicateSeller: the seller ID is already registered.
	ErrDuplicateSeller = errors.New("duplicate seller")

	// ErrChainViolation: a supplied prevHash does not match the ledger
	// head. Fatal to that append and logged as a security event.
	ErrChainViolation = errors.New("provenance chain violation")

	// ErrBusy: the product write lock could not be acquired within the
	// configured timeout. Retryable by the caller.
	ErrBusy = errors.New("product busy")

	// ErrOracleUnavailable: the review-authenticity oracle could not be
	// reached. Degrades scoring to the insufficient-data sentinel.
	ErrOracleUnavailable = errors.New("review oracle unavailable")

	// ErrAutoActionFailed: a best-effort alert auto-action failed. The
	// alert is created anyway and marked degraded.
	ErrAutoActionFailed = errors.New("auto action failed")

	// ErrUnknownAlert: the alert ID does not exist.
	ErrUnknownAlert = errors.New("unknown alert")

	// ErrInvalidTransition: the requested alert transition is not in the
	// state machine's transition table.
	ErrInvalidTransition = errors.New("invalid alert transition")
)
