// Package core defines the error taxonomy shared by the validator, the
// matching engine, the cancellation path and the settlement bridge.
package core

import "errors"

var (
	// ErrMalformedOrder: a required field is missing or out of range.
	ErrMalformedOrder = errors.New("malformed order")

	// ErrInvalidSignature: signature does not recover to the declared maker.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrExpired: expiry is not strictly in the future.
	ErrExpired = errors.New("order expired")

	// ErrDuplicateSalt: (maker, salt) was already accepted or cancelled.
	ErrDuplicateSalt = errors.New("duplicate salt")

	// ErrNotFound: no order for the given id or (maker, salt).
	ErrNotFound = errors.New("order not found")

	// ErrMarketClosed: the (market, outcome) is not accepting orders.
	ErrMarketClosed = errors.New("market closed")

	// ErrBookNotFound: unknown (market, outcome) pair.
	ErrBookNotFound = errors.New("book not found")

	// ErrStorageUnavailable: the system of record failed; no book mutation
	// was committed for the operation that returns it.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ReasonCode maps an error to the machine-readable rejection code exposed on
// the API surface. Storage failures are reported generically.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedOrder):
		return "MalformedOrder"
	case errors.Is(err, ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, ErrExpired):
		return "Expired"
	case errors.Is(err, ErrDuplicateSalt):
		return "DuplicateSalt"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrMarketClosed):
		return "MarketClosed"
	case errors.Is(err, ErrBookNotFound):
		return "BookNotFound"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	default:
		return "InternalError"
	}
}
