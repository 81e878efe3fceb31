package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Engine / persistence errors
var (
	ErrBotNotFound           = errors.New("bot not found")
	ErrCycleNotFound         = errors.New("cycle not found")
	ErrCycleConflict         = errors.New("bot already has an active cycle")
	ErrCycleBudgetExhausted  = errors.New("cycle budget exhausted")
	ErrUpperPriceLimitActive = errors.New("market price above upper price limit")
	ErrCorruptState          = errors.New("corrupt persisted state")
)

// IsTransient reports whether err is worth retrying: network trouble,
// rate limiting, venue maintenance, or clock skew rejections.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrExchangeMaintenance) ||
		errors.Is(err, ErrSystemOverload) ||
		errors.Is(err, ErrTimestampOutOfBounds)
}

// IsValidation reports whether the exchange refused the request itself
// (filters, notional, precision). Retrying the same request cannot help.
func IsValidation(err error) bool {
	return errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, ErrInvalidOrderParameter) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidSymbol)
}

// IsAlreadyTerminal reports whether the target order is gone or finished
// on the exchange side. Cancel and status queries fold this into success.
func IsAlreadyTerminal(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrDuplicateOrder)
}

// IsFatal reports whether the owning bot pipeline must stop: bad
// credentials or persisted state that cannot be trusted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrCorruptState)
}
