package domain

import "errors"

var (
	ErrUnauthorized                = errors.New("unauthorized")
	ErrInvalidState                = errors.New("invalid state")
	ErrInvalidRequestStatus        = errors.New("invalid request status")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientAvailableTokens = errors.New("insufficient available tokens")
	ErrAddressBlacklisted          = errors.New("address blacklisted")
	ErrAddressNotBlacklisted       = errors.New("address not blacklisted")
	ErrCounterOverflow             = errors.New("redemption counter overflow")
	ErrAlreadyExists               = errors.New("already exists")
	ErrNotFound                    = errors.New("not found")
	ErrContractPaused              = errors.New("contract paused")
	ErrMathOverflow                = errors.New("math overflow")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidState, "InvalidState"},
	{ErrInvalidRequestStatus, "InvalidRequestStatus"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientAvailableTokens, "InsufficientAvailableTokens"},
	{ErrAddressBlacklisted, "AddressBlacklisted"},
	{ErrAddressNotBlacklisted, "AddressNotBlacklisted"},
	{ErrCounterOverflow, "CounterOverflow"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrNotFound, "NotFound"},
	{ErrContractPaused, "ContractPaused"},
	{ErrMathOverflow, "MathOverflow"},
}

// KindOf returns the taxonomy name of err, "Internal" for anything outside
// the taxonomy and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
