package pay

import "errors"

// Failure kinds shared across the settlement engine. Callers match with
// errors.Is; messages carry context but the kind is what the HTTP layer
// and tests key on.
var (
	ErrInvalidRequest            = errors.New("invalid payment request")
	ErrInvalidCreator            = errors.New("creator not registered or inactive")
	ErrInvalidContent            = errors.New("content missing or inactive")
	ErrDeadlineExpired           = errors.New("intent deadline expired")
	ErrNoLiquidity               = errors.New("no liquidity for token pair")
	ErrExcessiveSlippage         = errors.New("slippage exceeds allowed bound")
	ErrUnauthorized              = errors.New("caller not authorized")
	ErrAlreadyProcessed          = errors.New("intent already processed")
	ErrAlreadySigned             = errors.New("intent already signed")
	ErrNotFound                  = errors.New("record not found")
	ErrInsufficientAuthorization = errors.New("intent not signed by operator")
	ErrCallInProgress            = errors.New("settlement call already in progress")
)
