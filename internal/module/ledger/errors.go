package ledger

import "errors"

// Ledger error kinds. LimitExceeded and SubscriptionInactive are expected
// business outcomes, not system failures; StoreUnavailable is the only
// transient error.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrLimitExceeded        = errors.New("credit limit exceeded")
	ErrSubscriptionInactive = errors.New("subscription inactive")
	ErrInvalidTier          = errors.New("invalid plan tier")
	ErrAccountExists        = errors.New("account already exists")
	ErrStoreUnavailable     = errors.New("account store unavailable")
	ErrEmailRequired        = errors.New("email is required")
)
