package ledger

import "context"

// Store defines the persistence contract for accounts.
//
// Apply is the atomicity boundary: implementations must serialize Apply
// calls per account so that a concurrent check-then-increment can never
// observe a stale balance. Accounts are independent; no cross-account
// ordering is required.
type Store interface {
	// Get returns the account by ID, or ErrAccountNotFound.
	Get(ctx context.Context, id string) (*Account, error)

	// FindByAttribute returns the account holding the given secondary
	// attribute value, or ErrAccountNotFound.
	FindByAttribute(ctx context.Context, kind AttributeKind, value string) (*Account, error)

	// Create persists a new account. ErrAccountExists is returned when the
	// ID is already taken (lost registration race).
	Create(ctx context.Context, account *Account) error

	// Apply runs mutate against the current account state and persists the
	// result, serialized per account. When mutate returns an error nothing
	// is written and the error is returned unchanged.
	Apply(ctx context.Context, id string, mutate func(*Account) error) (*Account, error)
}

// EventDedup tracks processed webhook event IDs so duplicate deliveries
// can be acknowledged without reprocessing.
type EventDedup interface {
	// MarkProcessed records the event ID and reports whether it had
	// already been seen.
	MarkProcessed(ctx context.Context, eventID string) (seen bool, err error)

	// Clear forgets the event ID. Called when processing fails after the
	// mark, so the provider's retry is not swallowed as a duplicate.
	Clear(ctx context.Context, eventID string) error
}
