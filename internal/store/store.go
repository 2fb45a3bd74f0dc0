package store

import (
	"context"
	"errors"

	"RimValidator/internal/model"
)

// ErrNotFound is returned when an update matches no account.
var ErrNotFound = errors.New("account not found")

// AccountStore is the persistent account table the validator reads and pays into.
type AccountStore interface {
	// FetchAll returns every account, unfiltered.
	FetchAll(ctx context.Context) ([]model.Account, error)
	// UpdateBalance overwrites the balance of one account.
	UpdateBalance(ctx context.Context, id model.AccountID, balance float64) error
	Name() string
}
