package model

// AccountID identifies an account row in the account store.
type AccountID string

// Account is one registered participant as read from the account store.
// The validator only ever changes Balance.
type Account struct {
	ID         AccountID
	Balance    float64
	ReferredBy *AccountID

	// LastHeartbeat is kept exactly as stored; it is parsed during evaluation
	// so a malformed value only affects this account.
	LastHeartbeat *string

	// Buff expiry markers as the store returned them: nil, an epoch-millisecond
	// number, or a string (digits or ISO-8601).
	RelayExpiry   any
	BoosterExpiry any
	BotnetExpiry  any

	// DecodeErr is set when the row could not be fully decoded. Such an account
	// still counts toward its referrer but is never paid.
	DecodeErr error
}
