package wallet

import "errors"

// Operation failures surfaced to callers. All are plain return values: none
// of them leaves a partial mutation behind.
var (
	ErrNotFound          = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUsernameTaken     = errors.New("username is already taken")
	ErrProtectedUser     = errors.New("cannot delete an admin user")
)
