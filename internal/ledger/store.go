package ledger

import (
	"context"
	"errors"

	"github.com/eshcamp/esh/internal/models"
)

// ErrNotFound is returned when a referenced user does not exist. Callers
// match it with errors.Is.
var ErrNotFound = errors.New("user not found")

// ErrDeadlock is returned when a transaction gives up waiting for a row lock.
// Postgres detects lock cycles server-side and aborts one transaction; the
// in-memory store approximates that with a bounded wait. Either way the
// transaction rolls back and the error reaches the caller.
var ErrDeadlock = errors.New("deadlock detected")

// Store is the durable user ledger. Plain reads run outside any transaction;
// every balance-changing operation goes through WithTx so that debits and
// credits commit or roll back together.
type Store interface {
	// GetUserByKey resolves a secret credential to a user.
	GetUserByKey(ctx context.Context, userKey string) (*models.User, error)
	// GetUserByID fetches a user by public identifier.
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	// ListUsers returns every user ordered by username.
	ListUsers(ctx context.Context) ([]models.User, error)
	// Leaderboard returns up to limit named users ordered by balance
	// descending, ties broken by username.
	Leaderboard(ctx context.Context, limit int) ([]models.User, error)
	// WithTx runs fn inside a transaction. If fn returns an error the
	// transaction rolls back and the error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a scoped ledger transaction. BalanceForUpdate takes a row-level
// exclusive lock: no other transaction can read-for-update or modify that
// user until this one commits or rolls back.
type Tx interface {
	CreateUser(ctx context.Context, user models.User) error
	// BalanceForUpdate reads a user's balance under an exclusive row lock.
	BalanceForUpdate(ctx context.Context, userID string) (int64, error)
	// AddBalance applies a delta and returns the new balance.
	AddBalance(ctx context.Context, userID string, delta int64) (int64, error)
	// UsernameTaken reports whether any user other than excludeUserID
	// already holds username, compared case-insensitively.
	UsernameTaken(ctx context.Context, username, excludeUserID string) (bool, error)
	SetUsername(ctx context.Context, userID, username string) error
	DeleteUser(ctx context.Context, userID string) error
}
