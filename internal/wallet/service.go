// Package wallet applies every balance-changing operation against the ledger
// and pushes the resulting state to connected clients.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/ledger"
	"github.com/eshcamp/esh/internal/models"
)

const (
	// StartingBalance is granted to every minted account.
	StartingBalance int64 = 100
	// LeaderboardSize caps the public leaderboard.
	LeaderboardSize = 10
)

// Service is the transfer protocol. Atomicity lives in the ledger
// transaction; broadcasts always happen after commit so a delivery failure
// can never roll back money that already moved.
type Service struct {
	store       ledger.Store
	broadcaster events.Broadcaster
}

// NewService wires the wallet against a ledger and a broadcaster.
func NewService(store ledger.Store, broadcaster events.Broadcaster) *Service {
	return &Service{store: store, broadcaster: broadcaster}
}

// Mint creates a new account with a fresh credential pair and the starting
// balance, then announces the updated user list.
func (s *Service) Mint(ctx context.Context) (*models.User, error) {
	user := models.User{
		UserID:  uuid.New().String(),
		UserKey: uuid.New().String(),
		Esh:     StartingBalance,
	}
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("mint account: %w", err)
	}

	log.Info().Str("user_id", user.UserID).Msg("account minted")
	s.broadcastUsers(ctx)
	return &user, nil
}

// Adjust applies an admin delta to one user's balance and returns the new
// balance. No lower bound: admins may drive a balance negative.
func (s *Service) Adjust(ctx context.Context, userID string, delta int64) (int64, error) {
	var newBalance int64
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		balance, err := tx.AddBalance(ctx, userID, delta)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("adjust balance: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Int64("delta", delta).
		Int64("new_balance", newBalance).
		Msg("balance adjusted")

	s.broadcaster.Broadcast(events.NewCoinsUpdate(userID, newBalance))
	s.broadcastLeaderboard(ctx)
	s.broadcastUsers(ctx)
	return newBalance, nil
}

// Transfer moves amount from one user to another. The optimistic balance
// check is re-verified against a locked read inside the transaction; without
// that re-check two concurrent transfers could both pass the first check and
// overdraw the sender.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID string, amount int64) (fromBalance, toBalance int64, err error) {
	if amount <= 0 || fromUserID == toUserID {
		return 0, 0, ErrInvalidAmount
	}

	sender, err := s.store.GetUserByID(ctx, fromUserID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("load sender: %w", err)
	}
	if sender.Esh < amount {
		return 0, 0, ErrInsufficientFunds
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		locked, err := tx.BalanceForUpdate(ctx, fromUserID)
		if err != nil {
			return err
		}
		if locked < amount {
			return ErrInsufficientFunds
		}
		fromBalance, err = tx.AddBalance(ctx, fromUserID, -amount)
		if err != nil {
			return err
		}
		toBalance, err = tx.AddBalance(ctx, toUserID, amount)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			return 0, 0, ErrInsufficientFunds
		case errors.Is(err, ledger.ErrNotFound):
			return 0, 0, ErrNotFound
		default:
			return 0, 0, fmt.Errorf("transfer: %w", err)
		}
	}

	log.Info().
		Str("from", fromUserID).
		Str("to", toUserID).
		Int64("amount", amount).
		Msg("transfer committed")

	s.broadcaster.Broadcast(events.NewCoinsUpdate(fromUserID, fromBalance))
	s.broadcaster.Broadcast(events.NewCoinsUpdate(toUserID, toBalance))
	s.broadcastLeaderboard(ctx)
	s.broadcastUsers(ctx)
	return fromBalance, toBalance, nil
}

// SetUsername claims a username for the user. Uniqueness is case-insensitive,
// checked against committed rows inside the claiming transaction; two
// simultaneous claims of the same name can in principle both pass the check,
// as there is no unique index on username.
func (s *Service) SetUsername(ctx context.Context, userID, username string) error {
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		taken, err := tx.UsernameTaken(ctx, username, userID)
		if err != nil {
			return err
		}
		if taken {
			return ErrUsernameTaken
		}
		return tx.SetUsername(ctx, userID, username)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			return ErrUsernameTaken
		case errors.Is(err, ledger.ErrNotFound):
			return ErrNotFound
		default:
			return fmt.Errorf("set username: %w", err)
		}
	}

	log.Info().Str("user_id", userID).Str("username", username).Msg("username claimed")
	s.broadcastUsers(ctx)
	s.broadcastLeaderboard(ctx)
	return nil
}

// Delete removes a non-admin account.
func (s *Service) Delete(ctx context.Context, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.IsAdmin {
		return ErrProtectedUser
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	log.Info().Str("user_id", userID).Msg("user deleted")
	s.broadcastUsers(ctx)
	s.broadcastLeaderboard(ctx)
	return nil
}

// broadcastUsers pushes the full user list. A read failure here is logged and
// swallowed: the triggering operation already committed.
func (s *Service) broadcastUsers(ctx context.Context) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load users for broadcast")
		return
	}
	s.broadcaster.Broadcast(events.NewUsersUpdate(users))
}

func (s *Service) broadcastLeaderboard(ctx context.Context) {
	top, err := s.store.Leaderboard(ctx, LeaderboardSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to load leaderboard for broadcast")
		return
	}
	s.broadcaster.Broadcast(events.NewLeaderboard(top))
}
