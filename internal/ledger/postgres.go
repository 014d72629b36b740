package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/eshcamp/esh/internal/models"
)

// PostgresStore implements Store on top of a *sql.DB using the pgx stdlib
// driver. Row-level exclusivity comes from SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

const userColumns = "user_id, user_key, username, is_admin, esh"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var username sql.NullString
	if err := row.Scan(&u.UserID, &u.UserKey, &username, &u.IsAdmin, &u.Esh); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if username.Valid {
		u.Username = &username.String
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByKey(ctx context.Context, userKey string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_key = $1`, userKey)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username IS NOT NULL
		 ORDER BY esh DESC, username
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

// WithTx begins a transaction, runs fn against it and commits. Any error from
// fn rolls the whole transaction back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) CreateUser(ctx context.Context, user models.User) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (user_id, user_key, username, is_admin, esh)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.UserID, user.UserKey, user.Username, user.IsAdmin, user.Esh)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (t *postgresTx) BalanceForUpdate(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT esh FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

func (t *postgresTx) AddBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE users SET esh = esh + $1 WHERE user_id = $2 RETURNING esh`,
		delta, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

func (t *postgresTx) UsernameTaken(ctx context.Context, username, excludeUserID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE username ILIKE $1 AND user_id != $2`,
		username, excludeUserID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}

func (t *postgresTx) SetUsername(ctx context.Context, userID, username string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET username = $1 WHERE user_id = $2`, username, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) DeleteUser(ctx context.Context, userID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
