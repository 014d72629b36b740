package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// BootstrapAdmin ensures an admin account exists for the given key. Safe to
// run on every startup; an existing row wins.
func (s *PostgresStore) BootstrapAdmin(ctx context.Context, adminKey string, balance int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, user_key, username, is_admin, esh)
		 VALUES ($1, $2, 'admin', TRUE, $3)
		 ON CONFLICT (user_key) DO NOTHING`,
		uuid.New().String(), adminKey, balance)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}
