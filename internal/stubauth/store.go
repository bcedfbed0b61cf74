package stubauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/quizwell/authbridge/internal/stubauth/migrations"

	_ "modernc.org/sqlite"
)

// ErrTokenNotFound reports a refresh token that is unknown, already
// consumed, or expired. Callers must not distinguish the three cases.
var ErrTokenNotFound = errors.New("stubauth: refresh token not found")

// Store persists refresh token fingerprints. Raw token values are never
// written; only their SHA-256 fingerprints.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dsn and applies pending migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) applyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// CreateRefreshToken records a fingerprint for the given subject.
func (s *Store) CreateRefreshToken(ctx context.Context, fingerprint, subject string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (fingerprint, subject, expires_at) VALUES (?, ?, ?)`,
		fingerprint, subject, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken looks up a fingerprint and deletes it in the same
// transaction, enforcing single use. Expired rows are treated as absent.
func (s *Store) ConsumeRefreshToken(ctx context.Context, fingerprint string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin consume: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var subject string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT subject, expires_at FROM refresh_tokens WHERE fingerprint = ?`,
		fingerprint).Scan(&subject, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE fingerprint = ?`, fingerprint); err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit consume: %w", err)
	}

	if !time.Now().Before(expiresAt) {
		return "", ErrTokenNotFound
	}
	return subject, nil
}

// DeleteExpired removes refresh tokens past their expiry. Returns the
// number of rows removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
