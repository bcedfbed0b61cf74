package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quizwell/authbridge/pkg/credstore/migrations"
	"github.com/quizwell/authbridge/pkg/slogx"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// SQLite persists the credential as rows keyed by (namespace, key). Use it
// when the host application already carries a SQLite database and a second
// file would be unwelcome; otherwise prefer the Bolt driver.
type SQLite struct {
	db        *sql.DB
	log       *slog.Logger
	namespace string
}

// OpenSQLite opens the database at dsn, applies pending migrations, and
// scopes all reads and writes to the given namespace.
func OpenSQLite(dsn, namespace string, log *slog.Logger) (*SQLite, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credstore: open sqlite db: %w", err)
	}

	s := &SQLite{
		db:        db,
		log:       slogx.Component(log, "credstore"),
		namespace: namespace,
	}

	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) applyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("credstore: migration driver: %w", err)
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("credstore: migration source: %w", err)
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return fmt.Errorf("credstore: migrate instance: %w", err)
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("credstore: apply migrations: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Get() Credential {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT key, value FROM credentials WHERE namespace = ?`, s.namespace)
	if err != nil {
		s.log.Warn("credential read failed, reporting no credential", "err", err)
		return Credential{}
	}
	defer rows.Close()

	var cred Credential
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			s.log.Warn("credential row scan failed", "err", err)
			continue
		}
		switch key {
		case keyToken:
			cred.BearerToken = value
		case keyRefresh:
			cred.RefreshToken = value
		case keyIsGuest:
			cred.IsGuest = value == "true"
		}
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("credential read failed, reporting no credential", "err", err)
		return Credential{}
	}
	return cred
}

func (s *SQLite) Set(bearerToken string, isGuest bool, refreshToken string) {
	cred := normalize(bearerToken, isGuest, refreshToken)
	if !cred.HasToken() {
		s.Clear()
		return
	}

	guest := "false"
	if cred.IsGuest {
		guest = "true"
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Error("credential write failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback() }() // safe to call after commit

	upsert := `INSERT INTO credentials (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	for _, kv := range [][2]string{
		{keyToken, cred.BearerToken},
		{keyIsGuest, guest},
	} {
		if _, err := tx.ExecContext(ctx, upsert, s.namespace, kv[0], kv[1]); err != nil {
			s.log.Error("credential write failed", "key", kv[0], "err", err)
			return
		}
	}

	if cred.RefreshToken == "" {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE namespace = ? AND key = ?`, s.namespace, keyRefresh)
	} else {
		_, err = tx.ExecContext(ctx, upsert, s.namespace, keyRefresh, cred.RefreshToken)
	}
	if err != nil {
		s.log.Error("credential write failed", "key", keyRefresh, "err", err)
		return
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("credential write failed", "err", err)
	}
}

func (s *SQLite) Clear() {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM credentials WHERE namespace = ?`, s.namespace)
	if err != nil {
		s.log.Error("credential clear failed", "err", err)
	}
}
