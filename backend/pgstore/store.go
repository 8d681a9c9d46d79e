// Package pgstore persists backend users, TOTP secrets and backup code
// hashes in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS elevate_users (
	id                  TEXT PRIMARY KEY,
	username            TEXT NOT NULL,
	password_hash       TEXT NOT NULL,
	is_admin            BOOLEAN NOT NULL DEFAULT FALSE,
	is_employee         BOOLEAN NOT NULL DEFAULT FALSE,
	is_contractor       BOOLEAN NOT NULL DEFAULT FALSE,
	verification_status TEXT NOT NULL DEFAULT 'pending',
	two_factor_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
	totp_secret         BYTEA,
	totp_pending        BYTEA,
	totp_last_counter   BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS elevate_users_username_idx ON elevate_users (lower(username));
CREATE TABLE IF NOT EXISTS elevate_backup_codes (
	user_id   TEXT NOT NULL REFERENCES elevate_users (id) ON DELETE CASCADE,
	code_hash BYTEA NOT NULL,
	PRIMARY KEY (user_id, code_hash)
);`

// Store implements [backend.UserProvider].
type Store struct {
	db *pgxpool.Pool
}

var _ backend.UserProvider = (*Store)(nil)

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateUser inserts u. Two-factor fields start disabled.
func (s *Store) CreateUser(ctx context.Context, u backend.UserRecord) error {
	status := u.VerificationStatus
	if status == "" {
		status = backend.VerificationPending
	}
	_, err := s.db.Exec(ctx, `INSERT INTO elevate_users
		(id, username, password_hash, is_admin, is_employee, is_contractor, verification_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.UserID, u.Username, u.PasswordHash, u.IsAdmin, u.IsEmployee, u.IsContractor, status)
	return err
}

const userColumns = `id, username, password_hash, is_admin, is_employee, is_contractor, verification_status, two_factor_enabled`

func scanUser(row pgx.Row) (backend.UserRecord, error) {
	var u backend.UserRecord
	err := row.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.IsEmployee, &u.IsContractor, &u.VerificationStatus, &u.TwoFactorEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.UserRecord{}, backend.ErrUserNotFound
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (backend.UserRecord, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM elevate_users WHERE lower(username) = lower($1)`, username))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (backend.UserRecord, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM elevate_users WHERE id = $1`, userID))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.execOne(ctx, `UPDATE elevate_users SET password_hash = $2 WHERE id = $1`, userID, hash)
}

func (s *Store) UpdateVerificationStatus(ctx context.Context, userID, status string) error {
	return s.execOne(ctx, `UPDATE elevate_users SET verification_status = $2 WHERE id = $1`, userID, status)
}

func (s *Store) GetTOTP(ctx context.Context, userID string) (backend.TOTPRecord, error) {
	var rec backend.TOTPRecord
	err := s.db.QueryRow(ctx, `SELECT totp_secret, totp_pending, two_factor_enabled, totp_last_counter
		FROM elevate_users WHERE id = $1`, userID).
		Scan(&rec.Secret, &rec.PendingSecret, &rec.Enabled, &rec.LastUsedCounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.TOTPRecord{}, backend.ErrUserNotFound
	}
	return rec, err
}

func (s *Store) SetPendingTOTP(ctx context.Context, userID string, secret []byte) error {
	return s.execOne(ctx, `UPDATE elevate_users SET totp_pending = $2 WHERE id = $1`, userID, secret)
}

func (s *Store) EnableTOTP(ctx context.Context, userID string, secret []byte, counter int64) error {
	return s.execOne(ctx, `UPDATE elevate_users
		SET totp_secret = $2, totp_pending = NULL, two_factor_enabled = TRUE, totp_last_counter = $3
		WHERE id = $1`, userID, secret, counter)
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return s.execOne(ctx, `UPDATE elevate_users
		SET totp_secret = NULL, totp_pending = NULL, two_factor_enabled = FALSE, totp_last_counter = 0
		WHERE id = $1`, userID)
}

// UpdateTOTPLastUsedCounter never moves the counter backwards.
func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	return s.execOne(ctx, `UPDATE elevate_users
		SET totp_last_counter = GREATEST(totp_last_counter, $2) WHERE id = $1`, userID, counter)
}

func (s *Store) GetBackupCodes(ctx context.Context, userID string) ([]backend.BackupCodeRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT code_hash FROM elevate_backup_codes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backend.BackupCodeRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec backend.BackupCodeRecord
		copy(rec.Hash[:], raw)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReplaceBackupCodes swaps the whole set in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []backend.BackupCodeRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM elevate_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(codes) > 0 {
		rows := make([][]any, 0, len(codes))
		for _, c := range codes {
			rows = append(rows, []any{userID, c.Hash[:]})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"elevate_backup_codes"}, []string{"user_id", "code_hash"}, pgx.CopyFromRows(rows)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ConsumeBackupCode deletes the matching hash; concurrent consumers race on
// the row and only one sees it removed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM elevate_backup_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash[:])
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrUserNotFound
	}
	return nil
}
