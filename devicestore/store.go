// Package devicestore persists the client's device-local state in SQLite.
//
// The session view is a cache: it lets a restarted client show something
// before the first refresh, and is always superseded by the server. The
// biometric enrollment never leaves the device.
package devicestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	keyToken     = "session_token"
	keyView      = "session_view"
	keyBiometric = "biometric"
)

// Store implements goElevate.DeviceStore. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	owned bool
}

var _ goElevate.DeviceStore = (*Store)(nil)

// Open opens (creating if needed) the database at dsn and migrates it.
// Use "file:state.db" for a file or "file:x?mode=memory&cache=shared" in
// tests.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New migrates db and wraps it. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Migrate applies the embedded migrations. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("devicestore: migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("devicestore: migrate: %w", err)
	}
	return nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadToken(ctx context.Context) (string, error) {
	v, err := s.get(ctx, keyToken)
	return string(v), err
}

func (s *Store) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		return s.del(ctx, keyToken)
	}
	return s.set(ctx, keyToken, []byte(token))
}

func (s *Store) ClearToken(ctx context.Context) error {
	return s.del(ctx, keyToken)
}

type viewRecord struct {
	Authenticated     bool                `json:"authenticated"`
	TwoFactorEnabled  bool                `json:"twoFactorEnabled"`
	TwoFactorVerified bool                `json:"twoFactorVerified"`
	Identity          *goElevate.Identity `json:"identity,omitempty"`
	FetchedAt         time.Time           `json:"fetchedAt"`
}

func (s *Store) LoadSessionView(ctx context.Context) (goElevate.SessionView, bool, error) {
	raw, err := s.get(ctx, keyView)
	if err != nil || raw == nil {
		return goElevate.SessionView{}, false, err
	}
	var rec viewRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// a corrupt cache is dropped, not fatal
		_ = s.del(ctx, keyView)
		return goElevate.SessionView{}, false, nil
	}
	return goElevate.SessionView{
		Authenticated:     rec.Authenticated,
		TwoFactorEnabled:  rec.TwoFactorEnabled,
		TwoFactorVerified: rec.TwoFactorVerified,
		Identity:          rec.Identity,
		FetchedAt:         rec.FetchedAt,
	}, true, nil
}

func (s *Store) SaveSessionView(ctx context.Context, view goElevate.SessionView) error {
	raw, err := json.Marshal(viewRecord{
		Authenticated:     view.Authenticated,
		TwoFactorEnabled:  view.TwoFactorEnabled,
		TwoFactorVerified: view.TwoFactorVerified,
		Identity:          view.Identity,
		FetchedAt:         view.FetchedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return s.set(ctx, keyView, raw)
}

func (s *Store) ClearSessionView(ctx context.Context) error {
	return s.del(ctx, keyView)
}

type biometricRecord struct {
	Enabled                bool `json:"enabled"`
	RequireOnStartup       bool `json:"requireOnStartup"`
	RequireForTransactions bool `json:"requireForTransactions"`
}

func (s *Store) LoadBiometric(ctx context.Context) (goElevate.BiometricEnrollment, error) {
	raw, err := s.get(ctx, keyBiometric)
	if err != nil || raw == nil {
		return goElevate.BiometricEnrollment{}, err
	}
	var rec biometricRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return goElevate.BiometricEnrollment{}, fmt.Errorf("devicestore: decode biometric: %w", err)
	}
	return goElevate.BiometricEnrollment{
		Enabled:                rec.Enabled,
		RequireOnStartup:       rec.RequireOnStartup,
		RequireForTransactions: rec.RequireForTransactions,
	}.Normalize(), nil
}

func (s *Store) SaveBiometric(ctx context.Context, e goElevate.BiometricEnrollment) error {
	e = e.Normalize()
	raw, err := json.Marshal(biometricRecord{
		Enabled:                e.Enabled,
		RequireOnStartup:       e.RequireOnStartup,
		RequireForTransactions: e.RequireForTransactions,
	})
	if err != nil {
		return err
	}
	return s.set(ctx, keyBiometric, raw)
}

// Wipe removes every stored key, e.g. when the app is reset.
func (s *Store) Wipe(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_state`); err != nil {
		return fmt.Errorf("devicestore: wipe: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM device_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devicestore: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("devicestore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("devicestore: delete %s: %w", key, err)
	}
	return nil
}
