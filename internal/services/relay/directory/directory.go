// Package directory resolves remote node assertions to known users. It is
// the identity-resolution collaborator of the correlation flow: a SQLite
// registry of node subjects seen during enrollment, consulted synchronously
// when a callback arrives.
package directory

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	apperrors "github.com/warrelis/loginrelay/internal/platform/errors"
	"github.com/warrelis/loginrelay/internal/platform/id"
	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

// ErrSecretRejected indicates a callback that failed the node secret check.
var ErrSecretRejected = apperrors.New(apperrors.CodeSecretRejected, "node secret rejected")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	connection_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_login_at INTEGER
);

CREATE TABLE IF NOT EXISTS node_secret (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	secret_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements the identity directory over SQLite.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens the directory database and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the store clock for deterministic tests.
func (s *Store) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Register enrolls a node subject as a known user, or returns the existing
// record when the subject is already enrolled.
func (s *Store) Register(ctx context.Context, subject, displayName string) (domain.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.User{}, fmt.Errorf("subject is required")
	}

	if existing, err := s.userBySubject(ctx, subject); err == nil {
		return existing, nil
	} else if !stderrors.Is(err, domain.ErrNoMatchingUser) {
		return domain.User{}, err
	}

	userID, err := id.NewID()
	if err != nil {
		return domain.User{}, fmt.Errorf("generate user id: %w", err)
	}
	now := s.clock().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, subject, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, subject, strings.TrimSpace(displayName), toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return domain.User{
		ID:          userID,
		Subject:     subject,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
	}, nil
}

// Resolve maps a node assertion to an enrolled user. Unknown subjects return
// domain.ErrNoMatchingUser. When a node secret is configured, assertions
// must carry it or resolution fails with ErrSecretRejected before any
// lookup. Successful resolution records the login time and the connection
// the assertion arrived on.
func (s *Store) Resolve(ctx context.Context, assertion domain.Assertion) (domain.User, error) {
	if err := s.verifySecret(ctx, assertion.Secret); err != nil {
		return domain.User{}, err
	}

	subject := strings.TrimSpace(assertion.Subject)
	if subject == "" {
		return domain.User{}, domain.ErrNoMatchingUser
	}
	user, err := s.userBySubject(ctx, subject)
	if err != nil {
		return domain.User{}, err
	}

	now := s.clock().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, connection_url = ?, updated_at = ? WHERE id = ?`,
		toMillis(now), strings.TrimSpace(assertion.ConnectionURL), toMillis(now), user.ID,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("record login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// SetNodeSecret stores the shared callback secret as a bcrypt hash. An empty
// secret clears the check, leaving callbacks open.
func (s *Store) SetNodeSecret(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM node_secret WHERE id = 1`)
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash node secret: %w", err)
	}
	now := toMillis(s.clock())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_secret (id, secret_hash, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET secret_hash = excluded.secret_hash, updated_at = excluded.updated_at`,
		string(hash), now,
	)
	return err
}

func (s *Store) verifySecret(ctx context.Context, secret string) error {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT secret_hash FROM node_secret WHERE id = 1`).Scan(&hash)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load node secret: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return ErrSecretRejected
	}
	return nil
}

func (s *Store) userBySubject(ctx context.Context, subject string) (domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	var lastLoginAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, display_name, created_at, updated_at, last_login_at
		FROM users WHERE subject = ?`,
		subject,
	).Scan(&user.ID, &user.Subject, &user.DisplayName, &createdAt, &updatedAt, &lastLoginAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNoMatchingUser
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	if lastLoginAt.Valid {
		at := fromMillis(lastLoginAt.Int64)
		user.LastLoginAt = &at
	}
	return user, nil
}

// UserByID returns an enrolled user by id. Missing users return
// domain.ErrNoMatchingUser.
func (s *Store) UserByID(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	var lastLoginAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, display_name, created_at, updated_at, last_login_at
		FROM users WHERE id = ?`,
		userID,
	).Scan(&user.ID, &user.Subject, &user.DisplayName, &createdAt, &updatedAt, &lastLoginAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNoMatchingUser
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	if lastLoginAt.Valid {
		at := fromMillis(lastLoginAt.Int64)
		user.LastLoginAt = &at
	}
	return user, nil
}
