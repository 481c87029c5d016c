package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by PostgresBackend.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend is a primary key-value backend for shared terminals: values are keyed by
// (profile, key) in crm.client_kv. Values do not expire; ttl is ignored.
//
// Ownership: the caller owns the pool; the backend never closes it.
type PostgresBackend struct {
	db      DB
	profile string
}

// NewPostgresBackend returns a backend scoped to profile.
func NewPostgresBackend(db DB, profile string) (*PostgresBackend, error) {
	if db == nil {
		return nil, errors.New("tokenstore: nil db")
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	return &PostgresBackend{db: db, profile: profile}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

// EnsureSchema creates crm.client_kv when missing.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS crm;
		CREATE TABLE IF NOT EXISTS crm.client_kv (
			profile    text        NOT NULL,
			key        text        NOT NULL,
			value      text        NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (profile, key)
		)
	`)
	return err
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRow(ctx, `
		SELECT value
		FROM crm.client_kv
		WHERE profile = $1 AND key = $2
	`, p.profile, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

func (p *PostgresBackend) Set(ctx context.Context, key, value string, _ time.Duration) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO crm.client_kv (profile, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, p.profile, key, value)
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, `
		DELETE FROM crm.client_kv
		WHERE profile = $1 AND key = $2
	`, p.profile, key)
	return err
}
