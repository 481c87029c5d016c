package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenDBIdleTime = 5 * time.Minute

// tokenDBConfig derives the pool settings for the Postgres token backend. The console keeps a
// handful of connections at most; MinConns never exceeds MaxConns.
func tokenDBConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse CRM_DATABASE_URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	pcfg.MinConns = min(max(cfg.DBMinConns, 0), pcfg.MaxConns)
	pcfg.MaxConnIdleTime = tokenDBIdleTime

	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "crm/" + cfg.Profile
	}
	return pcfg, nil
}

// openTokenDB connects the token backend pool and fails fast when Postgres is unreachable.
func openTokenDB(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := tokenDBConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pingTokenDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingTokenDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
