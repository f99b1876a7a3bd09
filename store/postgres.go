package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a cache shared through a PostgreSQL table. The schema is
// created by Migrate.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and returns the
// cache. Callers run Migrate first when the schema may be missing.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

const (
	lookupSQL = `SELECT translation FROM translation_cache WHERE text_hash = $1 AND namespace = $2`
	upsertSQL = `INSERT INTO translation_cache (text_hash, namespace, key, original, translation, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (text_hash, namespace) DO UPDATE SET
	key = EXCLUDED.key,
	original = EXCLUDED.original,
	translation = EXCLUDED.translation,
	created_at = EXCLUDED.created_at`
	statsSQL = `SELECT COUNT(*), MIN(created_at) FROM translation_cache`
	purgeSQL = `DELETE FROM translation_cache`
)

func (p *Postgres) Lookup(ctx context.Context, namespace, text string) (string, bool, error) {
	var translation string
	err := p.pool.QueryRow(ctx, lookupSQL, Fingerprint(text), namespace).Scan(&translation)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup translation: %w", err)
	}
	return translation, true, nil
}

func (p *Postgres) Put(ctx context.Context, e Entry) error {
	e = normalize(e, time.Now)
	_, err := p.pool.Exec(ctx, upsertSQL,
		e.Fingerprint, e.Namespace, e.Key, e.Original, e.Translation,
		pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("cache translation: %w", err)
	}
	return nil
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var (
		count    int64
		earliest pgtype.Timestamptz
	)
	if err := p.pool.QueryRow(ctx, statsSQL).Scan(&count, &earliest); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	s := Stats{Entries: int(count)}
	if earliest.Valid {
		s.Earliest = earliest.Time
	}
	return s, nil
}

func (p *Postgres) Purge(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, purgeSQL); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
