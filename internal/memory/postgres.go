package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists memory records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_key TEXT NOT NULL,
			topics TEXT[] NOT NULL DEFAULT '{}',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
			proxy_source TEXT NOT NULL DEFAULT '',
			sync_state TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner_id, id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_records_owner_content ON memory_records (owner_id, content_key);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_owner_updated ON memory_records (owner_id, last_updated DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Insert takes a per-owner advisory lock for the transaction so writers in
// other processes serialize the same way Engine serializes in-process ones.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.OwnerID); err != nil {
		return fmt.Errorf("owner lock: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO memory_records (id, owner_id, content, content_key, topics, confidence, is_proxy, proxy_source, sync_state, created_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT DO NOTHING`,
		rec.ID,
		rec.OwnerID,
		rec.Content,
		contentKey(rec.Content),
		rec.Topics,
		rec.Confidence,
		rec.IsProxy,
		rec.ProxySource,
		string(rec.SyncState),
		rec.CreatedAt,
		rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Replace(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_records
		 SET content=$3, content_key=$4, topics=$5, confidence=$6, is_proxy=$7, proxy_source=$8, sync_state=$9, last_updated=$10
		 WHERE owner_id=$1 AND id=$2`,
		rec.OwnerID,
		rec.ID,
		rec.Content,
		contentKey(rec.Content),
		rec.Topics,
		rec.Confidence,
		rec.IsProxy,
		rec.ProxySource,
		string(rec.SyncState),
		rec.LastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`DELETE FROM memory_records WHERE owner_id=$1 AND id = ANY($2) RETURNING id`,
		ownerID,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("delete memories: %w", err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect deleted ids: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, content, topics, confidence, is_proxy, proxy_source, sync_state, created_at, last_updated
		 FROM memory_records WHERE owner_id=$1 ORDER BY last_updated DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, content, topics, confidence, is_proxy, proxy_source, sync_state, created_at, last_updated
		 FROM memory_records WHERE owner_id=$1 AND id=$2`,
		ownerID,
		id,
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) SetSyncState(ctx context.Context, ownerID, id string, state SyncState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_records SET sync_state=$3 WHERE owner_id=$1 AND id=$2`,
		ownerID,
		id,
		string(state),
	)
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT owner_id FROM memory_records ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect owners: %w", err)
	}
	return owners, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r     Record
		state string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Content, &r.Topics, &r.Confidence, &r.IsProxy, &r.ProxySource, &state, &r.CreatedAt, &r.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan memory row: %w", err)
	}
	r.SyncState = SyncState(state)
	return r, nil
}
