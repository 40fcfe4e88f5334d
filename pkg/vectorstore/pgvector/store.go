package pgvector

import (
	"context"
	"errors"
	"fmt"

	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store keeps one table per session index:
//
//	CREATE TABLE session_<id> (id TEXT PRIMARY KEY, embedding VECTOR(dim));
//
// plus a registry row in vector_indexes holding a fingerprint of the
// session key. Every access verifies the fingerprint before touching the
// table. Scores are 1 - cosine distance.
type Store struct {
	pool *pgxpool.Pool
	keys *vectorstore.KeyRing
	cfg  vectorstore.Config
}

var _ vectorstore.Store = (*Store)(nil)

// NewPool opens a pgx pool with the pgvector types registered on every connection.
// The vector extension must already exist (cmd/migrate creates it).
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, keys *vectorstore.KeyRing, cfg vectorstore.Config) *Store {
	return &Store{
		pool: pool,
		keys: keys,
		cfg:  cfg.WithDefaults(),
	}
}

const registryDDL = `
CREATE TABLE IF NOT EXISTS vector_indexes (
    name       TEXT PRIMARY KEY,
    key_check  TEXT NOT NULL,
    dimension  INT NOT NULL,
    index_type TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Init creates the registry table.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, registryDDL); err != nil {
		return fmt.Errorf("create vector registry: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func table(sessionID uuid.UUID) string {
	return pgx.Identifier{vectorstore.IndexName(sessionID)}.Sanitize()
}

func (s *Store) annIndexDDL(sessionID uuid.UUID) string {
	name := pgx.Identifier{vectorstore.IndexName(sessionID) + "_embedding_idx"}.Sanitize()
	switch s.cfg.IndexType {
	case "hnsw":
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, name, table(sessionID))
	case "flat":
		return ""
	default:
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`, name, table(sessionID))
	}
}

// lock serializes DDL on one index across connections and processes.
func lock(ctx context.Context, tx pgx.Tx, name string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name)
	return err
}

// verify checks the registry row for sessionID against the key ring.
func (s *Store) verify(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, sessionID uuid.UUID) error {
	var check string
	err := q.QueryRow(ctx, `SELECT key_check FROM vector_indexes WHERE name = $1`, vectorstore.IndexName(sessionID)).Scan(&check)
	if errors.Is(err, pgx.ErrNoRows) {
		return vectorstore.ErrIndexNotFound
	}
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if !s.keys.Verify(sessionID, check) {
		return vectorstore.ErrKeyMismatch
	}
	return nil
}

func (s *Store) EnsureIndex(ctx context.Context, sessionID uuid.UUID) error {
	name := vectorstore.IndexName(sessionID)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, name); err != nil {
			return fmt.Errorf("lock index %s: %w", name, err)
		}

		tag, err := tx.Exec(ctx, `
INSERT INTO vector_indexes (name, key_check, dimension, index_type)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO NOTHING`, name, s.keys.KeyCheck(sessionID), s.cfg.Dimension, s.cfg.IndexType)
		if err != nil {
			return fmt.Errorf("register index %s: %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return s.verify(ctx, tx, sessionID)
		}

		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, embedding vector(%d) NOT NULL)`,
			table(sessionID), s.cfg.Dimension)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create index table %s: %w", name, err)
		}
		if ann := s.annIndexDDL(sessionID); ann != "" {
			if _, err := tx.Exec(ctx, ann); err != nil {
				return fmt.Errorf("create ann index %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) HasIndex(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vector_indexes WHERE name = $1)`,
		vectorstore.IndexName(sessionID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe index: %w", err)
	}
	return exists, nil
}

func (s *Store) Upsert(ctx context.Context, sessionID uuid.UUID, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.CheckDimension(records, s.cfg.Dimension); err != nil {
		return err
	}
	if err := s.verify(ctx, s.pool, sessionID); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, embedding)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`, table(sessionID))

	for _, chunk := range vectorstore.Batches(records, s.cfg.UpsertBatch) {
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(query, r.ID, pgv.NewVector(r.Vector))
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert %d vectors: %w", len(chunk), err)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, sessionID uuid.UUID, vector []float32, k int) ([]vectorstore.Match, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	if err := s.verify(ctx, s.pool, sessionID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT id, embedding <=> $1 AS distance
FROM %s
ORDER BY distance ASC
LIMIT $2`, table(sessionID))

	rows, err := s.pool.Query(ctx, query, pgv.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		matches = append(matches, vectorstore.Match{ID: id, Score: distanceToScore(distance)})
	}
	return matches, rows.Err()
}

func (s *Store) Delete(ctx context.Context, sessionID uuid.UUID, ids []string) error {
	if err := s.verify(ctx, s.pool, sessionID); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table(sessionID))
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

func (s *Store) DropIndex(ctx context.Context, sessionID uuid.UUID) error {
	name := vectorstore.IndexName(sessionID)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, name); err != nil {
			return fmt.Errorf("lock index %s: %w", name, err)
		}
		if err := s.verify(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table(sessionID))); err != nil {
			return fmt.Errorf("drop index table %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM vector_indexes WHERE name = $1`, name); err != nil {
			return fmt.Errorf("unregister index %s: %w", name, err)
		}
		return nil
	})
}

// distanceToScore maps cosine distance in [0,2] to a similarity in [-1,1].
func distanceToScore(distance float64) float64 {
	score := 1.0 - distance
	if score < -1 {
		score = -1
	}
	if score > 1 {
		score = 1
	}
	return score
}
