package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/pg"
)

// PostgresStore is a pgx-backed Store, adapted from the teacher's
// tenant-scoped internal/repository/postgres/document.go with the
// tenant_id column dropped (single corpus, per SPEC_FULL.md).
type PostgresStore struct {
	db *pg.DB
}

// NewPostgresStore wraps an existing pool. Schema creation is the
// operator's responsibility (migrations are out of scope, same as the
// teacher).
func NewPostgresStore(db *pg.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const chunkColumns = "id, document_id, content, source, position, metadata"

func (s *PostgresStore) Put(ctx context.Context, chunk domain.Chunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			position = EXCLUDED.position,
			metadata = EXCLUDED.metadata
	`, chunk.ID, chunk.DocumentID, chunk.Content, chunk.Source, chunk.Position, meta)
	if err != nil {
		return fmt.Errorf("upserting chunk: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutBatch(ctx context.Context, chunks []domain.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO chunks (`+chunkColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				content = EXCLUDED.content,
				source = EXCLUDED.source,
				position = EXCLUDED.position,
				metadata = EXCLUDED.metadata
		`, c.ID, c.DocumentID, c.Content, c.Source, c.Position, meta)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting chunks: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Chunk, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
	return scanChunk(row)
}

func (s *PostgresStore) GetBatch(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) All(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY document_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying all chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting chunk: %w", err)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanChunk(r row) (domain.Chunk, error) {
	var c domain.Chunk
	var meta []byte
	if err := r.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Source, &c.Position, &meta); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Chunk{}, ErrNotFound
		}
		return domain.Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshaling chunk metadata: %w", err)
		}
	}
	return c, nil
}

var _ Store = (*PostgresStore)(nil)
