package tracestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/pg"
)

// PostgresStore is a pgx-backed Store, following the upsert-then-select
// shape of internal/chunkstore.PostgresStore. Spans and the optional
// verification result are stored as JSON columns rather than normalized
// tables since they're read back whole, never queried by field.
type PostgresStore struct {
	db *pg.DB
}

// NewPostgresStore wraps an existing pool. Schema creation is the
// operator's responsibility, same as chunkstore.PostgresStore.
func NewPostgresStore(db *pg.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, trace domain.Trace) error {
	spans, err := json.Marshal(trace.Spans)
	if err != nil {
		return fmt.Errorf("marshaling trace spans: %w", err)
	}
	var verification []byte
	if trace.Verification != nil {
		verification, err = json.Marshal(trace.Verification)
		if err != nil {
			return fmt.Errorf("marshaling trace verification: %w", err)
		}
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO traces (
			id, query, mode, spans, rq, rq_reason_codes, retrieval_decision,
			fallback_outcome, verification, confidence, final, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query,
			mode = EXCLUDED.mode,
			spans = EXCLUDED.spans,
			rq = EXCLUDED.rq,
			rq_reason_codes = EXCLUDED.rq_reason_codes,
			retrieval_decision = EXCLUDED.retrieval_decision,
			fallback_outcome = EXCLUDED.fallback_outcome,
			verification = EXCLUDED.verification,
			confidence = EXCLUDED.confidence,
			final = EXCLUDED.final,
			created_at = EXCLUDED.created_at
	`, trace.ID, trace.Query, trace.Mode, spans, trace.RQ, trace.RQReasonCodes,
		trace.RetrievalDecision, trace.FallbackOutcome, verification, trace.Confidence,
		trace.Final, trace.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting trace: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Trace, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, query, mode, spans, rq, rq_reason_codes, retrieval_decision,
			fallback_outcome, verification, confidence, final, created_at
		FROM traces WHERE id = $1
	`, id)

	var trace domain.Trace
	var spans, verification []byte
	err := row.Scan(&trace.ID, &trace.Query, &trace.Mode, &spans, &trace.RQ, &trace.RQReasonCodes,
		&trace.RetrievalDecision, &trace.FallbackOutcome, &verification, &trace.Confidence,
		&trace.Final, &trace.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Trace{}, false, nil
		}
		return domain.Trace{}, false, fmt.Errorf("scanning trace: %w", err)
	}

	if len(spans) > 0 {
		if err := json.Unmarshal(spans, &trace.Spans); err != nil {
			return domain.Trace{}, false, fmt.Errorf("unmarshaling trace spans: %w", err)
		}
	}
	if len(verification) > 0 {
		trace.Verification = &domain.VerificationResult{}
		if err := json.Unmarshal(verification, trace.Verification); err != nil {
			return domain.Trace{}, false, fmt.Errorf("unmarshaling trace verification: %w", err)
		}
	}
	return trace, true, nil
}

var _ Store = (*PostgresStore)(nil)
