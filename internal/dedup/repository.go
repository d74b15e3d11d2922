package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Executor represents the subset of pgx methods required for dedup operations.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// WithExecutor returns a shallow copy using the provided executor (e.g., a transaction).
func (r *Repository) WithExecutor(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// Claim records requestID as processed. It reports false when the id was
// already claimed. Run it inside the transaction that applies the request so
// a rollback releases the claim.
func (r *Repository) Claim(ctx context.Context, requestID string) (bool, error) {
	tag, err := r.executor.Exec(ctx, `
		INSERT INTO processed_requests (request_id)
		VALUES ($1)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
