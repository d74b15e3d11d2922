// Package sequence numbers outgoing events per menu group so consumers can
// order and de-duplicate what they receive.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrEmptyPartition = errors.New("empty partition key")

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository keeps one counter row per partition in event_sequence. A
// number handed out for a publish that later fails is not reused.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const nextSequenceSQL = `
	INSERT INTO event_sequence AS s (partition_key, last_sequence)
	VALUES ($1, 1)
	ON CONFLICT (partition_key)
	DO UPDATE SET last_sequence = s.last_sequence + 1, updated_at = now()
	RETURNING last_sequence`

// NextSequence returns the next number for groupID, starting at 1.
func (r *Repository) NextSequence(ctx context.Context, groupID string) (int64, error) {
	if groupID == "" {
		return 0, ErrEmptyPartition
	}

	var seq int64
	if err := r.db.QueryRow(ctx, nextSequenceSQL, groupID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next sequence for group %s: %w", groupID, err)
	}
	return seq, nil
}
