package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
)

// CallRepository persists call records in CockroachDB
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, call_type, initiator_id, recipient_id, status,
			started_at, settings, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.Type,
		call.InitiatorID,
		call.RecipientID,
		call.Status,
		call.StartedAt,
		call.Settings,
		call.Metadata,
	)

	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// Update writes the mutable lifecycle fields of an existing call
func (r *CallRepository) Update(ctx context.Context, call *domain.Call) error {
	query := `
		UPDATE calls
		SET status = $2,
		    end_reason = $3,
		    answered_at = $4,
		    ended_at = $5,
		    duration = $6
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.Status,
		call.EndReason,
		call.AnsweredAt,
		call.EndedAt,
		call.Duration,
	)

	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, call_type, initiator_id, recipient_id, status,
		       end_reason, started_at, answered_at, ended_at, duration,
		       settings, metadata
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.Type,
		&call.InitiatorID,
		&call.RecipientID,
		&call.Status,
		&call.EndReason,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.Duration,
		&call.Settings,
		&call.Metadata,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// ListByUser returns a user's call history, most recent first
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT call_id, call_type, initiator_id, recipient_id, status,
		       end_reason, started_at, answered_at, ended_at, duration,
		       settings, metadata
		FROM calls
		WHERE initiator_id = $1 OR recipient_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		if err := rows.Scan(
			&call.CallID,
			&call.Type,
			&call.InitiatorID,
			&call.RecipientID,
			&call.Status,
			&call.EndReason,
			&call.StartedAt,
			&call.AnsweredAt,
			&call.EndedAt,
			&call.Duration,
			&call.Settings,
			&call.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}

	return calls, nil
}
