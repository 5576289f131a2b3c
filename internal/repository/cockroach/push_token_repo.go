package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/push"
)

// PushTokenRepository persists device push tokens
type PushTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPushTokenRepository(pool *pgxpool.Pool) *PushTokenRepository {
	return &PushTokenRepository{pool: pool}
}

// Store upserts a token, reactivating it if it was previously marked inactive
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	query := `
		INSERT INTO push_tokens (id, user_id, token, token_type, active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (token) DO UPDATE
		SET user_id = $2, token_type = $4, active = true
	`

	_, err := r.pool.Exec(ctx, query, token.ID, token.UserID, token.Token, token.Type)
	if err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}
	return nil
}

// GetByUserID returns all tokens registered for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	query := `
		SELECT id, user_id, token, token_type, active
		FROM push_tokens
		WHERE user_id = $1
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*push.Token
	for rows.Next() {
		t := &push.Token{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Type, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate push tokens: %w", err)
	}
	return tokens, nil
}

// MarkInactive disables a token rejected by the push provider
func (r *PushTokenRepository) MarkInactive(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `UPDATE push_tokens SET active = false WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate push token: %w", err)
	}
	return nil
}
