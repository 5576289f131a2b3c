// Package push delivers call alerts to user devices over FCM and APNs.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

// Provider sends one notification to a set of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the outcome of a send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the push transport a token belongs to
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token is one device's push registration
type Token struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Token  string    `json:"token"`
	Type   TokenType `json:"type"`
	Active bool      `json:"active"`
}

// TokenRepository stores device push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	MarkInactive(ctx context.Context, token string) error
}

// Ringer alerts a call recipient's devices about an incoming call. It fans
// out to every active token, using the provider matching the token type.
type Ringer struct {
	providers map[TokenType]Provider
	repo      TokenRepository
}

func NewRinger(repo TokenRepository) *Ringer {
	return &Ringer{providers: make(map[TokenType]Provider), repo: repo}
}

// Register installs the provider for a token type
func (r *Ringer) Register(tokenType TokenType, provider Provider) {
	r.providers[tokenType] = provider
}

// Ring notifies the call recipient. Invalid tokens reported by a provider
// are marked inactive so they are skipped next time.
func (r *Ringer) Ring(ctx context.Context, call *domain.Call) error {
	tokens, err := r.repo.GetByUserID(ctx, call.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load push tokens: %w", err)
	}

	notification := &Notification{
		Title:    "Incoming call",
		Body:     incomingCallBody(call),
		Priority: "high",
		Sound:    "ringtone.caf",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"call_id":   call.CallID.String(),
			"caller_id": call.InitiatorID.String(),
			"call_type": string(call.Type),
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
	}

	byType := make(map[TokenType][]string)
	for _, t := range tokens {
		if t.Active {
			byType[t.Type] = append(byType[t.Type], t.Token)
		}
	}

	var lastErr error
	for tokenType, deviceTokens := range byType {
		provider, ok := r.providers[tokenType]
		if !ok {
			continue
		}
		result, err := provider.Send(ctx, notification, deviceTokens)
		if err != nil {
			lastErr = err
			logger.Warn("push send failed",
				zap.String("provider", string(tokenType)), zap.Error(err))
			continue
		}
		for _, invalid := range result.InvalidTokens {
			if err := r.repo.MarkInactive(ctx, invalid); err != nil {
				logger.Warn("failed to deactivate push token", zap.Error(err))
			}
		}
	}
	return lastErr
}

func incomingCallBody(call *domain.Call) string {
	name := call.Metadata.DisplayName
	if name == "" {
		name = "Someone"
	}
	if call.Type == domain.CallTypeVideo {
		return fmt.Sprintf("%s is video calling you", name)
	}
	return fmt.Sprintf("%s is calling you", name)
}
