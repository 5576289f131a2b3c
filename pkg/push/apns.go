package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsProvider sends notifications through the Apple Push Notification Service
type APNsProvider struct {
	client   *apns2.Client
	bundleID string
}

// APNsConfig contains token-based authentication settings
type APNsConfig struct {
	KeyPath    string // .p8 private key file
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

// NewAPNsProvider creates an APNs client with token authentication
func NewAPNsProvider(cfg *APNsConfig) (*APNsProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("APNs config is required")
	}
	if cfg.BundleID == "" {
		return nil, fmt.Errorf("BundleID is required")
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsProvider{client: client, bundleID: cfg.BundleID}, nil
}

// Send delivers the notification to the given APNs device tokens
func (p *APNsProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	pl := payload.NewPayload().
		AlertTitle(notification.Title).
		AlertBody(notification.Body).
		Sound(notification.Sound).
		Category(notification.Category)
	for k, v := range notification.Data {
		pl.Custom(k, v)
	}

	result := &SendResult{}
	for _, deviceToken := range tokens {
		res, err := p.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       p.bundleID,
			Priority:    apns2.PriorityHigh,
			PushType:    apns2.PushTypeAlert,
			Payload:     pl,
		})
		if err != nil {
			result.FailureCount++
			continue
		}
		if res.Sent() {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		if res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken {
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
	}
	return result, nil
}
