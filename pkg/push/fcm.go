package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMProvider sends notifications through Firebase Cloud Messaging
type FCMProvider struct {
	client *messaging.Client
}

// FCMConfig contains configuration for the FCM provider
type FCMConfig struct {
	CredentialsPath string
	CredentialsJSON []byte
	ProjectID       string
}

// NewFCMProvider initializes the Firebase app and messaging client
func NewFCMProvider(ctx context.Context, cfg *FCMConfig) (*FCMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("FCM config is required")
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	default:
		return nil, fmt.Errorf("either CredentialsPath or CredentialsJSON must be provided")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return &FCMProvider{client: client}, nil
}

// Send delivers the notification to the given FCM registration tokens
func (p *FCMProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: notification.Sound,
			},
		},
	}

	response, err := p.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("FCM send failed: %w", err)
	}

	result := &SendResult{
		SuccessCount: response.SuccessCount,
		FailureCount: response.FailureCount,
	}
	for i, resp := range response.Responses {
		if resp.Error != nil && messaging.IsUnregistered(resp.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}
	return result, nil
}
