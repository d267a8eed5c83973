// Package push sends escalation alerts to the guardian's device through
// Firebase Cloud Messaging.
package push

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client wraps the FCM messaging client.
type Client struct {
	messaging *messaging.Client
}

// NewClient initializes FCM with the given service account credentials.
// credentialsFile may be empty to use application-default credentials.
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Println("push: FCM client initialized")
	return &Client{messaging: client}, nil
}

// Send pushes one notification to a device token.
func (c *Client) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}
	if _, err := c.messaging.Send(ctx, message); err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	return nil
}
