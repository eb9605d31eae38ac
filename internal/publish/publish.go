// Package publish delivers approved posts to social networks.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/review"
)

// LogPublisher only logs the post. It is used when no webhook is configured.
type LogPublisher struct{}

// Publish logs p and reports success
func (LogPublisher) Publish(ctx context.Context, p review.Post) error {
	log.Info().
		Str("review", p.RequestID).
		Str("platform", p.Platform).
		Str("account", p.Account).
		Int("attachments", len(p.Attachments)).
		Str("text", p.Text).
		Msg("Publishing post")
	return nil
}

// WebhookPublisher posts the post as JSON to a relay that talks to the
// social networks
type WebhookPublisher struct {
	httpClient *http.Client
	url        string
}

// NewWebhookPublisher creates a publisher for url
func NewWebhookPublisher(url string, timeout time.Duration) *WebhookPublisher {
	return &WebhookPublisher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url: url,
	}
}

// Publish sends p once. Any non-2xx response is a failure.
func (wp *WebhookPublisher) Publish(ctx context.Context, p review.Post) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode post %s: %w", p.RequestID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wp.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.RequestID)

	resp, err := wp.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.RequestID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("publish relay returned status %d for %s: %s", resp.StatusCode, p.RequestID, bytes.TrimSpace(msg))
	}

	log.Info().
		Str("review", p.RequestID).
		Str("platform", p.Platform).
		Int("status", resp.StatusCode).
		Msg("Post delivered to publish relay")
	return nil
}
