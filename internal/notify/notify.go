// Package notify sends operational alerts through ntfy when the realtime
// pipeline degrades, so operators hear about a lost change feed before
// users notice stale feeds.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending pipeline alerts.
type Notifier interface {
	PipelineDegraded(ctx context.Context, from, to string) error
	PipelineStopped(ctx context.Context, reason string) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// PipelineDegraded alerts that change detection switched to a slower mode.
func (c *Client) PipelineDegraded(ctx context.Context, from, to string) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Realtime pipeline degraded"
	message := FormatDegradedMessage(from, to, time.Now())
	tags := c.config.Tags + ",warning"

	return c.send(ctx, title, message, tags, "high")
}

// PipelineStopped alerts that change detection is down entirely.
func (c *Client) PipelineStopped(ctx context.Context, reason string) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Realtime pipeline stopped"
	message := FormatStoppedMessage(reason, time.Now())
	tags := c.config.Tags + ",x"

	return c.send(ctx, title, message, tags, "urgent")
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// PipelineDegraded is a no-op.
func (n *NoopNotifier) PipelineDegraded(_ context.Context, _, _ string) error {
	return nil
}

// PipelineStopped is a no-op.
func (n *NoopNotifier) PipelineStopped(_ context.Context, _ string) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
