// Package notify fires the post-publish restart webhook at the process
// serving the local mirror.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notifier posts restart requests to a configured webhook URL.
type Notifier struct {
	url    string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// New creates a notifier. token may be empty for unauthenticated hooks.
func New(url, token string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type payload struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// Restart asks the serving process to restart. Only 200 and 204 count
// as success.
func (n *Notifier) Restart(ctx context.Context) error {
	return n.post(ctx, "restart", false)
}

// Test checks that the webhook endpoint is reachable. Any 4xx response
// still proves a server is answering, so it counts as success here.
func (n *Notifier) Test(ctx context.Context) error {
	return n.post(ctx, "test", true)
}

func (n *Notifier) post(ctx context.Context, action string, lenient bool) error {
	body, err := json.Marshal(payload{Action: action, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		n.logger.Debug("webhook delivered", "action", action, "status", resp.StatusCode)
		return nil
	case lenient && resp.StatusCode >= 400 && resp.StatusCode < 500:
		n.logger.Debug("webhook endpoint reachable", "action", action, "status", resp.StatusCode)
		return nil
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
