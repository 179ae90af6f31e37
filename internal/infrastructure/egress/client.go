package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"go.uber.org/zap"
)

// Client talks to the external broadcast/egress service. The service is
// opaque: start and stop keyed by room, success or failure only.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

var _ ports.EgressService = (*Client)(nil)

func (c *Client) StartBroadcast(ctx context.Context, room domain.RoomName) error {
	return c.post(ctx, room, "start")
}

func (c *Client) StopBroadcast(ctx context.Context, room domain.RoomName) error {
	return c.post(ctx, room, "stop")
}

func (c *Client) post(ctx context.Context, room domain.RoomName, action string) error {
	payload, err := json.Marshal(map[string]string{"room": string(room)})
	if err != nil {
		return fmt.Errorf("failed to marshal egress request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/broadcasts/%s/%s", c.baseURL, room, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build egress request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("egress %s failed: %w", action, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("egress %s returned status %d", action, resp.StatusCode)
	}

	c.logger.Infow("egress call succeeded", "room", room, "action", action)
	return nil
}
