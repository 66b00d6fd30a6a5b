// Package history reports play events and listening positions to the
// remote history service. Calls are best-effort: the playback engine
// logs failures and keeps playing.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// How an item came to be playing.
const (
	SourceSelect   = "select"   // explicit user selection
	SourceQueue    = "queue"    // manual next/previous
	SourceAutoplay = "autoplay" // natural advance or failure skip
)

// Recorder records play events and position updates.
type Recorder interface {
	RecordPlay(ctx context.Context, itemID string, episode bool, source string) error
	UpdatePosition(ctx context.Context, itemID string, pos time.Duration, episode bool) error
}

// Client talks to the serverless history endpoints. Authentication is
// session-implicit: the bearer token identifies the user, requests
// carry no user ID.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Recorder = (*Client)(nil)

// NewClient creates a history client for the given endpoint base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

type playRequest struct {
	ItemID    string `json:"itemId"`
	IsEpisode bool   `json:"isEpisode"`
	Source    string `json:"source"`
}

type positionRequest struct {
	ItemID    string  `json:"itemId"`
	Seconds   float64 `json:"seconds"`
	IsEpisode bool    `json:"isEpisode"`
}

// RecordPlay registers that an item started playing.
func (c *Client) RecordPlay(ctx context.Context, itemID string, episode bool, source string) error {
	return c.post(ctx, "/recordPlay", playRequest{
		ItemID:    itemID,
		IsEpisode: episode,
		Source:    source,
	})
}

// UpdatePosition saves the listening position for an item.
func (c *Client) UpdatePosition(ctx context.Context, itemID string, pos time.Duration, episode bool) error {
	return c.post(ctx, "/updatePosition", positionRequest{
		ItemID:    itemID,
		Seconds:   pos.Seconds(),
		IsEpisode: episode,
	})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("history returned status %d", resp.StatusCode)
	}
	return nil
}

// Noop is a Recorder that records nothing, used when no history
// endpoint is configured.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordPlay(context.Context, string, bool, string) error { return nil }

func (Noop) UpdatePosition(context.Context, string, time.Duration, bool) error { return nil }
