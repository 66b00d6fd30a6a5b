// Package storage resolves internal file identifiers to storage view
// URLs. Items ingested through the upload console carry a file ID
// instead of a direct URL; the backend storage service turns that ID
// into a short-lived view URL at play time.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Resolver resolves a storage file ID to a playable view URL.
type Resolver interface {
	ViewURL(ctx context.Context, fileID string) (string, error)
}

// Client resolves file IDs against the storage service HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Verify Client implements Resolver at compile time.
var _ Resolver = (*Client)(nil)

// NewClient creates a storage client. The token is the session bearer
// token; the storage service authorizes view URL minting per session.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type viewResponse struct {
	URL string `json:"url"`
}

// ViewURL asks the storage service for a view URL for the given file ID.
func (c *Client) ViewURL(ctx context.Context, fileID string) (string, error) {
	reqURL := c.baseURL + "/files/" + url.PathEscape(fileID) + "/view"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage returned status %d", resp.StatusCode)
	}

	var result viewResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("storage returned no view url for %s", fileID)
	}

	return result.URL, nil
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, fileID string) (string, error)

func (f ResolverFunc) ViewURL(ctx context.Context, fileID string) (string, error) {
	return f(ctx, fileID)
}
