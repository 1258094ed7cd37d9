// ABOUTME: HTTP client for the mem0 item-store collaborator
// ABOUTME: Bearer-authenticated JSON CRUD and search over remote memory items

package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the hosted mem0 API endpoint.
const DefaultBaseURL = "https://api.basic.tech/mem0"

// Item is the wire representation of a stored memory item. Content is the
// encrypted blob; encoding/json carries []byte fields as base64 strings,
// which is the format the API expects.
type Item struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Domain      string         `json:"domain"`
	ContentType string         `json:"content_type"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	Content     []byte         `json:"content"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Version     int            `json:"version"`
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string

	// HTTPClient overrides the default client (30s timeout) when set.
	HTTPClient *http.Client
}

// Client talks to the mem0 HTTP API. It performs no retries; transient
// failures surface immediately and retry policy belongs to the caller's
// transport layer.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a mem0 client from the given config.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  slog.Default().With("component", "mem0"),
	}
}

// CreateItem stores a new item and returns the stored representation.
func (c *Client) CreateItem(ctx context.Context, item *Item) (*Item, error) {
	resp, err := c.do(ctx, http.MethodPost, "/memory", nil, item)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("storing item", resp)
	}

	var created Item
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding stored item: %w", err)
	}
	c.logger.Debug("stored item", "id", created.ID, "user", created.UserID)
	return &created, nil
}

// GetItem fetches an item by ID. Returns (nil, nil) when the item is
// absent (any 4xx response).
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	resp, err := c.do(ctx, http.MethodGet, "/memory/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("fetching item", resp)
	}

	var item Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &item, nil
}

// UpdateItem patches the given fields of an item and returns the updated
// representation. The caller is responsible for including the incremented
// version field.
func (c *Client) UpdateItem(ctx context.Context, id string, fields map[string]any) (*Item, error) {
	resp, err := c.do(ctx, http.MethodPatch, "/memory/"+url.PathEscape(id), nil, fields)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("updating item", resp)
	}

	var updated Item
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("decoding updated item: %w", err)
	}
	c.logger.Debug("updated item", "id", updated.ID, "version", updated.Version)
	return &updated, nil
}

// DeleteItem removes an item. Returns false when the item was already
// absent (any 4xx response); deleting a missing item is not an error.
func (c *Client) DeleteItem(ctx context.Context, id string) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/memory/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, statusError("deleting item", resp)
	}

	c.logger.Debug("deleted item", "id", id)
	return true, nil
}

// SearchItems runs a text search over a user's items, optionally scoped to
// a domain. Match semantics are the collaborator's contract.
func (c *Client) SearchItems(ctx context.Context, userID, query, domain string, limit int) ([]*Item, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("q", query)
	if domain != "" {
		params.Set("domain", domain)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	return c.listItems(ctx, "/memory/search", params, "searching items")
}

// ListByDomain returns a user's items within one domain.
func (c *Client) ListByDomain(ctx context.Context, userID, domain string, limit int) ([]*Item, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("domain", domain)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	return c.listItems(ctx, "/memory", params, "listing items by domain")
}

func (c *Client) listItems(ctx context.Context, path string, params url.Values, op string) ([]*Item, error) {
	resp, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(op, resp)
	}

	var items []*Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding item list: %w", err)
	}
	return items, nil
}

// do builds and sends one request with the bearer credential attached.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling mem0: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	return fmt.Errorf("%s: mem0 returned %s", op, resp.Status)
}
