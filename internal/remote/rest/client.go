// Package rest implements remote.Store against a PostgREST-compatible HTTP
// API (the hosted database the finance tracker writes to).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
)

// Config holds REST connection configuration.
type Config struct {
	BaseURL     string // e.g. https://project.example.co
	APIKey      string
	AccessToken string // optional user session token
	Timeout     time.Duration
}

// Client implements remote.Store over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
}

var _ remote.Store = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Insert creates a record. Requests are sent as upserts so that replaying
// a create whose earlier success went unrecorded does not duplicate it.
func (c *Client) Insert(ctx context.Context, table models.Table, data models.Payload) error {
	req, err := c.newRequest(ctx, http.MethodPost, table, nil, data)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal,resolution=merge-duplicates")
	return c.do(req)
}

// Update patches the record with recordID.
func (c *Client) Update(ctx context.Context, table models.Table, recordID string, data models.Payload) error {
	req, err := c.newRequest(ctx, http.MethodPatch, table, filterByID(recordID), data)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")
	return c.do(req)
}

// Delete removes the record with recordID.
func (c *Client) Delete(ctx context.Context, table models.Table, recordID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, table, filterByID(recordID), nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func filterByID(recordID string) url.Values {
	return url.Values{"id": []string{"eq." + recordID}}
}

func (c *Client) newRequest(ctx context.Context, method string, table models.Table, query url.Values, body models.Payload) (*http.Request, error) {
	if err := remote.ValidateTable(table); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.config.BaseURL, url.PathEscape(string(table)))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("apikey", c.config.APIKey)
	}
	token := c.config.AccessToken
	if token == "" {
		token = c.config.APIKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// errorBody is the PostgREST error envelope.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ctxErr)
		}
		if remote.IsConnectivity(err) {
			return remote.Offline(err)
		}
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return decodeError(resp.StatusCode, raw)
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		msg := body.Message
		if body.Details != "" {
			msg += ": " + body.Details
		}
		return &remote.Error{Message: msg, Code: body.Code, Status: status}
	}

	msg := http.StatusText(status)
	if text := strings.TrimSpace(string(raw)); text != "" {
		msg += ": " + text
	}
	return &remote.Error{Message: msg, Status: status}
}
