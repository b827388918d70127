package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/token"
)

// ErrAuthRejected is returned when a request is still rejected after the
// single refresh-and-retry cycle.
var ErrAuthRejected = errors.New("api: authentication rejected")

// Client issues authenticated REST calls. Auth rejections trigger exactly
// one token refresh and one retry of the original request.
type Client struct {
	base   string
	http   *http.Client
	tokens *token.Manager
	log    *zap.Logger
}

func NewClient(base string, tokens *token.Manager, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		log:    log,
	}
}

func authRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// do sends the request, attaching the bearer token when present. The body
// is a byte slice so the single retry can replay it.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	send := func() (*http.Response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok.Access)
		}
		return c.http.Do(req)
	}

	resp, err := send()
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	if !authRejected(resp.StatusCode) {
		return resp, nil
	}
	_ = resp.Body.Close()

	c.log.Debug("auth rejected, refreshing once", zap.String("path", path))
	if _, err := c.tokens.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", ErrAuthRejected, err)
	}

	resp, err = send()
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	if authRejected(resp.StatusCode) {
		_ = resp.Body.Close()
		return nil, ErrAuthRejected
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}
	resp, err := c.do(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Post replays an arbitrary JSON upload. Used by the offline upload queue.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, headers map[string]string) error {
	resp, err := c.do(ctx, http.MethodPost, endpoint, body, headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("api: POST %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// MessageRecord is one chat message as returned by the reconciliation fetch.
type MessageRecord struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
	IsRead    bool   `json:"isRead"`
}

type messagesResponse struct {
	Success  bool            `json:"success"`
	Messages []MessageRecord `json:"messages"`
}

// Messages fetches the last messages for this pairing.
func (c *Client) Messages(ctx context.Context, deviceID string, limit int) ([]MessageRecord, error) {
	path := fmt.Sprintf("/api/chat/messages/%s?limit=%d", deviceID, limit)
	var out messagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("api: messages fetch unsuccessful")
	}
	return out.Messages, nil
}

// Location is a periodic position upload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	DeviceID  string  `json:"deviceId"`
}

// LocationEndpoint is the fire-and-forget upload path for Location.
const LocationEndpoint = "/api/loc"

func (c *Client) PostLocation(ctx context.Context, loc Location) error {
	return c.doJSON(ctx, http.MethodPost, LocationEndpoint, loc, nil)
}

// Validate checks the current bearer token against the server.
func (c *Client) Validate(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/auth/validate", nil, nil)
}
