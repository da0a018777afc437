// Package client is a typed HTTP client for the solwatch API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solwatch/service/ledger"
)

// ErrStreamClosed is returned by StreamAlerts when the server ends the stream.
var ErrStreamClosed = errors.New("alert stream closed")

// Stats summarises an address.
type Stats struct {
	Address          string           `json:"address"`
	TransactionCount int64            `json:"transactionCount"`
	Holdings         []ledger.Holding `json:"holdings"`
	Watching         bool             `json:"watching"`
	Subscribers      int              `json:"subscribers"`
}

// Link is an alert button.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// AlertBody is the formatted alert.
type AlertBody struct {
	Address   string                 `json:"address"`
	Label     string                 `json:"label"`
	Signature string                 `json:"signature"`
	Type      ledger.TransactionType `json:"type"`
	Details   ledger.Details         `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
	Text      string                 `json:"text"`
	Links     []Link                 `json:"links"`
}

// Alert is one streamed alert event.
type Alert struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	Alert        AlertBody `json:"alert"`
	PublishedAt  time.Time `json:"published_at"`

	// Raw is the event exactly as received.
	Raw json.RawMessage `json:"-"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the solwatch service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client. Nil httpClient and logger get defaults.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Track starts monitoring address for subscriberID. An empty label defaults
// to the address on the server.
func (c *Client) Track(ctx context.Context, subscriberID, address, label string) (*ledger.TrackedAccount, error) {
	body, err := json.Marshal(map[string]string{
		"subscriber_id": subscriberID,
		"address":       address,
		"label":         label,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var account ledger.TrackedAccount
	if err := c.do(ctx, "POST", "/api/v1/accounts", bytes.NewReader(body), http.StatusCreated, &account); err != nil {
		return nil, err
	}

	c.logger.Debug("account tracked", "address", account.Address, "subscriber", subscriberID)
	return &account, nil
}

// Untrack stops monitoring address for subscriberID.
func (c *Client) Untrack(ctx context.Context, subscriberID, address string) error {
	path := fmt.Sprintf("/api/v1/accounts/%s?subscriber_id=%s", url.PathEscape(address), url.QueryEscape(subscriberID))
	if err := c.do(ctx, "DELETE", path, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("account untracked", "address", address, "subscriber", subscriberID)
	return nil
}

// Accounts lists the accounts subscriberID tracks.
func (c *Client) Accounts(ctx context.Context, subscriberID string) ([]ledger.TrackedAccount, error) {
	var resp struct {
		Accounts []ledger.TrackedAccount `json:"accounts"`
	}
	path := "/api/v1/accounts?subscriber_id=" + url.QueryEscape(subscriberID)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// Stats returns the transaction count and holdings of address.
func (c *Client) Stats(ctx context.Context, address string) (*Stats, error) {
	var stats Stats
	path := fmt.Sprintf("/api/v1/accounts/%s/stats", url.PathEscape(address))
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Transactions lists recorded transactions for address, newest first. A
// non-positive limit uses the server default.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]ledger.TransactionRecord, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/transactions", url.PathEscape(address))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Transactions []ledger.TransactionRecord `json:"transactions"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Replay runs signature through the server's processing pipeline for
// address and returns the outcome (delivered, duplicate or dropped).
func (c *Client) Replay(ctx context.Context, address, signature string) (string, error) {
	body, err := json.Marshal(map[string]string{"signature": signature})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp struct {
		Outcome string `json:"outcome"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/replay", url.PathEscape(address))
	if err := c.do(ctx, "POST", path, bytes.NewReader(body), http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Outcome, nil
}

// Watching lists the addresses with a live watcher.
func (c *Client) Watching(ctx context.Context) ([]string, error) {
	var resp struct {
		Addresses []string `json:"addresses"`
	}
	if err := c.do(ctx, "GET", "/api/v1/watchers", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// StreamAlerts calls fn for every alert delivered to subscriberID until ctx
// is done, fn returns an error, or the server closes the stream.
func (c *Client) StreamAlerts(ctx context.Context, subscriberID string, fn func(*Alert) error) error {
	u := fmt.Sprintf("%s/api/v1/stream/alerts/%s", c.baseURL, url.PathEscape(subscriberID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long lived; only ctx bounds it.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("alert stream connected", "subscriber", subscriberID)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "alert" && data.Len() > 0 {
				raw := []byte(data.String())
				var alert Alert
				if err := json.Unmarshal(raw, &alert); err != nil {
					c.logger.Warn("failed to decode alert", "error", err)
				} else {
					alert.Raw = raw
					if err := fn(&alert); err != nil {
						return err
					}
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read alert stream: %w", err)
	}
	return ErrStreamClosed
}

// Await blocks until an alert for subscriberID satisfies matcher.
func (c *Client) Await(ctx context.Context, subscriberID string, matcher func(*Alert) bool) (*Alert, error) {
	var found *Alert
	errFound := errors.New("found")
	err := c.StreamAlerts(ctx, subscriberID, func(a *Alert) error {
		if matcher(a) {
			found = a
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, nil
	}
	return nil, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
