// Package reqlinesdk is a minimal Reqline HTTP API client for intake
// surfaces and operator tooling.
package reqlinesdk

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
)

// Client is a minimal Reqline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request is the API request model.
type Request struct {
	ID             string  `json:"id"`
	PublicRef      string  `json:"public_ref"`
	Category       string  `json:"category"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone,omitempty"`
	City           string  `json:"city"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	ClaimantID     *string `json:"claimant_id,omitempty"`
	ClaimantName   *string `json:"claimant_name,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// ClaimResult is the outcome of a claim: the refreshed request plus the
// handoff token. DeliveryBlocked means the claim committed but the private
// delivery was refused.
type ClaimResult struct {
	Request         Request `json:"request"`
	HandoffToken    string  `json:"handoff_token,omitempty"`
	DeliveryBlocked bool    `json:"delivery_blocked,omitempty"`
}

// Specialist is a roster entry.
type Specialist struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Active      bool     `json:"active"`
	Categories  []string `json:"categories,omitempty"`
}

// SubmitInput is the intake payload.
type SubmitInput struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	City        string `json:"city"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Submit files a new client request.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", in, &resp)
	return resp, err
}

// Get fetches a request by public ref or internal id.
func (c *Client) Get(ctx context.Context, ref string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// List returns requests matching the given filters; empty filters match all.
func (c *Client) List(ctx context.Context, status, category string) ([]Request, error) {
	endpoint := "v0/requests"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if category != "" {
		q.Set("category", category)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Claim claims a pending request for the authenticated specialist.
func (c *Client) Claim(ctx context.Context, ref string) (ClaimResult, error) {
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(ref)+"/claim", nil, &resp)
	return resp, err
}

// Done resolves a claimed request as finished.
func (c *Client) Done(ctx context.Context, ref string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(ref)+"/done", nil, &resp)
	return resp, err
}

// Cancel releases a claim with a note and reopens the request.
func (c *Client) Cancel(ctx context.Context, ref, note string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(ref)+"/cancel", map[string]any{"note": note}, &resp)
	return resp, err
}

// MyRequests lists requests currently claimed by the caller.
func (c *Client) MyRequests(ctx context.Context) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, "v0/my/requests", nil, &resp)
	return resp, err
}

// VerifyHandoff resolves a handoff token to its request.
func (c *Client) VerifyHandoff(ctx context.Context, token string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/handoff/verify", map[string]any{"token": token}, &resp)
	return resp, err
}

// UpsertSpecialist registers or updates a roster entry.
func (c *Client) UpsertSpecialist(ctx context.Context, id, displayName string, categories []string) (Specialist, error) {
	body := map[string]any{
		"id":           id,
		"display_name": displayName,
		"categories":   categories,
	}
	var resp Specialist
	err := c.do(ctx, http.MethodPost, "v0/specialists", body, &resp)
	return resp, err
}

// Specialists lists the roster.
func (c *Client) Specialists(ctx context.Context) ([]Specialist, error) {
	var resp []Specialist
	err := c.do(ctx, http.MethodGet, "v0/specialists", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
