// Package api is the request/response collaborator for session and roster
// snapshots, joining, and out-of-band termination. The live protocol never
// flows through here; everything is plain JSON over HTTP.
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
)

// SessionSnapshot is the fetchable state of a session.
type SessionSnapshot struct {
	ID               string `json:"id"`
	JoinCode         string `json:"join_code"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant_count"`
}

// Participant is one roster entry.
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Online   bool   `json:"online"`
}

// JoinResult carries the credential pair a participant authenticates with
// for the rest of the session.
type JoinResult struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

// Client talks to the quiz API. Host-scoped calls carry the bearer token
// set at construction.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates an API client. token may be empty for participant-only
// usage.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Body)
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}
	return responseBody, nil
}

// GetSession fetches a session snapshot.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	var snapshot SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &snapshot, nil
}

// GetRoster fetches the registered participant roster.
func (c *Client) GetRoster(ctx context.Context, sessionID string) ([]Participant, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/sessions/"+sessionID+"/roster", nil)
	if err != nil {
		return nil, err
	}
	var roster []Participant
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}
	return roster, nil
}

// Join registers a participant and returns the credential pair to persist.
func (c *Client) Join(ctx context.Context, sessionID, nickname string) (*JoinResult, error) {
	body, err := json.Marshal(map[string]string{"nickname": nickname})
	if err != nil {
		return nil, fmt.Errorf("failed to encode join request: %w", err)
	}
	data, err := c.makeRequest(ctx, http.MethodPost, "/sessions/"+sessionID+"/join", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var result JoinResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode join result: %w", err)
	}
	return &result, nil
}

// TerminateSession forces a session to end. It is idempotent: a session
// that is already finished or gone counts as terminated.
func (c *Client) TerminateSession(ctx context.Context, sessionID string) error {
	_, err := c.makeRequest(ctx, http.MethodPost, "/sessions/"+sessionID+"/terminate", nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusConflict) {
			return nil
		}
		return err
	}
	return nil
}
