package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Terminal device-authorization outcomes. Distinct from retryable
// states: pending keeps polling, these do not.
var (
	ErrAuthDenied  = errors.New("device authorization denied or expired")
	ErrAuthTimeout = errors.New("device authorization timed out")
)

// TokenStore defines the interface for storing and retrieving tokens
type TokenStore interface {
	GetToken() (*Token, error)
	SaveToken(token *Token) error
}

// Token represents a Trakt authentication token
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileTokenStore implements TokenStore using a JSON file
type FileTokenStore struct {
	filepath string
}

// NewFileTokenStore creates a new file-based token store
func NewFileTokenStore(filepath string) (*FileTokenStore, error) {
	return &FileTokenStore{filepath: filepath}, nil
}

// GetToken retrieves the token from the file
func (s *FileTokenStore) GetToken() (*Token, error) {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("token file not found")
		}
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}

	return &token, nil
}

// SaveToken saves the token to the file
func (s *FileTokenStore) SaveToken(token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.filepath, data, 0600)
}

// DeviceCodeResponse represents the response from a device code request
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from the token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	CreatedAt    int64  `json:"created_at"`
	TokenType    string `json:"token_type"`
}

// HasToken reports whether a stored token exists.
func (c *Client) HasToken() bool {
	token, err := c.tokenStore.GetToken()
	return err == nil && token != nil && token.AccessToken != ""
}

// DeviceCode starts the device authentication flow.
func (c *Client) DeviceCode(ctx context.Context) (*DeviceCodeResponse, error) {
	body := map[string]string{"client_id": c.clientID}

	var resp DeviceCodeResponse
	if err := c.postOAuth(ctx, "/oauth/device/code", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to get device code: %w", err)
	}
	return &resp, nil
}

// PollDeviceToken polls the token endpoint until the user authorizes the
// device, the code is denied or expires, or expiresIn elapses. A 400
// response means authorization is still pending; a 429 doubles the wait
// before the next poll. This deliberately does not share the rate-limit
// retry wrapper: pending is not throttled.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode string, interval, expiresIn int) (*Token, error) {
	if interval <= 0 {
		interval = 5
	}

	deadline := time.Now().Add(time.Duration(expiresIn) * time.Second)
	body := map[string]string{
		"code":          deviceCode,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}

	for time.Now().Before(deadline) {
		status, data, err := c.postOAuthRaw(ctx, "/oauth/device/token", body)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			var resp TokenResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return nil, fmt.Errorf("failed to decode token response: %w", err)
			}
			token := &Token{
				AccessToken:  resp.AccessToken,
				RefreshToken: resp.RefreshToken,
				ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
			}
			if err := c.tokenStore.SaveToken(token); err != nil {
				return nil, fmt.Errorf("failed to save token: %w", err)
			}
			return token, nil

		case status == http.StatusBadRequest:
			// Authorization pending
			if err := c.sleep(ctx, time.Duration(interval)*time.Second); err != nil {
				return nil, err
			}

		case status == http.StatusTooManyRequests:
			// Polling too fast
			if err := c.sleep(ctx, time.Duration(2*interval)*time.Second); err != nil {
				return nil, err
			}

		case status == http.StatusNotFound, status == http.StatusGone, status == http.StatusTeapot:
			// invalid code, expired, or denied by the user
			return nil, ErrAuthDenied

		default:
			return nil, &APIError{StatusCode: status, Body: string(data)}
		}
	}

	return nil, ErrAuthTimeout
}

// RefreshAccessToken exchanges the refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		return fmt.Errorf("no token to refresh: %w", err)
	}

	body := map[string]string{
		"refresh_token": token.RefreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
	}

	var resp TokenResponse
	if err := c.postOAuth(ctx, "/oauth/token", body, &resp); err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	newToken := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if err := c.tokenStore.SaveToken(newToken); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}

	c.logger.Info("Trakt token refreshed")
	return nil
}

// ensureValidToken refreshes the access token when it is close to
// expiring. No stored token is fine; unauthenticated calls fail at the
// API with a proper status instead.
func (c *Client) ensureValidToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil || token == nil || token.RefreshToken == "" {
		return nil
	}

	if time.Until(token.ExpiresAt) < 24*time.Hour {
		c.logger.Info("Trakt token expires soon, refreshing")
		return c.RefreshAccessToken(ctx)
	}

	return nil
}

// postOAuth posts to an oauth endpoint and decodes a 2xx response.
func (c *Client) postOAuth(ctx context.Context, path string, body, result interface{}) error {
	status, data, err := c.postOAuthRaw(ctx, path, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Body: string(data)}
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// postOAuthRaw posts to an oauth endpoint and returns the raw status and
// body; the device poll loop needs to interpret statuses itself.
func (c *Client) postOAuthRaw(ctx context.Context, path string, body interface{}) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
