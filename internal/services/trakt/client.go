package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/plakt/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.trakt.tv"
	apiVersion     = "2"

	requestTimeout    = 30 * time.Second
	maxAttempts       = 3
	defaultRetryAfter = 60 * time.Second
)

// RateLimitError is returned when the retry budget is exhausted on 429s.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// APIError is returned for any non-2xx, non-429 response. These are not
// retried: write calls are not proven idempotent against this API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trakt API returned status %d: %s", e.StatusCode, e.Body)
}

// Client handles communication with the Trakt API. All conceptual
// single-item operations go through the batch endpoints in sync.go.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	tokenStore   TokenStore
	httpClient   *http.Client
	limiter      *rate.Limiter
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *logrus.Logger
}

// NewClient creates a new Trakt API client.
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if err := cfg.RequireTrakt(); err != nil {
		return nil, err
	}

	tokenStore, err := NewFileTokenStore(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return &Client{
		baseURL:      defaultBaseURL,
		clientID:     cfg.TraktClientID,
		clientSecret: cfg.TraktClientSecret,
		tokenStore:   tokenStore,
		httpClient:   &http.Client{Timeout: requestTimeout},
		// Trakt allows 1000 calls per 5 minutes per key; pace well
		// under that so steady-state traffic rarely trips the limit.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
		sleep:   sleepContext,
		logger:  logger,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads the Retry-After hint, falling back to the
// default when absent or unparseable.
func parseRetryAfter(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// do performs an authenticated request with rate-limit handling: a 429
// response sleeps Retry-After+1s and retries up to the attempt budget;
// any other error status fails immediately.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	if !strings.HasPrefix(path, "/oauth") {
		if err := c.ensureValidToken(ctx); err != nil {
			return fmt.Errorf("failed to ensure valid token: %w", err)
		}
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	retryAfter := defaultRetryAfter

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("trakt-api-version", apiVersion)
		req.Header.Set("trakt-api-key", c.clientID)
		if token, err := c.tokenStore.GetToken(); err == nil && token != nil {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}

		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt,
		}).Debug("Making Trakt API request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if attempt == maxAttempts {
				break
			}

			wait := retryAfter + time.Second
			c.logger.WithFields(logrus.Fields{
				"wait":    wait,
				"attempt": attempt,
			}).Warn("Rate limited by Trakt, backing off")

			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
		}

		if result != nil {
			err = json.NewDecoder(resp.Body).Decode(result)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil
	}

	return &RateLimitError{RetryAfter: retryAfter}
}
