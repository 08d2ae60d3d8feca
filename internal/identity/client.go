package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserInfo is the identity service's view of a user.
type UserInfo struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatarUrl"`
	IsVerified  bool      `json:"isVerified"`
	IsActive    bool      `json:"isActive"`
}

// Client interface for testability
type Client interface {
	GetByID(ctx context.Context, id uuid.UUID) (*UserInfo, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*UserInfo, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

type batchRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type batchResponse struct {
	Users []*UserInfo `json:"users"`
}

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// GetByID fetches a single user. Returns ErrNotFound for unknown IDs.
func (c *HTTPClient) GetByID(ctx context.Context, id uuid.UUID) (*UserInfo, error) {
	url := fmt.Sprintf("%s/api/users/%s", c.baseURL, id)

	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var user UserInfo
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decoding user response: %w", err)
	}
	return &user, nil
}

// GetByIDs fetches a batch of users in one round trip. IDs the service does
// not know are simply absent from the returned map.
func (c *HTTPClient) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*UserInfo, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*UserInfo{}, nil
	}

	url := fmt.Sprintf("%s/api/users/batch", c.baseURL)
	payload, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}

	users := make(map[uuid.UUID]*UserInfo, len(resp.Users))
	for _, u := range resp.Users {
		if u != nil {
			users[u.ID] = u
		}
	}
	return users, nil
}

func (c *HTTPClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying identity request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("identity server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
