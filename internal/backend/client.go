package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"courtslot/internal/domain"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/models"
	"courtslot/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	endpointCourtsByVenue = "courts_by_venue"
	endpointCourtsBySport = "courts_by_sport"
	endpointAvailability  = "availability"
	endpointHold          = "hold"
)

// Session carries the caller's credentials. It is passed explicitly instead
// of being read from ambient storage.
type Session struct {
	Token string
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Client calls the court/booking backend.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	session    Session
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      worker.RetryPolicy
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

var _ domain.Backend = (*Client)(nil)

// NewClient constructs a client with baseURL, API key and extra header.
func NewClient(baseURL, apiKey, apiExtra string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.Component(logger, "backend"),
	}
}

// UseRedisCache configures optional Redis caching for court lookups.
// Availability is never cached.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseRateLimit throttles outbound requests.
func (c *Client) UseRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// UseRetry sets the backoff policy for idempotent lookups.
func (c *Client) UseRetry(policy worker.RetryPolicy) {
	c.retry = policy
}

// WithSession returns a copy of the client acting on behalf of s.
// Cache, limiter and HTTP transport are shared with the parent.
func (c *Client) WithSession(s Session) *Client {
	clone := *c
	clone.session = s
	return &clone
}

// GetCourtsByVenue lists the courts of a venue.
func (c *Client) GetCourtsByVenue(ctx context.Context, venueID string) ([]models.Court, error) {
	endpoint := fmt.Sprintf("%s/api/courts/venue/%s", c.baseURL, url.PathEscape(venueID))
	cacheKey := fmt.Sprintf("courts:venue:%s", venueID)
	return c.getCourts(ctx, endpointCourtsByVenue, endpoint, cacheKey)
}

// GetCourtsBySport lists courts of a sport type, narrowed to a venue when venueID is set.
func (c *Client) GetCourtsBySport(ctx context.Context, sportType, venueID string) ([]models.Court, error) {
	endpoint := fmt.Sprintf("%s/api/courts/sport/%s", c.baseURL, url.PathEscape(sportType))
	if venueID != "" {
		endpoint += "?venueId=" + url.QueryEscape(venueID)
	}
	cacheKey := fmt.Sprintf("courts:sport:%s:%s", sportType, venueID)
	return c.getCourts(ctx, endpointCourtsBySport, endpoint, cacheKey)
}

func (c *Client) getCourts(ctx context.Context, name, endpoint, cacheKey string) ([]models.Court, error) {
	var courts []models.Court
	if c.readCache(ctx, cacheKey, &courts) {
		metrics.IncBackend(name, "cache")
		return courts, nil
	}

	raw, err := c.getWithRetry(ctx, name, endpoint)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(unwrap(raw, "courts"), &courts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	c.writeCache(ctx, cacheKey, courts)
	return courts, nil
}

// GetCourtAvailability fetches live availability for court/date (YYYY-MM-DD).
func (c *Client) GetCourtAvailability(ctx context.Context, courtID, date string) (*models.CourtAvailability, error) {
	endpoint := fmt.Sprintf("%s/api/courts/%s/availability?date=%s", c.baseURL, url.PathEscape(courtID), url.QueryEscape(date))

	raw, err := c.getWithRetry(ctx, endpointAvailability, endpoint)
	if err != nil {
		return nil, err
	}

	var resp models.CourtAvailability
	if err := json.Unmarshal(unwrap(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}
	return &resp, nil
}

// HoldBooking requests a short-term lock on the slots. It is never retried:
// a duplicate hold for one user action is worse than a visible failure.
func (c *Client) HoldBooking(ctx context.Context, req domain.HoldRequest) (*domain.HoldResult, error) {
	endpoint := fmt.Sprintf("%s/api/bookings/hold", c.baseURL)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	raw, err := c.do(httpReq)
	if err != nil {
		metrics.IncBackend(endpointHold, "error")
		return nil, err
	}

	result, err := DecodeHoldResponse(raw)
	if err != nil {
		metrics.IncBackend(endpointHold, "error")
		return nil, err
	}
	if result.Success {
		metrics.IncBackend(endpointHold, "ok")
	} else {
		metrics.IncBackend(endpointHold, "denied")
	}
	return result, nil
}

// DecodeHoldResponse applies the backend's hold contract: only an explicit
// "success": false is a failure. An empty object or body is a success.
func DecodeHoldResponse(raw []byte) (*domain.HoldResult, error) {
	result := &domain.HoldResult{Success: true}
	if len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}

	var body struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		Data    *struct {
			BookingID string `json:"bookingId"`
			ID        string `json:"_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode hold response: %w", err)
	}

	if body.Success != nil && !*body.Success {
		result.Success = false
	}
	result.Message = body.Message
	if body.Data != nil {
		result.BookingID = body.Data.BookingID
		if result.BookingID == "" {
			result.BookingID = body.Data.ID
		}
	}
	return result, nil
}

func (c *Client) getWithRetry(ctx context.Context, name, endpoint string) ([]byte, error) {
	var raw []byte
	err := c.retry.Do(ctx, isRetryable, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		raw, err = c.do(req)
		return err
	})
	if err != nil {
		metrics.IncBackend(name, "error")
		c.logger.Debug().Err(err).Str("endpoint", name).Msg("backend request failed")
		return nil, err
	}
	metrics.IncBackend(name, "ok")
	return raw, nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("court cache write failed")
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}

// unwrap strips the optional {"data": ...} envelope and any of the given
// inner collection keys, returning the payload itself.
func unwrap(raw []byte, keys ...string) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return trimmed
	}
	if inner, ok := envelope["data"]; ok && len(inner) > 0 && string(inner) != "null" {
		return unwrap(inner, keys...)
	}
	for _, k := range keys {
		if inner, ok := envelope[k]; ok {
			return unwrap(inner, keys...)
		}
	}
	return trimmed
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
