// Package schedule implements the persistence collaborator contract
// over HTTP: schedule view fetches, mutation submissions and the
// authoritative conflict pre-check.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fleetgrid/internal/model"
)

// Client is an HTTP client for the fleet backend's scheduling API.
// It satisfies intent.Collaborator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration

	// Conflict pre-checks fire on every ghost drop; the limiter keeps
	// a fast-dragging admin from hammering the backend.
	conflictLimiter *rate.Limiter
}

// NewClient constructs a client with baseURL and API key.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
		conflictLimiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// UseRedisCache enables caching of fetched schedule views. Mutations
// bump a version key so stale windows are never served after a write.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

const cacheVersionKey = "schedule:version"

// FetchScheduleView retrieves resources and events for a window.
// Empty arrays are a valid answer and render an empty grid.
func (c *Client) FetchScheduleView(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
	endpoint := fmt.Sprintf("%s/api/v1/schedule?start=%s&end=%s",
		c.baseURL,
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)))

	var view model.ScheduleView
	cacheKey := c.viewCacheKey(ctx, start, end)
	if c.readCache(ctx, cacheKey, &view) {
		return &view, nil
	}

	if err := c.doGet(ctx, endpoint, &view); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, view)
	return &view, nil
}

func (c *Client) SubmitStatusChange(ctx context.Context, eventID int64, status model.Status) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/status", eventID), map[string]any{
		"status": status,
	})
}

func (c *Client) SubmitDateChange(ctx context.Context, eventID int64, newEnd time.Time) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/dates", eventID), map[string]any{
		"new_end": newEnd.Format(time.RFC3339),
	})
}

func (c *Client) SubmitBufferChange(ctx context.Context, eventID int64, minutes int) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/buffer", eventID), map[string]any{
		"buffer_minutes": minutes,
	})
}

func (c *Client) SubmitSplit(ctx context.Context, eventID int64, at time.Time) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/split", eventID), map[string]any{
		"split_at": at.Format(time.RFC3339),
	})
}

func (c *Client) SubmitReassign(ctx context.Context, eventID, resourceID int64, newPrice float64) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/reassign", eventID), map[string]any{
		"resource_id": resourceID,
		"new_price":   newPrice,
	})
}

func (c *Client) SubmitEarlyReturn(ctx context.Context, eventID int64, newEnd time.Time, finalPrice, refundAmount float64, shouldRefund bool) error {
	return c.submit(ctx, fmt.Sprintf("/api/v1/events/%d/early-return", eventID), map[string]any{
		"new_end":       newEnd.Format(time.RFC3339),
		"final_price":   finalPrice,
		"refund_amount": refundAmount,
		"should_refund": shouldRefund,
	})
}

func (c *Client) SubmitCreateMaintenance(ctx context.Context, resourceID int64, start, end time.Time) error {
	return c.submit(ctx, "/api/v1/maintenance", map[string]any{
		"resource_id": resourceID,
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
	})
}

// CheckConflict asks the backend whether an interval collides with an
// existing booking. This is the authoritative gate at creation time;
// the core's own overlap test is advisory feedback only.
func (c *Client) CheckConflict(ctx context.Context, resourceID int64, start, end time.Time, excludeEventID int64) (bool, error) {
	if err := c.conflictLimiter.Wait(ctx); err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("%s/api/v1/conflicts?resource_id=%d&start=%s&end=%s",
		c.baseURL,
		resourceID,
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)))
	if excludeEventID != 0 {
		endpoint += "&exclude=" + strconv.FormatInt(excludeEventID, 10)
	}

	var resp struct {
		HasConflict bool `json:"has_conflict"`
	}
	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return false, err
	}
	return resp.HasConflict, nil
}

// submit POSTs a mutation and bumps the cache version on success.
func (c *Client) submit(ctx context.Context, path string, body map[string]any) error {
	if err := c.doPost(ctx, c.baseURL+path, body, nil); err != nil {
		return err
	}
	c.bumpCacheVersion(ctx)
	return nil
}

func (c *Client) viewCacheKey(ctx context.Context, start, end time.Time) string {
	version := int64(0)
	if c.redis != nil {
		if v, err := c.redis.Get(ctx, cacheVersionKey).Int64(); err == nil {
			version = v
		}
	}
	return fmt.Sprintf("schedule:view:%d:%d:%d", version, start.Unix(), end.Unix())
}

func (c *Client) bumpCacheVersion(ctx context.Context) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, cacheVersionKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to bump schedule cache version")
	}
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
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
