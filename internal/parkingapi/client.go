// Package parkingapi is the booking service's HTTP client for the parking
// inventory.
package parkingapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"parkhub/internal/models"
)

// Client reads lots from the parking service.
type Client struct {
	baseURL    string
	healthURL  string
	httpClient *http.Client

	redis    redis.UniversalClient
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseHealthURL sets the endpoint probed by HealthCheck. The parking service
// serves it on its monitoring port, not under the API base URL.
func (c *Client) UseHealthURL(u string) {
	c.healthURL = u
}

// UseRedisCache enables a read-through cache for lot lookups.
func (c *Client) UseRedisCache(client redis.UniversalClient, ttl time.Duration) {
	c.redis = client
	c.cacheTTL = ttl
}

// GetLot fetches a lot and its spots. An unknown lot yields models.ErrLotNotFound;
// any other failure is a transport error.
func (c *Client) GetLot(ctx context.Context, lotID string) (*models.Lot, error) {
	endpoint := fmt.Sprintf("%s/parking/lots/%s", c.baseURL, url.PathEscape(lotID))
	cacheKey := "parkhub:lot:" + lotID

	var lot models.Lot
	if c.readCache(ctx, cacheKey, &lot) {
		return &lot, nil
	}
	if err := c.doGet(ctx, endpoint, &lot); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, models.ErrLotNotFound
		}
		return nil, models.Transport("get lot "+lotID, err)
	}
	c.writeCache(ctx, cacheKey, lot)
	return &lot, nil
}

// HealthCheck checks that the parking service reports itself healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.healthURL == "" {
		return errors.New("parking health url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Transport("health check", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Transport("health check", fmt.Errorf("http %d", resp.StatusCode))
	}
	return nil
}

var errNotFound = errors.New("http 404")

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
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
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
