package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://www.space-track.org"
	loginPath      = "/ajaxauth/login"

	// maxBodyBytes caps a query response. A full cold-start gp query is
	// tens of megabytes.
	maxBodyBytes = 200 << 20
)

var errUnauthorized = errors.New("session not authorized")

// Provider queries a catalog for element sets.
type Provider interface {
	Query(ctx context.Context, f Filter) ([]RawElementRow, error)
}

// Credentials authenticate against Space-Track.
type Credentials struct {
	Username string
	Password string
}

// SpaceTrackClient queries the Space-Track gp class. The session cookie is
// kept in a cookie jar and refreshed when the server answers 401.
type SpaceTrackClient struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	cache      *Cache
	logger     *slog.Logger
	maxBody    int64

	mu       sync.Mutex
	loggedIn bool
	// widest is the largest lookback cached as a base payload.
	widest time.Duration
}

// NewSpaceTrackClient creates a client for baseURL (the public endpoint when
// empty). When cache is non-nil every successful payload is written to it;
// a payload whose window is at least as wide as any cached before replaces
// the cache's base.
func NewSpaceTrackClient(baseURL string, creds Credentials, cache *Cache, logger *slog.Logger) (*SpaceTrackClient, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &SpaceTrackClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
			Jar:     jar,
		},
		cache:   cache,
		logger:  logger,
		maxBody: maxBodyBytes,
	}, nil
}

// BaseURL returns the configured endpoint.
func (c *SpaceTrackClient) BaseURL() string {
	return c.baseURL
}

// Query logs in if needed and runs the gp query described by f.
// All errors wrap ErrFetch.
func (c *SpaceTrackClient) Query(ctx context.Context, f Filter) ([]RawElementRow, error) {
	body, err := c.fetch(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	rows, err := ParseRows(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if c.cache != nil {
		c.store(body, f.EpochLookback)
	}
	return rows, nil
}

func (c *SpaceTrackClient) store(body []byte, lookback time.Duration) {
	c.mu.Lock()
	base := lookback >= c.widest
	if base {
		c.widest = lookback
	}
	c.mu.Unlock()

	write := c.cache.Write
	if base {
		write = c.cache.WriteBase
	}
	if err := write(body, time.Now()); err != nil {
		c.logger.Warn("failed to cache catalog payload", "base", base, "error", err)
	}
}

// fetch runs the query, logging in first and once more after a 401.
func (c *SpaceTrackClient) fetch(ctx context.Context, f Filter) ([]byte, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, f.Path())
	if !errors.Is(err, errUnauthorized) {
		return body, err
	}

	c.logger.Info("space-track session expired, logging in again")
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, f.Path())
}

func (c *SpaceTrackClient) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("identity", c.creds.Username)
	form.Set("password", c.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// Bad credentials still answer 200 with a JSON error object.
	if strings.Contains(string(body), "Failed") {
		return fmt.Errorf("login rejected: %s", strings.TrimSpace(string(body)))
	}

	c.loggedIn = true
	c.logger.Debug("space-track login ok")
	return nil
}

func (c *SpaceTrackClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, path)
	}

	// Read one extra byte to detect responses over the limit.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("response exceeds %d byte limit", c.maxBody)
	}
	return body, nil
}
